// Package main is the CLI entry point for clickguard.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/clickguard/internal/config"
	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clickguard",
	Short: "Mouse click debouncer - suppresses double clicks from worn switches",
	Long: `clickguard filters mouse button presses that arrive too soon after the
previous press of the same button. A worn switch bounces and registers one
physical click as two; clickguard swallows the second one.

The filter runs inside a background daemon ("clickguard run"). The other
commands talk to that daemon over a local API.`,
	Version:      Version,
	SilenceUsage: true,
}

var (
	configPath  string
	jsonOutput  bool
	thresholdMs uint64
	startOnRun  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the clickguard daemon in the foreground",
	Long: `Runs the daemon that owns the mouse filter and serves the local API.
With --start the filter is installed as soon as the daemon is up.
Logs go to the files named in the config.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start filtering clicks",
	Long: `Starts the mouse filter with the given threshold. If the filter is
already running the threshold is updated instead. If no daemon is running,
one is launched in the background first.`,
	Args: cobra.NoArgs,
	RunE: runStartFilter,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop filtering clicks",
	Args:  cobra.NoArgs,
	RunE:  runStopFilter,
}

var thresholdCmd = &cobra.Command{
	Use:   "threshold <ms>",
	Short: "Change the debounce threshold of the running filter",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreshold,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show filter status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream filter events until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Manage starting clickguard at login",
}

var autostartEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Install a LaunchAgent that starts the filter at login",
	Args:  cobra.NoArgs,
	RunE:  runAutostartEnable,
}

var autostartDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Remove the login LaunchAgent",
	Args:  cobra.NoArgs,
	RunE:  runAutostartDisable,
}

var autostartStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether clickguard starts at login",
	Args:  cobra.NoArgs,
	RunE:  runAutostartStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   runVersion,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file (toml, yaml or json)")

	runCmd.Flags().BoolVar(&startOnRun, "start", false, "Start the filter once the daemon is up")
	runCmd.Flags().Uint64Var(&thresholdMs, "threshold", domain.DefaultThresholdMs, "Threshold in ms used with --start")
	startCmd.Flags().Uint64Var(&thresholdMs, "threshold", domain.DefaultThresholdMs, "Minimum gap in ms between two presses of a button")
	autostartEnableCmd.Flags().Uint64Var(&thresholdMs, "threshold", domain.DefaultThresholdMs, "Threshold in ms applied at login")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	watchCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")
	autostartStatusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output autostart status as JSON")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	autostartCmd.AddCommand(autostartEnableCmd)
	autostartCmd.AddCommand(autostartDisableCmd)
	autostartCmd.AddCommand(autostartStatusCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(thresholdCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// daemonAddr prefers the address the running daemon registered, falling
// back to the configured listen address.
func daemonAddr(cfg *config.Config) string {
	registry := infra.NewFileRegistry(cfg.RegistryPath(), infra.NewProcessManager())
	if alive, err := registry.IsAlive(); err == nil && alive {
		if info, err := registry.Get(); err == nil && info != nil && info.ListenAddr != "" {
			return info.ListenAddr
		}
	}
	return cfg.Listen
}

func parseThreshold(s string) (uint64, error) {
	ms, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q: expected a whole number of milliseconds", s)
	}
	return ms, nil
}

// createLogger builds the daemon logger. The returned level can be changed
// at runtime.
func createLogger(cfg *config.Config) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if l, err := cfg.Level(); err == nil {
		level.SetLevel(l)
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.OutputPaths = []string{cfg.LogPath}
	zc.ErrorOutputPaths = []string{cfg.ErrorLogPath}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction(zap.IncreaseLevel(level))
	}
	return logger, level
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("clickguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
