package infra

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

// LaunchAgent plist template. Runs in the user's Aqua session so the
// event tap sees real input.
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{xml .Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{xml .ExecutablePath}}</string>
        <string>run</string>
        <string>--start</string>
        <string>--threshold</string>
        <string>{{.ThresholdMs}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>LimitLoadToSessionType</key>
    <string>Aqua</string>

    <key>StandardOutPath</key>
    <string>{{xml .LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{xml .ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Interactive</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

var thresholdArg = regexp.MustCompile(`<string>--threshold</string>\s*<string>(\d+)</string>`)

var plistFuncs = template.FuncMap{"xml": escapeXML}

// escapeXML makes s safe inside a plist <string> element.
func escapeXML(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

type plistConfig struct {
	Label          string
	ExecutablePath string
	ThresholdMs    uint64
	LogPath        string
	ErrorLogPath   string
}

// LaunchAgent implements domain.AutostartManager with a user LaunchAgent.
type LaunchAgent struct {
	mode         *ExecModeConfig
	logPath      string
	errorLogPath string
	runner       CommandRunner
	logger       *zap.Logger
}

// NewAutostart returns the LaunchAgent manager on macOS and
// UnsupportedAutostart elsewhere.
func NewAutostart(mode *ExecModeConfig, logPath, errorLogPath string, logger *zap.Logger) domain.AutostartManager {
	if runtime.GOOS != "darwin" {
		return UnsupportedAutostart{}
	}
	return NewLaunchAgent(mode, logPath, errorLogPath, &RealCommandRunner{}, logger)
}

// NewLaunchAgent creates a manager with an injectable command runner.
func NewLaunchAgent(mode *ExecModeConfig, logPath, errorLogPath string, runner CommandRunner, logger *zap.Logger) *LaunchAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LaunchAgent{
		mode:         mode,
		logPath:      logPath,
		errorLogPath: errorLogPath,
		runner:       runner,
		logger:       logger,
	}
}

// PlistPath returns the plist file path.
func (m *LaunchAgent) PlistPath() string {
	return m.mode.PlistPath
}

// generatePlistContent creates plist content for the given threshold.
func (m *LaunchAgent) generatePlistContent(thresholdMs uint64) ([]byte, error) {
	config := plistConfig{
		Label:          LaunchdLabel,
		ExecutablePath: m.mode.BinaryPath,
		ThresholdMs:    thresholdMs,
		LogPath:        m.logPath,
		ErrorLogPath:   m.errorLogPath,
	}

	tmpl, err := template.New("plist").Funcs(plistFuncs).Parse(launchAgentTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Status reports whether the plist is installed and its threshold.
func (m *LaunchAgent) Status() domain.AutostartStatus {
	content, err := os.ReadFile(m.mode.PlistPath)
	if err != nil {
		return domain.AutostartStatus{PlistPath: m.mode.PlistPath}
	}
	st := domain.AutostartStatus{Enabled: true, PlistPath: m.mode.PlistPath}
	if match := thresholdArg.FindSubmatch(content); match != nil {
		st.ThresholdMs, _ = strconv.ParseUint(string(match[1]), 10, 64)
	}
	return st
}

// Enable writes and loads the plist. An installed plist with different
// content is unloaded and replaced.
func (m *LaunchAgent) Enable(thresholdMs uint64) error {
	if err := m.mode.RequireUserSession(); err != nil {
		return err
	}
	if err := os.MkdirAll(m.mode.PlistDir, 0755); err != nil {
		return err
	}

	content, err := m.generatePlistContent(thresholdMs)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}

	if current, err := os.ReadFile(m.mode.PlistPath); err == nil {
		if bytes.Equal(current, content) {
			return nil
		}
		// Unload first (ignore errors if not loaded)
		_ = m.unload()
	}

	if err := os.WriteFile(m.mode.PlistPath, content, 0644); err != nil {
		return err
	}
	if err := m.load(); err != nil {
		return fmt.Errorf("launchctl load %s: %w", m.mode.PlistPath, err)
	}
	m.logger.Info("autostart enabled",
		zap.String("plist", m.mode.PlistPath),
		zap.Uint64("threshold_ms", thresholdMs))
	return nil
}

// Disable unloads and removes the plist.
func (m *LaunchAgent) Disable() error {
	if _, err := os.Stat(m.mode.PlistPath); os.IsNotExist(err) {
		return nil
	}
	_ = m.unload()
	if err := os.Remove(m.mode.PlistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	m.logger.Info("autostart disabled", zap.String("plist", m.mode.PlistPath))
	return nil
}

// load loads the plist using launchctl.
// `launchctl load` is deprecated but still works for per-user agents.
func (m *LaunchAgent) load() error {
	return m.runner.Run("launchctl", "load", "-w", m.mode.PlistPath)
}

func (m *LaunchAgent) unload() error {
	return m.runner.Run("launchctl", "unload", m.mode.PlistPath)
}

// UnsupportedAutostart is used where LaunchAgents do not exist.
type UnsupportedAutostart struct{}

func (UnsupportedAutostart) Status() domain.AutostartStatus { return domain.AutostartStatus{} }
func (UnsupportedAutostart) Enable(uint64) error            { return domain.ErrUnsupported }
func (UnsupportedAutostart) Disable() error                 { return domain.ErrUnsupported }

var (
	_ domain.AutostartManager = (*LaunchAgent)(nil)
	_ domain.AutostartManager = UnsupportedAutostart{}
)
