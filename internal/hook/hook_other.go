//go:build !darwin || !cgo

package hook

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

// New returns Unsupported on platforms without an event tap.
func New(_ domain.Notifier, _ *zap.Logger) (domain.Hook, error) {
	return Unsupported{}, domain.ErrUnsupported
}

// NewWithConfig is New with explicit timings.
func NewWithConfig(n domain.Notifier, logger *zap.Logger, _ Config) (domain.Hook, error) {
	return New(n, logger)
}

// Supported reports whether this build can intercept mouse events.
func Supported() bool {
	return false
}
