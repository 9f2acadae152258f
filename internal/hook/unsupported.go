package hook

import "github.com/eliteGoblin/clickguard/internal/domain"

// Unsupported is the hook for platforms with no interception facility.
// Every operation fails with ErrUnsupported.
type Unsupported struct{}

func (Unsupported) Start(uint64) error        { return domain.ErrUnsupported }
func (Unsupported) Stop() error               { return domain.ErrUnsupported }
func (Unsupported) SetThreshold(uint64) error { return domain.ErrUnsupported }
func (Unsupported) BlockedClicks() uint64     { return 0 }
