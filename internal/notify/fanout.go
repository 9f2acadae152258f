package notify

import "github.com/eliteGoblin/clickguard/internal/domain"

type fanout []domain.Notifier

// Fanout delivers every event to each non-nil notifier in order.
func Fanout(notifiers ...domain.Notifier) domain.Notifier {
	out := make(fanout, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (f fanout) NotifyBlocked(ev domain.BlockedEvent) {
	for _, n := range f {
		n.NotifyBlocked(ev)
	}
}

func (f fanout) NotifyStatusChanged(status domain.FilterStatus) {
	for _, n := range f {
		n.NotifyStatusChanged(status)
	}
}
