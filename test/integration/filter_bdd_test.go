//go:build integration

package integration

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/api"
	"github.com/eliteGoblin/clickguard/internal/debounce"
	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/notify"
	"github.com/eliteGoblin/clickguard/internal/usecase"
)

// simulatedHook runs the real debounce state but takes presses from the test
// instead of the OS.
type simulatedHook struct {
	mu       sync.Mutex
	notifier domain.Notifier
	state    *debounce.State
	running  bool
}

func (h *simulatedHook) Start(ms uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return domain.ErrAlreadyRunning
	}
	h.state = debounce.NewState(ms)
	h.running = true
	return nil
}

func (h *simulatedHook) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	return nil
}

func (h *simulatedHook) SetThreshold(ms uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.SetThreshold(ms)
	return nil
}

func (h *simulatedHook) BlockedClicks() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == nil {
		return 0
	}
	return h.state.Blocked()
}

// press reports whether the press was let through.
func (h *simulatedHook) press(button domain.Button, at time.Time) bool {
	h.mu.Lock()
	v := h.state.Evaluate(button, at)
	h.mu.Unlock()
	if v.Blocked {
		h.notifier.NotifyBlocked(domain.BlockedEvent{DeltaMs: v.ElapsedMs, Button: button})
	}
	return !v.Blocked
}

const blockedMetrics = `
# HELP clickguard_blocked_clicks_total Button presses suppressed as switch bounce.
# TYPE clickguard_blocked_clicks_total counter
clickguard_blocked_clicks_total{button="left"} 1
clickguard_blocked_clicks_total{button="other"} 0
clickguard_blocked_clicks_total{button="right"} 0
`

var _ = Describe("Mouse filter over the local API", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		service *usecase.MouseFilterService
		client  *api.Client
		reg     *prometheus.Registry

		hooksMu sync.Mutex
		hooks   []*simulatedHook
		hookErr error
	)

	latestHook := func() *simulatedHook {
		hooksMu.Lock()
		defer hooksMu.Unlock()
		Expect(hooks).NotTo(BeEmpty())
		return hooks[len(hooks)-1]
	}

	hookCount := func() int {
		hooksMu.Lock()
		defer hooksMu.Unlock()
		return len(hooks)
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		hooks = nil
		hookErr = nil

		factory := func(n domain.Notifier) (domain.Hook, error) {
			hooksMu.Lock()
			defer hooksMu.Unlock()
			if hookErr != nil {
				return nil, hookErr
			}
			h := &simulatedHook{notifier: n}
			hooks = append(hooks, h)
			return h, nil
		}

		reg = prometheus.NewRegistry()
		hub := notify.NewHub()
		service = usecase.NewMouseFilterService(factory, zap.NewNop())
		service.Attach(notify.Fanout(hub, notify.NewMetrics(reg)))

		opts := api.DefaultOptions()
		opts.Version = "integration"
		opts.Metrics = reg
		server := api.NewServer(service, nil, hub, opts, zap.NewNop())

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		go func() { _ = server.Serve(ctx, ln) }()

		client = api.NewClient(ln.Addr().String())
		Eventually(func() error {
			_, err := client.Health(ctx)
			return err
		}).Should(Succeed())
	})

	AfterEach(func() {
		service.Shutdown()
		cancel()
	})

	Describe("Start", func() {
		Context("when the filter is stopped", func() {
			It("should install a hook with the requested threshold", func() {
				status, err := client.Start(ctx, 80)
				Expect(err).NotTo(HaveOccurred())
				Expect(status).To(Equal(domain.FilterStatus{Running: true, ThresholdMs: 80}))
				Expect(hookCount()).To(Equal(1))
			})
		})

		Context("when the filter is already running", func() {
			It("should reconfigure the existing hook instead of installing another", func() {
				_, err := client.Start(ctx, 80)
				Expect(err).NotTo(HaveOccurred())

				status, err := client.Start(ctx, 150)
				Expect(err).NotTo(HaveOccurred())
				Expect(status.ThresholdMs).To(Equal(uint64(150)))
				Expect(hookCount()).To(Equal(1))
			})
		})

		Context("when the platform has no hook", func() {
			It("should report unsupported and stay stopped", func() {
				hookErr = domain.ErrUnsupported

				_, err := client.Start(ctx, 100)
				Expect(err).To(MatchError(domain.ErrUnsupported))

				status, err := client.Status(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(status.Running).To(BeFalse())
			})
		})
	})

	Describe("Filtering", func() {
		It("should block bounces per button and stream them to watchers", func() {
			events := make(chan api.Event, 16)
			watchCtx, stopWatch := context.WithCancel(ctx)
			defer stopWatch()
			go func() {
				defer GinkgoRecover()
				_ = client.Watch(watchCtx, func(ev api.Event) error {
					events <- ev
					return nil
				})
			}()

			// initial snapshot proves the stream is subscribed
			var first api.Event
			Eventually(events).Should(Receive(&first))
			Expect(first.Event).To(Equal(notify.EventStatusChanged))

			_, err := client.Start(ctx, 100)
			Expect(err).NotTo(HaveOccurred())

			h := latestHook()
			t0 := time.Now()
			Expect(h.press(domain.ButtonLeft, t0)).To(BeTrue())
			Expect(h.press(domain.ButtonLeft, t0.Add(30*time.Millisecond))).To(BeFalse())
			Expect(h.press(domain.ButtonRight, t0.Add(40*time.Millisecond))).To(BeTrue())
			Expect(h.press(domain.ButtonLeft, t0.Add(200*time.Millisecond))).To(BeTrue())

			var blocked domain.BlockedEvent
			Eventually(func() bool {
				for {
					select {
					case ev := <-events:
						if ev.Event != notify.EventClickBlocked {
							continue
						}
						b, err := ev.Blocked()
						Expect(err).NotTo(HaveOccurred())
						blocked = b
						return true
					default:
						return false
					}
				}
			}).Should(BeTrue())
			Expect(blocked).To(Equal(domain.BlockedEvent{DeltaMs: 30, Button: domain.ButtonLeft}))

			status, err := client.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.BlockedClicks).To(Equal(uint64(1)))
			Expect(testutil.GatherAndCompare(reg, strings.NewReader(blockedMetrics), "clickguard_blocked_clicks_total")).To(Succeed())
		})
	})

	Describe("Stop", func() {
		It("should keep the blocked count after stopping", func() {
			_, err := client.Start(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			h := latestHook()
			t0 := time.Now()
			h.press(domain.ButtonLeft, t0)
			h.press(domain.ButtonLeft, t0.Add(10*time.Millisecond))
			h.press(domain.ButtonLeft, t0.Add(20*time.Millisecond))

			status, err := client.Stop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Running).To(BeFalse())
			Expect(status.BlockedClicks).To(Equal(uint64(2)))
		})

		It("should report not running when already stopped", func() {
			_, err := client.Stop(ctx)
			Expect(err).To(MatchError(domain.ErrNotRunning))
		})
	})

	Describe("UpdateThreshold", func() {
		It("should store the threshold while stopped", func() {
			status, err := client.UpdateThreshold(ctx, 40)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(domain.FilterStatus{ThresholdMs: 40}))
			Expect(hookCount()).To(BeZero())
		})

		It("should change the live window of a running filter", func() {
			_, err := client.Start(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.UpdateThreshold(ctx, 20)
			Expect(err).NotTo(HaveOccurred())

			h := latestHook()
			t0 := time.Now()
			Expect(h.press(domain.ButtonOther, t0)).To(BeTrue())
			Expect(h.press(domain.ButtonOther, t0.Add(30*time.Millisecond))).To(BeTrue())
		})
	})
})
