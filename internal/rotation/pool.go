// Package rotation manages the pool of sender identities used by bulk
// delivery: round-robin channel selection with per-channel rate limits,
// round-robin egress proxy selection, and health tracking with automatic
// recovery probes for both rings.
package rotation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoHealthyChannels is returned when every channel in the pool is flagged
// unhealthy and none is due for a recovery probe.
var ErrNoHealthyChannels = errors.New("no healthy channels available")

// ErrNoHealthyProxies is returned when proxies are configured but every one
// is flagged unhealthy and none is due for a recovery probe.
var ErrNoHealthyProxies = errors.New("no healthy proxies available")

// ErrNoChannels is returned when the pool was constructed empty.
var ErrNoChannels = errors.New("rotation pool requires at least one channel")

// member is one rotating identity (a sender channel or an egress proxy) with
// its health state. Only channels carry a limiter; proxies are not rate
// limited on their own.
type member struct {
	name    string
	limiter *rate.Limiter

	// guarded by Pool.mu
	healthy     bool
	failures    int
	unhealthyAt time.Time
	lastProbe   time.Time
	totalSent   int64
	totalFailed int64
}

// Pick is one acquired channel/proxy pairing. Proxy is empty when the pool
// has no proxies configured.
type Pick struct {
	Channel string
	Proxy   string
}

// PoolOptions configures a rotation Pool.
type PoolOptions struct {
	// Channels are the sender identities in rotation order.
	Channels []string

	// Proxies are the egress proxies in rotation order. Optional; with no
	// proxies every Pick carries an empty Proxy.
	Proxies []string

	// Rate is the per-channel sustained send rate (messages per second).
	Rate float64

	// Burst is the per-channel burst allowance.
	Burst int

	// UnhealthyAfter flags a channel or proxy unhealthy after this many
	// consecutive failures.
	UnhealthyAfter int

	// RecoveryInterval is how long an unhealthy channel or proxy sits out
	// before a single probe send is allowed through again.
	RecoveryInterval time.Duration

	Logger *slog.Logger
}

// Pool rotates sends across channels and proxies. Each ring advances
// independently, so channel and proxy pairings vary over the run. Selection
// skips unhealthy members until their recovery interval elapses, at which
// point one probe is allowed; a successful probe restores the member.
type Pool struct {
	unhealthyAfter   int
	recoveryInterval time.Duration
	logger           *slog.Logger

	mu        sync.Mutex
	channels  []*member
	next      int
	proxies   []*member
	nextProxy int
}

// NewPool constructs a rotation Pool.
func NewPool(opts PoolOptions) (*Pool, error) {
	if len(opts.Channels) == 0 {
		return nil, ErrNoChannels
	}

	sendRate := opts.Rate
	if sendRate <= 0 {
		sendRate = 1
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	unhealthyAfter := opts.UnhealthyAfter
	if unhealthyAfter < 1 {
		unhealthyAfter = 1
	}
	recovery := opts.RecoveryInterval
	if recovery <= 0 {
		recovery = time.Minute
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "rotation_pool")
	}

	channels := make([]*member, 0, len(opts.Channels))
	for _, name := range opts.Channels {
		channels = append(channels, &member{
			name:    name,
			limiter: rate.NewLimiter(rate.Limit(sendRate), burst),
			healthy: true,
		})
	}

	proxies := make([]*member, 0, len(opts.Proxies))
	for _, name := range opts.Proxies {
		proxies = append(proxies, &member{name: name, healthy: true})
	}

	return &Pool{
		unhealthyAfter:   unhealthyAfter,
		recoveryInterval: recovery,
		logger:           logger,
		channels:         channels,
		proxies:          proxies,
	}, nil
}

// MustNewPool constructs a rotation Pool and panics on error.
func MustNewPool(opts PoolOptions) *Pool {
	pool, err := NewPool(opts)
	if err != nil {
		panic(err)
	}
	return pool
}

// Acquire selects the next usable channel and proxy, then waits for the
// channel's rate limiter. The wait respects ctx, so cancellation interrupts
// a throttled send.
func (p *Pool) Acquire(ctx context.Context) (Pick, error) {
	ch, proxy, err := p.pick()
	if err != nil {
		return Pick{}, err
	}
	if waitErr := ch.limiter.Wait(ctx); waitErr != nil {
		return Pick{}, waitErr
	}
	pick := Pick{Channel: ch.name}
	if proxy != nil {
		pick.Proxy = proxy.name
	}
	return pick, nil
}

// pick advances both round-robin cursors under one lock acquisition.
func (p *Pool) pick() (*member, *member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.advance(p.channels, &p.next, "channel")
	if ch == nil {
		return nil, nil, ErrNoHealthyChannels
	}
	if len(p.proxies) == 0 {
		return ch, nil, nil
	}
	proxy := p.advance(p.proxies, &p.nextProxy, "proxy")
	if proxy == nil {
		return nil, nil, ErrNoHealthyProxies
	}
	return ch, proxy, nil
}

// advance moves one ring's cursor to the next healthy or probe-due member.
// Caller holds p.mu.
func (p *Pool) advance(ring []*member, cursor *int, kind string) *member {
	now := time.Now()
	for i := 0; i < len(ring); i++ {
		m := ring[*cursor]
		*cursor = (*cursor + 1) % len(ring)

		if m.healthy {
			return m
		}
		if now.Sub(m.unhealthyAt) >= p.recoveryInterval && now.Sub(m.lastProbe) >= p.recoveryInterval {
			m.lastProbe = now
			if p.logger != nil {
				p.logger.Info("probing unhealthy "+kind, kind, m.name)
			}
			return m
		}
	}
	return nil
}

// ReportSuccess records a successful send on the pick's channel and proxy,
// restoring any unhealthy member involved.
func (p *Pool) ReportSuccess(pick Pick) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.markSuccess(find(p.channels, pick.Channel), "channel")
	p.markSuccess(find(p.proxies, pick.Proxy), "proxy")
}

// ReportFailure records a failed send on the pick's channel and proxy,
// flagging either unhealthy once consecutive failures reach the threshold.
func (p *Pool) ReportFailure(pick Pick) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.markFailure(find(p.channels, pick.Channel), "channel")
	p.markFailure(find(p.proxies, pick.Proxy), "proxy")
}

// markSuccess updates one member after a successful send. Caller holds p.mu.
func (p *Pool) markSuccess(m *member, kind string) {
	if m == nil {
		return
	}
	m.totalSent++
	m.failures = 0
	if !m.healthy {
		m.healthy = true
		m.unhealthyAt = time.Time{}
		if p.logger != nil {
			p.logger.Info(kind+" recovered", kind, m.name)
		}
	}
}

// markFailure updates one member after a failed send. Caller holds p.mu.
func (p *Pool) markFailure(m *member, kind string) {
	if m == nil {
		return
	}
	m.totalFailed++
	m.failures++
	if m.healthy && m.failures >= p.unhealthyAfter {
		m.healthy = false
		m.unhealthyAt = time.Now()
		if p.logger != nil {
			p.logger.Warn(kind+" flagged unhealthy",
				kind, m.name, "consecutive_failures", m.failures)
		}
	}
}

// MemberHealth is a point-in-time view of one channel's or proxy's state.
type MemberHealth struct {
	Name        string `json:"name"`
	Healthy     bool   `json:"healthy"`
	Failures    int    `json:"consecutive_failures"`
	TotalSent   int64  `json:"total_sent"`
	TotalFailed int64  `json:"total_failed"`
}

// Health reports the state of every channel in rotation order.
func (p *Pool) Health() []MemberHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(p.channels)
}

// ProxyHealth reports the state of every proxy in rotation order.
func (p *Pool) ProxyHealth() []MemberHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(p.proxies)
}

func snapshot(ring []*member) []MemberHealth {
	out := make([]MemberHealth, 0, len(ring))
	for _, m := range ring {
		out = append(out, MemberHealth{
			Name:        m.name,
			Healthy:     m.healthy,
			Failures:    m.failures,
			TotalSent:   m.totalSent,
			TotalFailed: m.totalFailed,
		})
	}
	return out
}

// HealthyCount returns the number of channels currently flagged healthy.
func (p *Pool) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, m := range p.channels {
		if m.healthy {
			count++
		}
	}
	return count
}

func find(ring []*member, name string) *member {
	if name == "" {
		return nil
	}
	for _, m := range ring {
		if m.name == name {
			return m
		}
	}
	return nil
}
