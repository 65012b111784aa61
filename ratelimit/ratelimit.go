// Package ratelimit implements the per-provider rolling-window request
// counter described in spec.md §4.6: a 60-second window bucketed by second,
// warning/exceeded event emission, and headroom queries.
//
// A secondary per-provider token-bucket burst guard (golang.org/x/time/rate)
// is layered underneath the rolling window, grounded on
// control_plane/scheduler/limiter.go's TokenBucketLimiter — it does not
// change the spec's admission semantics (only the rolling window governs
// headroom/events) but gives callers (dashboards, the demo binary) a
// second, finer-grained signal for sub-second burst smoothing.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fluxforge/agentcore/observability"
)

// EventKind is the closed set of events the limiter emits.
type EventKind string

const (
	EventWarning  EventKind = "rate-limit-warning"
	EventExceeded EventKind = "rate-limit-exceeded"
)

// Event is delivered on the limiter's event stream after every Track call
// that crosses a threshold.
type Event struct {
	Kind       EventKind
	Provider   string
	CurrentRPM int
	Limit      int
	Headroom   float64
}

// ProviderConfig configures one provider's rolling-window limit.
type ProviderConfig struct {
	Provider          string
	RequestsPerMinute int
	// WarningThreshold overrides the default of 0.92 * RequestsPerMinute.
	// Zero means "use the default".
	WarningThreshold int
}

type bucket struct {
	second int64
	count  int
}

type providerState struct {
	buckets          []bucket
	limit            int
	warningThreshold int
	configured       bool
	warned           bool
	burst            *rate.Limiter
	lastBurstAdmit   bool
}

// Limiter is the rolling-window rate limiter. Safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	providers map[string]*providerState
	events    chan Event

	sweepStop chan struct{}
	sweepDone chan struct{}
}

const (
	defaultWarningFactor = 0.92
	windowDuration       = 60 * time.Second
	sweepInterval        = 10 * time.Second
	eventBufferSize      = 256
)

// New creates a Limiter preconfigured with the given providers and starts
// its periodic sweep goroutine. Call Dispose to stop it.
func New(configs []ProviderConfig) *Limiter {
	l := &Limiter{
		providers: make(map[string]*providerState),
		events:    make(chan Event, eventBufferSize),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, c := range configs {
		l.providers[c.Provider] = newProviderState(c)
	}
	go l.sweepLoop()
	return l
}

func newProviderState(c ProviderConfig) *providerState {
	threshold := c.WarningThreshold
	if threshold == 0 {
		threshold = int(defaultWarningFactor * float64(c.RequestsPerMinute))
	}
	burstSize := c.RequestsPerMinute / 12
	if burstSize < 1 {
		burstSize = 1
	}
	return &providerState{
		limit:            c.RequestsPerMinute,
		warningThreshold: threshold,
		configured:       true,
		burst:            rate.NewLimiter(rate.Limit(float64(c.RequestsPerMinute)/60.0), burstSize),
	}
}

// Events returns the limiter's event stream. Delivery is non-blocking: if
// the buffer is full, the newest event is dropped rather than stalling the
// caller of Track.
func (l *Limiter) Events() <-chan Event {
	return l.events
}

func (l *Limiter) emit(e Event) {
	select {
	case l.events <- e:
	default:
	}
}

func (l *Limiter) getOrCreate(provider string) *providerState {
	p, ok := l.providers[provider]
	if !ok {
		p = &providerState{}
		l.providers[provider] = p
	}
	return p
}

// Track records count requests for provider at the current second, clamped
// to >= 0, and emits rate-limit-warning/rate-limit-exceeded as thresholds
// are crossed.
func (l *Limiter) Track(provider string, count int) {
	if count < 0 {
		count = 0
	}

	l.mu.Lock()
	p := l.getOrCreate(provider)
	nowSec := time.Now().Unix()
	if n := len(p.buckets); n > 0 && p.buckets[n-1].second == nowSec {
		p.buckets[n-1].count += count
	} else {
		p.buckets = append(p.buckets, bucket{second: nowSec, count: count})
	}
	if p.burst != nil {
		p.lastBurstAdmit = p.burst.Allow()
	}

	current := l.currentRPMLocked(p)
	var evt *Event
	if p.configured {
		switch {
		case current >= p.limit:
			evt = &Event{Kind: EventExceeded, Provider: provider, CurrentRPM: current, Limit: p.limit, Headroom: 0}
		case current >= p.warningThreshold:
			if !p.warned {
				p.warned = true
				headroom := float64(p.limit - current)
				evt = &Event{Kind: EventWarning, Provider: provider, CurrentRPM: current, Limit: p.limit, Headroom: headroom}
			}
		default:
			p.warned = false
		}
	}
	l.mu.Unlock()

	observability.RateLimiterCurrentRPM.WithLabelValues(provider).Set(float64(current))
	if evt != nil {
		observability.RateLimiterEvents.WithLabelValues(provider, string(evt.Kind)).Inc()
		l.emit(*evt)
	}
}

func (l *Limiter) currentRPMLocked(p *providerState) int {
	cutoff := time.Now().Add(-windowDuration).Unix()
	sum := 0
	for _, b := range p.buckets {
		if b.second > cutoff {
			sum += b.count
		}
	}
	return sum
}

// CurrentRPM returns provider's request count within the trailing 60 seconds.
func (l *Limiter) CurrentRPM(provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.providers[provider]
	if !ok {
		return 0
	}
	return l.currentRPMLocked(p)
}

// Headroom returns max(0, limit-currentRPM), or +Inf for an unconfigured
// provider.
func (l *Limiter) Headroom(provider string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.providers[provider]
	if !ok || !p.configured {
		return math.Inf(1)
	}
	current := l.currentRPMLocked(p)
	headroom := float64(p.limit - current)
	if headroom < 0 {
		headroom = 0
	}
	return headroom
}

// BurstAdmitted reports whether the most recent Track call for provider was
// admitted by the secondary token-bucket burst guard. Informational only —
// it never affects CurrentRPM/Headroom.
func (l *Limiter) BurstAdmitted(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.providers[provider]
	if !ok {
		return true
	}
	return p.lastBurstAdmit
}

// Reset empties provider's window and clears its warned flag.
func (l *Limiter) Reset(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.providers[provider]
	if !ok {
		return
	}
	p.buckets = nil
	p.warned = false
}

// ResetAll resets every configured provider.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.providers {
		p.buckets = nil
		p.warned = false
	}
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	defer close(l.sweepDone)

	for {
		select {
		case <-l.sweepStop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-windowDuration).Unix()
	for _, p := range l.providers {
		kept := p.buckets[:0]
		for _, b := range p.buckets {
			if b.second > cutoff {
				kept = append(kept, b)
			}
		}
		p.buckets = kept

		if !p.configured {
			continue
		}
		current := l.currentRPMLocked(p)
		if current < p.warningThreshold {
			p.warned = false
		}
	}
}

// Dispose cancels the periodic sweep and closes the event stream. Safe to
// call once.
func (l *Limiter) Dispose() {
	close(l.sweepStop)
	<-l.sweepDone
	close(l.events)
}
