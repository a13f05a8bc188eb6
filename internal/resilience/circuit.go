package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the position of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	// BreakerHalfOpen lets one trial call through after the cooldown.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen rejects a call without reaching the upstream.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerConfig tunes a Breaker. Zero fields fall back to
// DefaultBreakerConfig.
type BreakerConfig struct {
	Threshold int           // consecutive tripping failures that open the circuit
	Cooldown  time.Duration // how long an open circuit rejects calls

	// Trips decides which failures count. Nil means IsTransient: an
	// unreachable explorer trips the breaker, an unverified contract does not.
	Trips func(error) bool
	// OnStateChange runs on every transition, under the breaker's lock.
	OnStateChange func(name string, from, to BreakerState)
}

// DefaultBreakerConfig opens after five straight outages for thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

// Breaker guards one upstream, such as the explorer or a single chain's RPC
// endpoint.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Trips == nil {
		cfg.Trips = IsTransient
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// State reports the breaker's position. An open breaker whose cooldown has
// passed reads as half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.cooledDown() {
		return BreakerHalfOpen
	}
	return b.state
}

// Guard runs fn through b, failing fast with ErrCircuitOpen while b is open.
func Guard[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	trial, err := b.acquire()
	if err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	b.release(trial, err)
	return val, err
}

func (b *Breaker) cooledDown() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.Cooldown
}

// acquire admits a call. After the cooldown exactly one trial call is
// admitted; the rest are rejected until it reports back.
func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return false, nil
	case BreakerOpen:
		if !b.cooledDown() {
			return false, ErrCircuitOpen
		}
		b.moveTo(BreakerHalfOpen)
	}
	if b.trial {
		return false, ErrCircuitOpen
	}
	b.trial = true
	return true, nil
}

func (b *Breaker) release(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tripped := err != nil && b.cfg.Trips(err)
	if trial {
		b.trial = false
		if tripped {
			b.open()
			return
		}
		b.failures = 0
		b.moveTo(BreakerClosed)
		return
	}

	if !tripped {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == BreakerClosed && b.failures >= b.cfg.Threshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.moveTo(BreakerOpen)
}

func (b *Breaker) moveTo(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	zap.L().Warn("resilience: breaker state change",
		zap.String("upstream", b.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Breakers hands out one breaker per upstream name, all sharing a config.
type Breakers struct {
	cfg BreakerConfig

	mu     sync.Mutex
	byName map[string]*Breaker
}

// NewBreakers creates an empty set.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, byName: make(map[string]*Breaker)}
}

// For returns the breaker for name, creating it on first use.
func (s *Breakers) For(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byName[name]
	if !ok {
		b = NewBreaker(name, s.cfg)
		s.byName[name] = b
	}
	return b
}
