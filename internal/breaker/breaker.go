// Package breaker provides per-provider circuit breaking backed by
// github.com/sony/gobreaker/v2, adapted from the teacher's
// infrastructure/resilience package into a named registry (spec C4).
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State mirrors gobreaker's three states under the vocabulary of spec §4.3.
type State int

const (
	StateClosed   State = State(gobreaker.StateClosed)
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
	StateOpen     State = State(gobreaker.StateOpen)
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a single provider's breaker.
type Config struct {
	MaxFailures int           // consecutive failures before opening
	Timeout     time.Duration // time in open state before half-open
	HalfOpenMax int           // max requests allowed in half-open
}

// DefaultConfig matches spec §4.3's defaults: 5 consecutive failures, 30s
// open-state timeout, 3 half-open probes.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 3}
}

// Breaker wraps one provider's gobreaker instance.
type Breaker struct {
	gb *gobreaker.CircuitBreaker[any]
}

func newBreaker(cfg Config, onChange func(from, to State)) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}

	maxFailures := uint32(cfg.MaxFailures)
	settings := gobreaker.Settings{
		MaxRequests: uint32(cfg.HalfOpenMax),
		Interval:    0,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	if onChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			onChange(State(from), State(to))
		}
	}

	return &Breaker{gb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State reports the breaker's current state.
func (b *Breaker) State() State { return State(b.gb.State()) }

// Execute runs fn under the breaker. Expected-failure classification (which
// errors count against the breaker) is the caller's responsibility: only
// pass an error back from fn when it should count (spec §4.3: network
// errors and 5xx/429 count, 4xx validation failures do not).
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.gb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		return err
	}
	return nil
}

// Registry holds one Breaker per provider, created lazily from a
// per-provider Config.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	configs  map[string]Config
	onChange func(provider string, from, to State)
}

// NewRegistry builds an empty Registry. onChange, if non-nil, is invoked on
// every state transition of every provider's breaker (used to drive
// LogBreakerTransition).
func NewRegistry(onChange func(provider string, from, to State)) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		configs:  make(map[string]Config),
		onChange: onChange,
	}
}

// Configure registers cfg for provider; call before first Get.
func (r *Registry) Configure(provider string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[provider] = cfg
	delete(r.breakers, provider)
}

// Get returns the Breaker for provider, creating it from its registered
// Config (or DefaultConfig) on first use.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	cfg, ok := r.configs[provider]
	if !ok {
		cfg = DefaultConfig()
	}
	b := newBreaker(cfg, func(from, to State) {
		if r.onChange != nil {
			r.onChange(provider, from, to)
		}
	})
	r.breakers[provider] = b
	return b
}

// State reports provider's current breaker state without creating one.
func (r *Registry) State(provider string) State {
	r.mu.Lock()
	b, ok := r.breakers[provider]
	r.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return b.State()
}
