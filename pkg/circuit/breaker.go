// Package circuit guards calls to external collaborators (the subject
// profile service, the notification sink) so a failing dependency cannot
// stall workflow mutations behind repeated slow failures.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker's current mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

var (
	// ErrCircuitOpen is returned while the breaker is rejecting calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe quota is used up.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker settings.
type Config struct {
	Name          string
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	OnStateChange func(name string, from, to State)
}

// Breaker implements the circuit breaker pattern. All state is guarded by a
// single mutex; the protected call itself runs outside the lock.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	halfOpenMax int
	onChange    func(name string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	halfOpenIn  int
	lastFailure time.Time
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		timeout:     cfg.Timeout,
		halfOpenMax: cfg.HalfOpenMax,
		onChange:    cfg.OnStateChange,
		state:       StateClosed,
	}
}

// Execute runs fn with breaker protection. A context error from fn counts as
// a failure like any other.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) > b.timeout {
			b.transition(StateHalfOpen)
			b.halfOpenIn = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenIn >= b.halfOpenMax {
			return ErrTooManyRequests
		}
		b.halfOpenIn++
		return nil
	default:
		return errors.New("unknown breaker state")
	}
}

// recordFailure must be called with the mutex held.
func (b *Breaker) recordFailure() {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.lastFailure = time.Now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.lastFailure = time.Now()
		b.transition(StateOpen)
	}
}

// recordSuccess must be called with the mutex held.
func (b *Breaker) recordSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.halfOpenMax {
			b.transition(StateClosed)
		}
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	b.halfOpenIn = 0
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// BreakerGroup lazily manages one breaker per named dependency.
type BreakerGroup struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewBreakerGroup creates a group sharing default settings.
func NewBreakerGroup(defaultConfig Config) *BreakerGroup {
	return &BreakerGroup{
		breakers: make(map[string]*Breaker),
		config:   defaultConfig,
	}
}

// Get returns or creates the breaker for a dependency name.
func (g *BreakerGroup) Get(name string) *Breaker {
	g.mu.RLock()
	b, exists := g.breakers[name]
	g.mu.RUnlock()
	if exists {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, exists = g.breakers[name]; exists {
		return b
	}
	cfg := g.config
	cfg.Name = name
	b = NewBreaker(cfg)
	g.breakers[name] = b
	return b
}

// Execute runs fn under the named breaker.
func (g *BreakerGroup) Execute(ctx context.Context, name string, fn func() error) error {
	return g.Get(name).Execute(ctx, fn)
}

// States snapshots every breaker's state.
func (g *BreakerGroup) States() map[string]State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	states := make(map[string]State, len(g.breakers))
	for name, b := range g.breakers {
		states[name] = b.State()
	}
	return states
}
