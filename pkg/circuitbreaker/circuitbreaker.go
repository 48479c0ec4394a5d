package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var (
	// ErrOpen is returned without calling fn while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTrialInFlight is returned in half-open state while another call is trying the remote.
	ErrTrialInFlight = errors.New("circuit breaker trial call in flight")
)

// Config tunes a Breaker. Zero values fall back to Defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of successful trial calls that closes it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before trialing.
	Cooldown time.Duration
	// Ignore marks errors that say nothing about the remote's health, such as 4xx responses.
	Ignore func(error) bool
	// OnStateChange runs after every transition, outside the breaker's lock.
	OnStateChange func(from, to State)
}

func Defaults() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second}
}

// Breaker guards calls to one remote. While open, calls fail fast with
// ErrOpen; after Cooldown a single caller at a time tries the remote.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trialing  bool
}

func New(cfg Config) *Breaker {
	def := Defaults()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the breaker refuses the call.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trial, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	failed := err != nil && !(b.cfg.Ignore != nil && b.cfg.Ignore(err))
	b.settle(trial, failed)
	return err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		from, changed = b.moveLocked(StateHalfOpen)
	}
	switch {
	case b.state == StateOpen:
		err = ErrOpen
	case b.state == StateHalfOpen && b.trialing:
		err = ErrTrialInFlight
	case b.state == StateHalfOpen:
		b.trialing = true
		trial = true
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, StateHalfOpen)
	}
	return trial, err
}

func (b *Breaker) settle(trial, failed bool) {
	b.mu.Lock()
	if trial {
		b.trialing = false
	}
	var from, to State
	changed := false
	switch {
	case failed && b.state == StateHalfOpen:
		to = StateOpen
		from, changed = b.moveLocked(to)
	case failed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			to = StateOpen
			from, changed = b.moveLocked(to)
		}
	case b.state == StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			to = StateClosed
			from, changed = b.moveLocked(to)
		}
	default:
		b.failures = 0
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
}

// moveLocked switches state and resets counters. b.mu must be held.
func (b *Breaker) moveLocked(to State) (State, bool) {
	from := b.state
	if from == to {
		return from, false
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	return from, true
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures is the consecutive failure count in closed state.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
