package upstream

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed allows all requests (normal operation).
	StateClosed State = iota
	// StateOpen rejects all requests until the recovery window elapses.
	StateOpen
	// StateHalfOpen allows requests through while probing for recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold  = 5
	defaultRecoveryTimeout   = 60 * time.Second
	defaultHalfOpenSuccesses = 2
)

// Breaker is a consecutive-failure circuit breaker guarding the upstream.
//
// Closed -> Open after failureThreshold consecutive failures. Open -> HalfOpen
// lazily, once recoveryTimeout has elapsed since the last failure: the
// transition happens on the next Allow check rather than on a timer. HalfOpen
// -> Closed after halfOpenSuccesses consecutive successes; any half-open
// failure reopens immediately.
type Breaker struct {
	mu sync.Mutex

	state       State
	failures    int
	successes   int // consecutive successes while half-open
	lastFailure time.Time

	failureThreshold  int
	recoveryTimeout   time.Duration
	halfOpenSuccesses int

	now func() time.Time // injectable for tests
}

// NewBreaker returns a closed Breaker with the default thresholds.
func NewBreaker() *Breaker {
	return &Breaker{
		failureThreshold:  defaultFailureThreshold,
		recoveryTimeout:   defaultRecoveryTimeout,
		halfOpenSuccesses: defaultHalfOpenSuccesses,
		now:               time.Now,
	}
}

// Allow reports whether a request may proceed. While open, it checks the
// recovery window and moves to half-open when it has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	}
	return true
}

// RecordSuccess notes a successful upstream call. In half-open it counts
// toward closing; in closed it clears the consecutive failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.halfOpenSuccesses {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure notes a failed upstream call. A half-open failure reopens
// immediately; in closed it opens once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.failures = b.failureThreshold
		b.successes = 0
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
		}
	}
}

// State returns the current state, applying the lazy open -> half-open
// transition so observers never see a stale open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
		b.state = StateHalfOpen
		b.successes = 0
	}
	return b.state
}
