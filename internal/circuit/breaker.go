package circuit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - loads pass through
	StateClosed State = iota
	// StateOpen - loads are rejected without touching the origin
	StateOpen
	// StateHalfOpen - a limited number of loads probe whether the origin recovered
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Consecutive failures that open the breaker
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// Period of the open state after which the breaker enters half-open state
	Timeout time.Duration `yaml:"timeout"`

	// Loads allowed through while half-open
	HalfOpenRequests uint32 `yaml:"half_open_requests"`

	// Called when state changes
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// Decides whether an error counts as a failure. Defaults to err == nil.
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts holds the numbers of loads and their outcomes since the last state change
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// CircuitBreaker stops calling an origin that keeps failing, so a dead image server costs one
// fast error per refresh instead of a full request timeout.
type CircuitBreaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker creates a new circuit breaker instance
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 1
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = func(err error) bool { return err == nil }
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn if the breaker allows it. A rejected call returns a CIRCUIT_OPEN error.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)
	if state == StateOpen {
		return errors.NewError(errors.ErrCodeCircuitOpen, "circuit breaker is open").
			WithComponent("circuit").
			WithContext("breaker", cb.name).
			WithDetail("retry_in", cb.expiry.Sub(now))
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.config.HalfOpenRequests {
		return errors.NewError(errors.ErrCodeCircuitOpen, "too many requests in half-open state").
			WithComponent("circuit").
			WithContext("breaker", cb.name)
	}

	cb.counts.onRequest()
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.counts.onSuccess()
		if state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.onFailure()
	switch state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) State {
	if cb.state == StateOpen && cb.expiry.Before(now) {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	prev := cb.state
	if prev == state {
		return
	}

	cb.state = state
	cb.counts.clear()
	if state == StateOpen {
		cb.expiry = now.Add(cb.config.Timeout)
	} else {
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(time.Now())
}

// GetCounts returns a copy of the current counts
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counts
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.counts.clear()
	cb.setState(StateClosed, time.Now())
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}

// Registry hands out one breaker per origin, typically keyed by host.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   Config
	logger   *logrus.Entry
}

// NewRegistry creates a registry whose breakers share config. State changes are logged.
func NewRegistry(config Config, logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Registry{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger.WithField("component", "circuit"),
	}
	user := config.OnStateChange
	config.OnStateChange = func(name string, from, to State) {
		r.logger.WithFields(logrus.Fields{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("circuit breaker state changed")
		if user != nil {
			user(name, from, to)
		}
	}
	r.config = config
	return r
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, r.config)
	r.breakers[name] = cb
	return cb
}

// Stats represents statistics for a single circuit breaker
type Stats struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Counts Counts `json:"counts"`
}

// Stats returns statistics for every breaker, sorted by name.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(breakers))
	for _, cb := range breakers {
		stats = append(stats, Stats{Name: cb.Name(), State: cb.GetState().String(), Counts: cb.GetCounts()})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
