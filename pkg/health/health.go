// Package health derives component health for fieldcache from cache events: spill writes and
// reloads, and source fetches per field kind.
package health

import (
	stderr "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// SpillComponent is the component spill writes and reloads are recorded against.
const SpillComponent = "spill"

// HealthState represents the health of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates recent operations failed but the component still answers
	StateDegraded

	// StateReadOnly indicates writes keep failing while reads may still work. For the spill
	// directory this means fields stay resident instead of spilling.
	StateReadOnly

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastEvent         time.Time   `json:"last_event"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`
	Successes         uint64      `json:"successes"`
	Failures          uint64      `json:"failures"`
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`
}

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
	}
}

// Tracker tracks the health of the spill directory and of each source kind. It implements
// field.Recorder so a manager can report to it alongside the metrics collector.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
	callbacks  []StateChangeCallback
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = DefaultConfig().ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
	}
}

// SourceComponent names the component fetches of a field kind are recorded against.
func SourceComponent(kind string) string {
	return "source:" + kind
}

// RegisterComponent starts tracking a component as healthy. Recording against an unknown
// component registers it.
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.component(name)
}

// RecordSuccess records a successful operation for a component
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	health := t.component(component)
	oldState := health.State
	health.LastEvent = time.Now()
	health.Successes++
	if health.ConsecutiveErrors > 0 {
		health.ConsecutiveErrors--
		if health.ConsecutiveErrors == 0 && health.State != StateHealthy {
			t.transitionState(health, StateHealthy)
		}
	}
	newState := health.State
	callbacks := t.callbacks
	t.mu.Unlock()

	if oldState != newState {
		notify(callbacks, component, oldState, newState, nil)
	}
}

// RecordError records an error for a component
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	health := t.component(component)
	oldState := health.State
	health.LastEvent = time.Now()
	health.Failures++
	health.ConsecutiveErrors++
	if err != nil {
		health.LastErrorMessage = err.Error()
	}

	newState := oldState
	switch {
	case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case health.ConsecutiveErrors >= t.config.ErrorThreshold:
		if isWriteError(err) {
			newState = StateReadOnly
		} else {
			newState = StateDegraded
		}
	}
	if newState != oldState {
		t.transitionState(health, newState)
	}
	callbacks := t.callbacks
	t.mu.Unlock()

	if oldState != newState {
		notify(callbacks, component, oldState, newState, err)
	}
}

// GetState returns the current health state of a component. Unknown components are healthy:
// nothing has failed yet.
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateHealthy
}

// GetComponentHealth returns a copy of the health information for a component
func (t *Tracker) GetComponentHealth(component string) (ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return ComponentHealth{}, fmt.Errorf("component %s not registered", component)
	}
	return *health, nil
}

// GetAllComponents returns health information for all components, sorted by name
func (t *Tracker) GetAllComponents() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ComponentHealth, 0, len(t.components))
	for _, health := range t.components {
		result = append(result, *health)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetOverallHealth returns the worst state across all components
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overallState := StateHealthy
	for _, health := range t.components {
		if health.State > overallState {
			overallState = health.State
		}
	}
	return overallState
}

// CanSpill reports whether spill writes are expected to succeed.
func (t *Tracker) CanSpill() bool {
	state := t.GetState(SpillComponent)
	return state == StateHealthy || state == StateDegraded
}

// AddStateChangeCallback registers a callback for state changes. Callbacks run synchronously
// outside the tracker's lock.
func (t *Tracker) AddStateChangeCallback(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// RecordFetch records a source fetch. A fetch that produced no data counts as an error.
func (t *Tracker) RecordFetch(kind string, _ time.Duration, ok bool) {
	if ok {
		t.RecordSuccess(SourceComponent(kind))
		return
	}
	t.RecordError(SourceComponent(kind), errors.NewError(errors.ErrCodeFetchUnavailable, "fetch returned no data").
		WithComponent(kind))
}

// RecordSpill records a spill write.
func (t *Tracker) RecordSpill(_ int64, _ time.Duration, err error) {
	t.record(SpillComponent, err)
}

// RecordReload records a spill file read.
func (t *Tracker) RecordReload(_ time.Duration, err error) {
	t.record(SpillComponent, err)
}

// RecordRefresh records a refresh; failures count against the source kind.
func (t *Tracker) RecordRefresh(kind string, err error) {
	t.record(SourceComponent(kind), err)
}

// RecordMissing is a no-op; missing reads follow from fetch and reload failures already counted.
func (t *Tracker) RecordMissing(string) {}

// AddResidentElements is a no-op.
func (t *Tracker) AddResidentElements(int64) {}

func (t *Tracker) record(component string, err error) {
	if err != nil {
		t.RecordError(component, err)
		return
	}
	t.RecordSuccess(component)
}

// component returns the named component, registering it (must be called with lock held)
func (t *Tracker) component(name string) *ComponentHealth {
	health, exists := t.components[name]
	if !exists {
		now := time.Now()
		health = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastEvent:       now,
		}
		t.components[name] = health
	}
	return health
}

// transitionState moves a component to a new state (must be called with lock held)
func (t *Tracker) transitionState(health *ComponentHealth, newState HealthState) {
	health.State = newState
	health.LastStateChange = time.Now()
	if newState == StateHealthy {
		health.ConsecutiveErrors = 0
		health.LastErrorMessage = ""
	}
}

func notify(callbacks []StateChangeCallback, component string, oldState, newState HealthState, err error) {
	for _, callback := range callbacks {
		callback(component, oldState, newState, err)
	}
}

// isWriteError reports whether err is a failure to write while reads may still work
func isWriteError(err error) bool {
	if err == nil {
		return false
	}
	var fcErr *errors.FieldCacheError
	if stderr.As(err, &fcErr) {
		switch fcErr.Code {
		case errors.ErrCodeCacheWriteFailed, errors.ErrCodeAccessDenied:
			return true
		}
	}
	return false
}
