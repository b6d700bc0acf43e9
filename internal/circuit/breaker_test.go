package circuit

import (
	"context"
	stderr "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

var errOrigin = stderr.New("origin unreachable")

func fail(context.Context) error    { return errOrigin }
func succeed(context.Context) error { return nil }

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"Closed state", StateClosed, "CLOSED"},
		{"Open state", StateOpen, "OPEN"},
		{"Half-open state", StateHalfOpen, "HALF_OPEN"},
		{"Unknown state", State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{})

	if cb.Name() != "test" {
		t.Errorf("name = %q, want %q", cb.Name(), "test")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("initial state = %v, want %v", cb.GetState(), StateClosed)
	}
	if cb.config.FailureThreshold != 5 {
		t.Errorf("default FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.Timeout != 60*time.Second {
		t.Errorf("default Timeout = %v, want %v", cb.config.Timeout, 60*time.Second)
	}
	if cb.config.HalfOpenRequests != 1 {
		t.Errorf("default HalfOpenRequests = %d, want 1", cb.config.HalfOpenRequests)
	}
}

func TestCircuitBreaker_Execute_Success(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{})
	calls := 0
	err := cb.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("function called %d times, want 1", calls)
	}
	counts := cb.GetCounts()
	if counts.Requests != 1 || counts.TotalSuccesses != 1 {
		t.Errorf("counts = %+v, want one successful request", counts)
	}
}

func TestCircuitBreaker_Execute_Failure(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{FailureThreshold: 3})
	if err := cb.Execute(context.Background(), fail); err != errOrigin {
		t.Errorf("Execute() error = %v, want %v", err, errOrigin)
	}
	counts := cb.GetCounts()
	if counts.TotalFailures != 1 || counts.ConsecutiveFailures != 1 {
		t.Errorf("counts = %+v, want one failure", counts)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want CLOSED below threshold", cb.GetState())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{FailureThreshold: 3, Timeout: time.Hour})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	if cb.GetState() != StateClosed {
		t.Fatalf("a success in between resets the streak, state = %v", cb.GetState())
	}

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want OPEN", cb.GetState())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("an open breaker must not call the origin")
	}
	if !stderr.Is(err, errors.ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want CIRCUIT_OPEN", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1, Timeout: 20 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want OPEN", cb.GetState())
	}

	time.Sleep(40 * time.Millisecond)
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN after timeout", cb.GetState())
	}

	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want CLOSED after successful probe", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1, Timeout: 20 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	time.Sleep(40 * time.Millisecond)

	_ = cb.Execute(ctx, fail)
	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want OPEN after failed probe", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(ctx, succeed)
	close(release)
	if !stderr.Is(err, errors.ErrCircuitOpen) {
		t.Errorf("second probe error = %v, want CIRCUIT_OPEN", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1, Timeout: time.Hour})
	_ = cb.Execute(context.Background(), fail)
	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want CLOSED", cb.GetState())
	}
	if cb.GetCounts().Requests != 0 {
		t.Errorf("counts not cleared: %+v", cb.GetCounts())
	}
}

func TestCircuitBreaker_CustomIsSuccessful(t *testing.T) {
	t.Parallel()

	notFound := errors.NewError(errors.ErrCodeObjectNotFound, "no such image")
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 1,
		IsSuccessful: func(err error) bool {
			return err == nil || stderr.Is(err, errors.ErrObjectNotFound)
		},
	})

	_ = cb.Execute(context.Background(), func(context.Context) error { return notFound })
	if cb.GetState() != StateClosed {
		t.Errorf("a missing object is the origin answering, state = %v", cb.GetState())
	}
}

func TestCircuitBreaker_ConcurrentExecute(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1000})
	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				calls.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	if calls.Load() != 50 {
		t.Errorf("calls = %d, want 50", calls.Load())
	}
	if cb.GetCounts().TotalSuccesses != 50 {
		t.Errorf("TotalSuccesses = %d, want 50", cb.GetCounts().TotalSuccesses)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	var changes atomic.Int32
	r := NewRegistry(Config{
		FailureThreshold: 1,
		Timeout:          time.Hour,
		OnStateChange:    func(string, State, State) { changes.Add(1) },
	}, utils.DiscardLogger())

	a := r.Get("images.example.com")
	if r.Get("images.example.com") != a {
		t.Fatal("Get should return the same breaker for the same name")
	}
	b := r.Get("backup.example.com")

	_ = a.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), succeed)

	if changes.Load() != 1 {
		t.Errorf("state changes = %d, want 1", changes.Load())
	}

	stats := r.Stats()
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	if stats[0].Name != "backup.example.com" || stats[0].State != "CLOSED" {
		t.Errorf("stats[0] = %+v", stats[0])
	}
	if stats[1].Name != "images.example.com" || stats[1].State != "OPEN" {
		t.Errorf("stats[1] = %+v", stats[1])
	}
}
