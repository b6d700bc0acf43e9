package imagery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/internal/field"
)

// Refresher re-fetches a field's image at a fixed interval. A failed refresh leaves the field's
// current data in place.
type Refresher struct {
	field    *field.Field
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Entry

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}

	refreshes atomic.Uint64
	failures  atomic.Uint64
}

// NewRefresher creates a refresher for f. timeout bounds each refresh; zero leaves it to the
// loader.
func NewRefresher(f *field.Field, interval, timeout time.Duration, logger *logrus.Entry) *Refresher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Refresher{
		field:    f,
		interval: interval,
		timeout:  timeout,
		logger:   logger.WithFields(logrus.Fields{"component": "imagery", "field": f.ID()}),
	}
}

// Start launches the refresh loop. It runs until Stop is called or ctx is done.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %v", r.interval)
	}
	if r.started {
		return fmt.Errorf("refresher already started")
	}

	r.started = true
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(ctx, r.stopCh, r.done)

	r.logger.WithField("interval", r.interval).Info("started image refresh")
	return nil
}

// Stop ends the loop and waits for an in-flight refresh to finish.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return fmt.Errorf("refresher not started")
	}
	r.started = false
	close(r.stopCh)
	done := r.done
	r.mu.Unlock()

	<-done
	r.logger.Info("stopped image refresh")
	return nil
}

// Refreshes returns the number of successful refreshes.
func (r *Refresher) Refreshes() uint64 { return r.refreshes.Load() }

// Failures returns the number of failed refreshes.
func (r *Refresher) Failures() uint64 { return r.failures.Load() }

func (r *Refresher) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.field.Refresh(ctx); err != nil {
		n := r.failures.Add(1)
		r.logger.WithError(err).WithField("failures", n).Warn("image refresh failed, keeping previous data")
		return
	}
	r.refreshes.Add(1)
}
