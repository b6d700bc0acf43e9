package grid

import "sync"

// Locks hands out one mutex per backend name, so fields reading the same data set take turns
// while different data sets are read in parallel.
type Locks struct {
	m sync.Map
}

// DefaultLocks is shared by sources that are not given their own registry.
var DefaultLocks = &Locks{}

// For returns the mutex for name, creating it on first use.
func (l *Locks) For(name string) *sync.Mutex {
	mu, _ := l.m.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
