package field

import (
	"context"

	"github.com/fieldcache/fieldcache/pkg/types"
)

// Source is the capability a concrete field kind supplies to the generic cache.
type Source interface {
	// Fetch produces the field's array from its origin. A nil array, with or without an error,
	// means the origin cannot supply data right now; the read that triggered the fetch reports
	// a missing sample and the next read tries again.
	Fetch(ctx context.Context) ([][]float32, error)

	// Kind names the concrete field kind for logs and metrics.
	Kind() string

	// CloneWithBuffer builds a new field of the same kind described by meta. A nil buffer
	// yields a field that populates lazily from the same origin.
	CloneWithBuffer(shape types.Shape, buffer [][]float32, meta types.Metadata) (*Field, error)
}

// staticSource backs fields created from in-memory data with no origin to return to.
type staticSource struct {
	mgr *Manager
}

func (staticSource) Fetch(context.Context) ([][]float32, error) { return nil, nil }

func (staticSource) Kind() string { return "static" }

func (s staticSource) CloneWithBuffer(_ types.Shape, buffer [][]float32, meta types.Metadata) (*Field, error) {
	return New(s.mgr, meta, s, buffer)
}

// FuncSource adapts a fetch function into a Source.
type FuncSource struct {
	mgr  *Manager
	kind string
	fn   func(ctx context.Context) ([][]float32, error)
}

// NewFuncSource returns a Source of the given kind that calls fn to fetch.
func NewFuncSource(mgr *Manager, kind string, fn func(ctx context.Context) ([][]float32, error)) *FuncSource {
	return &FuncSource{mgr: mgr, kind: kind, fn: fn}
}

// Fetch calls the wrapped function.
func (s *FuncSource) Fetch(ctx context.Context) ([][]float32, error) {
	return s.fn(ctx)
}

// Kind returns the kind given at construction.
func (s *FuncSource) Kind() string { return s.kind }

// CloneWithBuffer returns a new field fetching through the same function.
func (s *FuncSource) CloneWithBuffer(_ types.Shape, buffer [][]float32, meta types.Metadata) (*Field, error) {
	return New(s.mgr, meta, s, buffer)
}
