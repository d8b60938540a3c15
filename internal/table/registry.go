// Package table binds table nodes to persistent tables.
//
// A Registry holds one shared DeltaList per store table for the whole
// process, so every session editing a table works on the same cache and its
// patches reach every viewer through the registry sink. Linked tables show a
// per-document filtered copy instead.
package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/unisync/internal/deltalist"
	"github.com/roach88/unisync/internal/metrics"
	"github.com/roach88/unisync/internal/store"
)

// DefaultLimit is the page size of tables without an explicit limit.
const DefaultLimit = 100

// Options configure a Registry.
type Options struct {
	Sink    deltalist.Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Limit   int
}

// Registry maps table ids to their shared lists.
type Registry struct {
	mu     sync.Mutex
	store  *store.Store
	opts   Options
	tables map[string]*store.Table
	lists  map[string]*deltalist.List
}

// NewRegistry creates a registry over st.
func NewRegistry(st *store.Store, opts Options) *Registry {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	return &Registry{
		store:  st,
		opts:   opts,
		tables: make(map[string]*store.Table),
		lists:  make(map[string]*deltalist.List),
	}
}

// Store returns the backing store.
func (r *Registry) Store() *store.Store { return r.store }

// Open returns the shared list of table id, opening the table on first use.
// Fields are inferred from headers and seed; seed rows are written only into
// an empty table. Without seed rows a catalogued table keeps its fields.
func (r *Registry) Open(ctx context.Context, id string, headers []string, seed [][]any, limit int) (*deltalist.List, *store.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.lists[id]; ok {
		return l, r.tables[id], nil
	}
	if limit <= 0 {
		limit = r.opts.Limit
	}

	tbl, err := r.table(ctx, id, headers, seed, limit)
	if err != nil {
		return nil, nil, err
	}
	if len(seed) > 0 {
		n, err := tbl.Count(ctx)
		if err != nil {
			return nil, nil, err
		}
		if n == 0 {
			if _, err := tbl.AppendRows(ctx, seed); err != nil {
				return nil, nil, fmt.Errorf("seed %s: %w", id, err)
			}
		}
	}

	l, err := deltalist.Open(ctx, tbl, tbl.Limit(), deltalist.Options{
		TableID: id,
		Sink:    r.opts.Sink,
		Metrics: r.opts.Metrics,
		Logger:  r.opts.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	r.tables[id] = tbl
	r.lists[id] = l
	return l, tbl, nil
}

func (r *Registry) table(ctx context.Context, id string, headers []string, seed [][]any, limit int) (*store.Table, error) {
	if len(seed) == 0 {
		tbl, err := r.store.Table(ctx, id, nil, limit)
		if err == nil || !errors.Is(err, store.ErrNoTable) {
			return tbl, err
		}
	}
	fields, err := store.InferFields(headers, seed)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", id, err)
	}
	return r.store.Table(ctx, id, fields, limit)
}

// List returns the shared list of an opened table.
func (r *Registry) List(id string) (*deltalist.List, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lists[id]
	return l, ok
}

// Table returns an opened store table.
func (r *Registry) Table(id string) (*store.Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[id]
	return t, ok
}

// IDs returns the opened table ids in order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.lists))
	for id := range r.lists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
