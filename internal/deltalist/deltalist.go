// Package deltalist implements a paginated cache over a persistent table.
//
// A List holds at most the chunks of rows that were actually touched, keyed by
// chunk start offset (a multiple of the limit). Writes go to the RowStore
// first; the cache changes only after the store accepted the write. Every
// change yields a protocol.Patch describing it incrementally.
//
// Rows are cell lists whose last cell is the persistent row ID.
package deltalist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/unisync/internal/metrics"
	"github.com/roach88/unisync/internal/protocol"
)

// Row is one table row: cells followed by the row ID.
type Row = []any

// RowStore is the persistent, offset-addressable row collection.
type RowStore interface {
	ReadRows(ctx context.Context, offset, limit int) ([]Row, error)
	Count(ctx context.Context) (int, error)
	UpdateRow(ctx context.Context, id int64, cells []any) error
	AppendRow(ctx context.Context, cells []any) (int64, error)
	AppendRows(ctx context.Context, rows [][]any) ([]int64, error)
	DeleteRow(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
}

// Sink receives every patch a list emits, keyed by table id. ctx is the
// context of the write that caused the patch.
type Sink interface {
	Publish(ctx context.Context, tableID string, p protocol.Patch)
}

// PersistenceError reports a failed store operation. The cache is unchanged.
type PersistenceError struct {
	Op    string
	Table string
	Index int
	Err   error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s[%d]: %v", e.Op, e.Table, e.Index, e.Err)
}

// Unwrap returns the store error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError returns true if err is (or wraps) a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ErrIndexOutOfRange is returned by writes addressing a missing row.
var ErrIndexOutOfRange = errors.New("row index out of range")

// Options configure a List.
type Options struct {
	// TableID names the table in patches published to Sink and in errors.
	TableID string
	Sink    Sink
	Metrics *metrics.Metrics
	// Logger reports failures that cannot be returned, such as a failed
	// refetch while rendering. Defaults to slog.Default.
	Logger *slog.Logger
}

// List is a chunk-cached view over a RowStore, or a fully materialized list
// when created with NewCached.
type List struct {
	mu     sync.Mutex
	store  RowStore
	limit  int
	length int
	chunks map[int][]Row
	opts   Options
}

// Open creates a list over store reading the first chunk. The row count is
// queried only when the first chunk is full.
func Open(ctx context.Context, store RowStore, limit int, opts Options) (*List, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("open %s: limit must be positive, got %d", opts.TableID, limit)
	}
	l := &List{store: store, limit: limit, chunks: make(map[int][]Row), opts: opts}
	first, err := l.fetch(ctx, 0)
	if err != nil {
		return nil, err
	}
	l.length = len(first)
	if len(first) == limit {
		n, err := store.Count(ctx)
		if err != nil {
			return nil, &PersistenceError{Op: "count", Table: opts.TableID, Err: err}
		}
		l.length = n
	}
	return l, nil
}

// NewCached creates a materialized list over rows. Nothing is persisted.
func NewCached(rows []Row, limit int, opts Options) *List {
	if limit <= 0 {
		limit = max(len(rows), 1)
	}
	l := &List{limit: limit, opts: opts}
	l.rechunk(rows)
	return l
}

// Materialized reports whether the list has no backing store.
func (l *List) Materialized() bool { return l.store == nil }

// Len returns the row count.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.length
}

// Limit returns the chunk size.
func (l *List) Limit() int { return l.limit }

// TableID returns the table id given in Options.
func (l *List) TableID() string { return l.opts.TableID }

// Resident returns the start offsets of cached chunks in order.
func (l *List) Resident() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	starts := make([]int, 0, len(l.chunks))
	for s := range l.chunks {
		starts = append(starts, s)
	}
	sort.Ints(starts)
	return starts
}

func (l *List) start(i int) int {
	return i / l.limit * l.limit
}

// fetch reads the chunk starting at start and caches it. Locked by caller.
func (l *List) fetch(ctx context.Context, start int) ([]Row, error) {
	rows, err := l.store.ReadRows(ctx, start, l.limit)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Table: l.opts.TableID, Index: start, Err: err}
	}
	if rows == nil {
		rows = []Row{}
	}
	l.chunks[start] = rows
	l.opts.Metrics.ChunkFetched()
	return rows, nil
}

// chunk returns the cached chunk covering i, fetching it on a miss.
func (l *List) chunk(ctx context.Context, i int) ([]Row, error) {
	start := l.start(i)
	if c, ok := l.chunks[start]; ok {
		return c, nil
	}
	if l.store == nil {
		return []Row{}, nil
	}
	return l.fetch(ctx, start)
}

// Get returns row i. ok is false when i is out of range.
func (l *List) Get(ctx context.Context, i int) (Row, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(ctx, i)
}

func (l *List) get(ctx context.Context, i int) (Row, bool, error) {
	if i < 0 || i >= l.length {
		return nil, false, nil
	}
	c, err := l.chunk(ctx, i)
	if err != nil {
		return nil, false, err
	}
	off := i - l.start(i)
	if off >= len(c) {
		return nil, false, nil
	}
	return c[off], true, nil
}

// Chunk returns the chunk covering i together with its start offset.
func (l *List) Chunk(ctx context.Context, i int) (int, []Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 {
		i = 0
	}
	c, err := l.chunk(ctx, i)
	if err != nil {
		return 0, nil, err
	}
	return l.start(i), slices.Clone(c), nil
}

func (l *List) publish(ctx context.Context, p protocol.Patch) protocol.Patch {
	l.opts.Metrics.Patch(string(p.Update))
	if l.opts.Sink != nil {
		l.opts.Sink.Publish(ctx, l.opts.TableID, p)
	}
	return p
}

func (l *List) persistErr(op string, i int, err error) error {
	return &PersistenceError{Op: op, Table: l.opts.TableID, Index: i, Err: err}
}

// RowID returns the ID cell of row.
func RowID(row Row) (int64, bool) {
	if len(row) == 0 {
		return 0, false
	}
	switch v := row[len(row)-1].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Set replaces the cells of row i, keeping its ID.
func (l *List) Set(ctx context.Context, i int, cells []any) (protocol.Patch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, ok, err := l.get(ctx, i)
	if err != nil {
		return protocol.Patch{}, err
	}
	if !ok {
		return protocol.Patch{}, fmt.Errorf("set %s[%d]: %w", l.opts.TableID, i, ErrIndexOutOfRange)
	}
	row := append(slices.Clone(cells), old[len(old)-1])
	return l.replace(ctx, i, row)
}

// UpdateCell sets one cell of row i.
func (l *List) UpdateCell(ctx context.Context, i, cell int, value any) (protocol.Patch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, ok, err := l.get(ctx, i)
	if err != nil {
		return protocol.Patch{}, err
	}
	if !ok {
		return protocol.Patch{}, fmt.Errorf("update cell %s[%d]: %w", l.opts.TableID, i, ErrIndexOutOfRange)
	}
	if cell < 0 || cell >= len(old)-1 {
		return protocol.Patch{}, fmt.Errorf("update cell %s[%d][%d]: %w", l.opts.TableID, i, cell, ErrIndexOutOfRange)
	}
	row := slices.Clone(old)
	row[cell] = value
	return l.replace(ctx, i, row)
}

// SetByID persists the cells of row id and patches the cached copy when the
// row is resident. found is false when no resident row has that id.
func (l *List) SetByID(ctx context.Context, id int64, cells []any) (p protocol.Patch, found bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for start, c := range l.chunks {
		for off, row := range c {
			if rid, ok := RowID(row); ok && rid == id {
				p, err := l.replace(ctx, start+off, append(slices.Clone(cells), row[len(row)-1]))
				return p, err == nil, err
			}
		}
	}
	if l.store != nil {
		if err := l.store.UpdateRow(ctx, id, cells); err != nil {
			return protocol.Patch{}, false, l.persistErr("update", -1, err)
		}
	}
	return protocol.Patch{}, false, nil
}

func (l *List) replace(ctx context.Context, i int, row Row) (protocol.Patch, error) {
	if l.store != nil {
		id, ok := RowID(row)
		if !ok {
			return protocol.Patch{}, l.persistErr("update", i, errors.New("row has no id"))
		}
		if err := l.store.UpdateRow(ctx, id, row[:len(row)-1]); err != nil {
			return protocol.Patch{}, l.persistErr("update", i, err)
		}
	}
	start := l.start(i)
	if c, ok := l.chunks[start]; ok && i-start < len(c) {
		c[i-start] = row
	}
	return l.publish(ctx, protocol.Patch{Update: protocol.PatchUpdate, Index: i, Data: row}), nil
}

// Append persists cells as a new row. The row is cached only when its chunk
// is resident.
func (l *List) Append(ctx context.Context, cells []any) (Row, protocol.Patch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := slices.Clone(cells)
	if l.store != nil {
		id, err := l.store.AppendRow(ctx, cells)
		if err != nil {
			return nil, protocol.Patch{}, l.persistErr("append", l.length, err)
		}
		row = append(row, id)
	}
	i := l.length
	start := l.start(i)
	if c, ok := l.chunks[start]; ok {
		l.chunks[start] = append(c, row)
	} else if l.store == nil {
		l.chunks[start] = []Row{row}
	}
	l.length++
	return row, l.publish(ctx, protocol.Patch{Update: protocol.PatchAdd, Index: i, Data: row}), nil
}

// Extend persists rows in bulk. Rows landing in the resident tail chunk or in
// chunks that did not exist before are cached. The patch carries the first
// affected chunk and the new length.
func (l *List) Extend(ctx context.Context, rows [][]any) (protocol.Patch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	full := make([]Row, len(rows))
	if l.store != nil {
		ids, err := l.store.AppendRows(ctx, rows)
		if err != nil {
			return protocol.Patch{}, l.persistErr("extend", l.length, err)
		}
		for k, r := range rows {
			full[k] = append(slices.Clone(r), ids[k])
		}
	} else {
		for k, r := range rows {
			full[k] = slices.Clone(r)
		}
	}

	oldLen := l.length
	first := l.start(oldLen)
	for k, r := range full {
		i := oldLen + k
		start := l.start(i)
		c, ok := l.chunks[start]
		if !ok && start < oldLen {
			continue
		}
		l.chunks[start] = append(c, r)
	}
	l.length += len(full)

	data, err := l.chunk(ctx, first)
	if err != nil {
		return protocol.Patch{}, err
	}
	length := l.length
	return l.publish(ctx, protocol.Patch{
		Update: protocol.PatchUpdates,
		Index:  first,
		Data:   slices.Clone(data),
		Length: &length,
	}), nil
}

// Delete removes row i. When its chunk was full the first row of the next
// resident chunk is pulled forward; chunks past that boundary are dropped
// and refetched on demand. If the next chunk is not resident, the touched
// chunk itself is dropped.
func (l *List) Delete(ctx context.Context, i int) ([]protocol.Patch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delete(ctx, i)
}

func (l *List) delete(ctx context.Context, i int) ([]protocol.Patch, error) {
	row, ok, err := l.get(ctx, i)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("delete %s[%d]: %w", l.opts.TableID, i, ErrIndexOutOfRange)
	}
	if l.store != nil {
		id, ok := RowID(row)
		if !ok {
			return nil, l.persistErr("delete", i, errors.New("row has no id"))
		}
		if err := l.store.DeleteRow(ctx, id); err != nil {
			return nil, l.persistErr("delete", i, err)
		}
	}

	oldLen := l.length
	start := l.start(i)
	c := l.chunks[start]
	wasFull := len(c) == l.limit
	if l.store == nil {
		return l.deleteCached(ctx, i, wasFull), nil
	}
	c = slices.Delete(slices.Clone(c), i-start, i-start+1)
	l.chunks[start] = c
	l.length--

	patches := []protocol.Patch{l.publish(ctx, protocol.Patch{Update: protocol.PatchDelete, Index: i, Exclude: true})}
	next := start + l.limit
	if !wasFull || next >= oldLen {
		return patches, nil
	}

	nc, resident := l.chunks[next]
	if !resident || len(nc) == 0 {
		// The touched chunk cannot be completed without a read.
		l.dropFrom(start)
		return patches, nil
	}
	l.chunks[start] = append(c, nc[0])
	l.chunks[next] = slices.Clone(nc[1:])
	if next+len(nc) < oldLen {
		l.dropFrom(next)
	} else {
		l.dropFrom(next + l.limit)
	}
	patches = append(patches, l.publish(ctx, protocol.Patch{
		Update: protocol.PatchUpdates,
		Index:  start,
		Data:   slices.Clone(l.chunks[start]),
	}))
	return patches, nil
}

// deleteCached removes row i from a materialized list and re-chunks it.
func (l *List) deleteCached(ctx context.Context, i int, wasFull bool) []protocol.Patch {
	rows := l.flat()
	rows = slices.Delete(rows, i, i+1)
	oldLen := l.length
	l.rechunk(rows)
	patches := []protocol.Patch{l.publish(ctx, protocol.Patch{Update: protocol.PatchDelete, Index: i, Exclude: true})}
	start := l.start(i)
	if wasFull && start+l.limit < oldLen {
		patches = append(patches, l.publish(ctx, protocol.Patch{
			Update: protocol.PatchUpdates,
			Index:  start,
			Data:   slices.Clone(l.chunks[start]),
		}))
	}
	return patches
}

func (l *List) flat() []Row {
	starts := make([]int, 0, len(l.chunks))
	for s := range l.chunks {
		starts = append(starts, s)
	}
	sort.Ints(starts)
	var out []Row
	for _, s := range starts {
		out = append(out, l.chunks[s]...)
	}
	return out
}

func (l *List) rechunk(rows []Row) {
	l.chunks = make(map[int][]Row)
	for start := 0; start < len(rows) || start == 0; start += l.limit {
		end := min(start+l.limit, len(rows))
		l.chunks[start] = slices.Clone(rows[start:end])
	}
	l.length = len(rows)
}

// dropFrom invalidates every chunk starting at or after start.
func (l *List) dropFrom(start int) {
	for s := range l.chunks {
		if s >= start {
			delete(l.chunks, s)
		}
	}
}

// Pop removes and returns row i.
func (l *List) Pop(ctx context.Context, i int) (Row, []protocol.Patch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 {
		i += l.length
	}
	row, ok, err := l.get(ctx, i)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("pop %s[%d]: %w", l.opts.TableID, i, ErrIndexOutOfRange)
	}
	patches, err := l.delete(ctx, i)
	if err != nil {
		return nil, nil, err
	}
	return row, patches, nil
}

// Clear removes every row.
func (l *List) Clear(ctx context.Context) (protocol.Patch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		if err := l.store.Clear(ctx); err != nil {
			return protocol.Patch{}, l.persistErr("clear", 0, err)
		}
	}
	l.chunks = map[int][]Row{0: {}}
	l.length = 0
	length := 0
	return l.publish(ctx, protocol.Patch{Update: protocol.PatchUpdates, Index: 0, Data: []Row{}, Length: &length}), nil
}

// Rows returns every row of a materialized list in order, or the resident
// rows of a stored one.
func (l *List) Rows() []Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flat()
}

// State is the client-side rendering: length, limit and the first chunk.
type State struct {
	Length int   `json:"length"`
	Limit  int   `json:"limit"`
	Data   []Row `json:"data"`
}

// State returns the current rendering. A dropped first chunk is refetched;
// if that fails the error is logged and the data is rendered empty.
func (l *List) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.chunks[0]
	if !ok && l.store != nil {
		var err error
		if data, err = l.fetch(context.Background(), 0); err != nil {
			l.logger().Error("refetch first chunk", "table", l.opts.TableID, "error", err)
		}
	}
	if data == nil {
		data = []Row{}
	}
	return State{Length: l.length, Limit: l.limit, Data: slices.Clone(data)}
}

func (l *List) logger() *slog.Logger {
	if l.opts.Logger != nil {
		return l.opts.Logger
	}
	return slog.Default()
}

// MarshalJSON renders State.
func (l *List) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.State())
}
