package table

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/unisync/internal/deltalist"
	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/session"
	"github.com/roach88/unisync/internal/store"
	"github.com/roach88/unisync/internal/unit"
)

// LinkOptions configure a Link.
type LinkOptions struct {
	// Target is the table a non-table master selects from.
	Target string
	// Key is the Target column matched against the selected option.
	Key string
	// WithRelation shows the link fields and link id after each row.
	WithRelation bool
	// Fields are the link fields of a new relation.
	Fields []store.Field
}

// Link filters a detail table by the selection of a master element. The
// detail shows the rows related to the selected master rows; a new selection
// rebuilds it and sends one updates patch.
type Link struct {
	reg    *Registry
	detail *unit.Node
	master *unit.Node
	base   *store.Table
	target *store.Table
	rel    *store.Relation
	opts   LinkOptions
	ids    []int64
}

// NewLink relates the bound table node detail to master. A table master is
// related to its own table; any other master selects rows of opts.Target by
// opts.Key.
func NewLink(ctx context.Context, reg *Registry, detail, master *unit.Node, opts LinkOptions) (*Link, error) {
	base, ok := detail.Attr("_table").(*store.Table)
	if !ok {
		return nil, fmt.Errorf("link %s: %w", detail, ErrNotTable)
	}
	target, ok := master.Attr("_table").(*store.Table)
	if !ok {
		if target, ok = reg.Table(opts.Target); !ok {
			return nil, fmt.Errorf("link %s to %s: unknown target table %q", detail, master, opts.Target)
		}
		if opts.Key == "" {
			return nil, fmt.Errorf("link %s to %s: key column required", detail, master)
		}
	}
	rel, err := reg.Store().Relation(ctx, base, target, opts.Fields)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", detail, err)
	}

	l := &Link{reg: reg, detail: detail, master: master, base: base, target: target, rel: rel, opts: opts}
	detail.Store("_link", l)
	master.AddChangedHandler(l.changed)
	return l, nil
}

// Relation returns the relation behind the link.
func (l *Link) Relation() *store.Relation { return l.rel }

// IDs returns the selected master row ids.
func (l *Link) IDs() []int64 { return slices.Clone(l.ids) }

func (l *Link) changed(ctx context.Context, _ *unit.Node, value any) (unit.Result, error) {
	ids, err := l.masterIDs(ctx, value)
	if err != nil {
		return nil, err
	}
	l.ids = ids
	if _, err := l.Refresh(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

func (l *Link) masterIDs(ctx context.Context, value any) ([]int64, error) {
	if value == nil {
		return nil, nil
	}
	if list, ok := ListOf(l.master); ok {
		return TableIDs(ctx, list, value)
	}
	return SelectIDs(ctx, l.target, l.opts.Key, value)
}

// TableIDs resolves the selected indexes of a table to row ids.
func TableIDs(ctx context.Context, list *deltalist.List, value any) ([]int64, error) {
	idx, err := indexes(value)
	if err != nil {
		return nil, err
	}
	slices.Reverse(idx)
	var ids []int64
	for _, i := range idx {
		row, ok, err := list.Get(ctx, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if id, ok := deltalist.RowID(row); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SelectIDs resolves selected options (a value or a list of values) to the
// ids of the rows whose key column holds them.
func SelectIDs(ctx context.Context, tbl *store.Table, key string, value any) ([]int64, error) {
	values, ok := value.([]any)
	if !ok {
		values = []any{value}
	}
	var ids []int64
	for _, v := range values {
		id, ok, err := tbl.RowByKey(ctx, key, v)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Refresh rebuilds the detail rows for the current selection and sends one
// updates patch carrying the first chunk and the new length.
func (l *Link) Refresh(ctx context.Context) (protocol.Patch, error) {
	rows, err := l.rel.LinkedRows(ctx, l.ids, l.opts.WithRelation)
	if err != nil {
		return protocol.Patch{}, err
	}
	limit := l.base.Limit()
	if old, ok := ListOf(l.detail); ok {
		limit = old.Limit()
	}
	list := deltalist.NewCached(rows, limit, deltalist.Options{
		TableID: l.base.ID(),
		Metrics: l.reg.opts.Metrics,
	})
	l.detail.Store("rows", list)
	l.detail.Store("value", nil)

	st := list.State()
	p := protocol.Patch{Update: protocol.PatchUpdates, Index: 0, Data: st.Data, Length: &st.Length}
	if s, ok := session.FromContext(ctx); ok {
		if path, ok := s.Tree().FindPath(l.detail); ok && len(path) == 2 {
			p = p.At(path[0], path[1])
		}
		if err := s.SendPatch(ctx, p); err != nil {
			return p, err
		}
	}
	return p, nil
}

// baseID returns the detail row id of a filtered row.
func (l *Link) baseID(row deltalist.Row) (int64, bool) {
	return deltalist.RowID(row[:len(l.base.Fields())+1])
}

func (l *Link) row(ctx context.Context, i int) (deltalist.Row, error) {
	list, _ := ListOf(l.detail)
	row, ok, err := list.Get(ctx, i)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("row %d: %w", i, deltalist.ErrIndexOutOfRange)
	}
	return row, nil
}

// deleteRows unlinks the selected rows from the selected master rows.
func (l *Link) deleteRows(ctx context.Context, idx []int) (unit.Result, error) {
	for _, i := range idx {
		row, err := l.row(ctx, i)
		if err != nil {
			return failure(err)
		}
		if l.opts.WithRelation {
			linkID, _ := deltalist.RowID(row)
			if err := l.rel.DeleteLink(ctx, linkID); err != nil {
				return nil, err
			}
			continue
		}
		id, _ := l.baseID(row)
		for _, m := range l.ids {
			if err := l.rel.DeleteLinks(ctx, id, m); err != nil {
				return nil, err
			}
		}
	}
	_, err := l.Refresh(ctx)
	return nil, err
}

// appendRow adds a detail row through the shared list and links it to every
// selected master row.
func (l *Link) appendRow(ctx context.Context, cells []any) (unit.Result, error) {
	if len(l.ids) == 0 {
		return unit.Warning(fmt.Sprintf("Select a row of %s first", l.master.Name())), nil
	}
	shared, ok := l.reg.List(l.base.ID())
	if !ok {
		return nil, fmt.Errorf("append %s: table not opened", l.base.ID())
	}
	row, _, err := shared.Append(ctx, cells)
	if err != nil {
		return failure(err)
	}
	id, _ := deltalist.RowID(row)
	for _, m := range l.ids {
		if _, err := l.rel.AddLink(ctx, id, m, nil); err != nil {
			return nil, err
		}
	}
	if _, err := l.Refresh(ctx); err != nil {
		return nil, err
	}
	return unit.Reply{Value: row}, nil
}

// modifyCell writes a detail cell through the shared list or a link cell
// through the relation, then updates the filtered copy.
func (l *Link) modifyCell(ctx context.Context, i, cell int, value any) (unit.Result, error) {
	row, err := l.row(ctx, i)
	if err != nil {
		return failure(err)
	}
	nbase := len(l.base.Fields())
	switch {
	case cell < nbase:
		cells := slices.Clone(row[:nbase])
		cells[cell] = value
		id, _ := l.baseID(row)
		shared, ok := l.reg.List(l.base.ID())
		if !ok {
			return nil, fmt.Errorf("modify %s: table not opened", l.base.ID())
		}
		if _, _, err := shared.SetByID(ctx, id, cells); err != nil {
			return failure(err)
		}
	case l.opts.WithRelation && cell > nbase && cell < len(row)-1:
		linkID, _ := deltalist.RowID(row)
		cells := slices.Clone(row[nbase+1 : len(row)-1])
		cells[cell-nbase-1] = value
		if err := l.rel.UpdateLink(ctx, linkID, cells); err != nil {
			return nil, err
		}
	default:
		return unit.Error(fmt.Sprintf("cell %d of %s is read-only", cell, l.detail.Name())), nil
	}
	list, _ := ListOf(l.detail)
	if _, err := list.UpdateCell(ctx, i, cell, value); err != nil {
		return failure(err)
	}
	return nil, nil
}
