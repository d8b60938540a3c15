package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/unisync/internal/deltalist"
	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/store"
	"github.com/roach88/unisync/internal/unit"
)

// ErrNotTable is returned when binding a node that is not a persistent table.
var ErrNotTable = errors.New("node is not a persistent table")

var title = cases.Title(language.Und, cases.NoLower)

// Pretty turns a field name into a column header: underscores become spaces
// and words are title-cased.
func Pretty(field string) string {
	return title.String(strings.ReplaceAll(norm.NFC.String(field), "_", " "))
}

// ListOf returns the list a table node shows.
func ListOf(n *unit.Node) (*deltalist.List, bool) {
	l, ok := n.Attr("rows").(*deltalist.List)
	return l, ok
}

// Persistent reports whether n is a table node with a table id.
func Persistent(n *unit.Node) bool {
	id, _ := n.Attr("id").(string)
	return n.Type() == "table" && id != ""
}

// Bind backs table node n with the shared list of its id attribute. The
// node's rows attribute seeds an empty table and is replaced by the list;
// headers default to the prettified field names. n answers get, delete,
// append and modify requests through the list.
func Bind(ctx context.Context, reg *Registry, n *unit.Node) error {
	if !Persistent(n) {
		return fmt.Errorf("bind %s: %w", n, ErrNotTable)
	}
	id := n.Attr("id").(string)

	headers := stringList(n.Attr("headers"))
	seed := rows(n.Attr("rows"))
	limit, _ := unit.ToIndex(n.Attr("limit"))

	l, tbl, err := reg.Open(ctx, id, headers, seed, limit)
	if err != nil {
		return fmt.Errorf("bind %s: %w", n, err)
	}
	if len(headers) == 0 {
		pretty := make([]any, len(tbl.Fields()))
		for i, f := range tbl.Fields() {
			pretty[i] = Pretty(f.Name)
		}
		n.Store("headers", pretty)
	}
	n.Store("rows", l)
	n.Store("_table", tbl)

	n.On(unit.EventGet, GetChunk)
	n.On(unit.EventDelete, DeleteRows)
	n.On(unit.EventAppend, AppendRow)
	n.On(unit.EventModify, ModifyCell)
	return nil
}

// GetChunk answers with the chunk covering the requested row index.
func GetChunk(ctx context.Context, n *unit.Node, value any) (unit.Result, error) {
	l, ok := ListOf(n)
	if !ok {
		return unit.Error(fmt.Sprintf("%s is not a persistent table", n)), nil
	}
	i, ok := unit.ToIndex(value)
	if !ok {
		return unit.Error(fmt.Sprintf("invalid row index %v", value)), nil
	}
	start, rows, err := l.Chunk(ctx, i)
	if err != nil {
		return nil, err
	}
	length := l.Len()
	return unit.Reply{Value: protocol.Patch{
		Update: protocol.PatchUpdates,
		Index:  start,
		Data:   rows,
		Length: &length,
	}}, nil
}

// indexes reads a single index or a list of indexes, highest first.
func indexes(value any) ([]int, error) {
	var idx []int
	switch v := value.(type) {
	case []any:
		for _, e := range v {
			i, ok := unit.ToIndex(e)
			if !ok {
				return nil, fmt.Errorf("invalid row index %v", e)
			}
			idx = append(idx, i)
		}
	default:
		i, ok := unit.ToIndex(v)
		if !ok {
			return nil, fmt.Errorf("invalid row index %v", v)
		}
		idx = []int{i}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(idx)))
	return idx, nil
}

// DeleteRows deletes the selected rows and clears the selection.
func DeleteRows(ctx context.Context, n *unit.Node, value any) (unit.Result, error) {
	l, ok := ListOf(n)
	if !ok {
		return unit.Error(fmt.Sprintf("%s is not a persistent table", n)), nil
	}
	idx, err := indexes(value)
	if err != nil {
		return unit.Error(err.Error()), nil
	}
	if link, ok := n.Attr("_link").(*Link); ok {
		return link.deleteRows(ctx, idx)
	}
	for _, i := range idx {
		if _, err := l.Delete(ctx, i); err != nil {
			return failure(err)
		}
	}
	n.Set("value", nil)
	return nil, nil
}

// AppendRow appends the cells in value, or an empty row, and answers with the
// stored row including its id.
func AppendRow(ctx context.Context, n *unit.Node, value any) (unit.Result, error) {
	tbl, ok := n.Attr("_table").(*store.Table)
	if !ok {
		return unit.Error(fmt.Sprintf("%s is not a persistent table", n)), nil
	}
	cells := make([]any, len(tbl.Fields()))
	if given, ok := value.([]any); ok {
		for i := range min(len(given), len(cells)) {
			cells[i] = unit.CellValue(given[i])
		}
	}
	if link, ok := n.Attr("_link").(*Link); ok {
		return link.appendRow(ctx, cells)
	}
	l, _ := ListOf(n)
	row, _, err := l.Append(ctx, cells)
	if err != nil {
		return failure(err)
	}
	return unit.Reply{Value: row}, nil
}

// ModifyCell stores value {delta, cell, value} into one cell.
func ModifyCell(ctx context.Context, n *unit.Node, value any) (unit.Result, error) {
	edit, ok := value.(map[string]any)
	if !ok {
		return unit.Error("cell edit must be {delta, cell, value}"), nil
	}
	i, ok1 := unit.ToIndex(edit["delta"])
	cell, ok2 := unit.ToIndex(edit["cell"])
	if !ok1 || !ok2 {
		return unit.Error("cell edit must be {delta, cell, value}"), nil
	}
	if link, ok := n.Attr("_link").(*Link); ok {
		return link.modifyCell(ctx, i, cell, unit.CellValue(edit["value"]))
	}
	l, ok := ListOf(n)
	if !ok {
		return unit.Error(fmt.Sprintf("%s is not a persistent table", n)), nil
	}
	if _, err := l.UpdateCell(ctx, i, cell, unit.CellValue(edit["value"])); err != nil {
		return failure(err)
	}
	return nil, nil
}

// failure reports index errors to the client and returns persistence errors
// to the session.
func failure(err error) (unit.Result, error) {
	if errors.Is(err, deltalist.ErrIndexOutOfRange) {
		return unit.Error(err.Error()), nil
	}
	return nil, err
}

func stringList(v any) []string {
	var out []string
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		for _, e := range x {
			out = append(out, fmt.Sprint(e))
		}
	}
	return out
}

func rows(v any) [][]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([][]any, 0, len(list))
	for _, r := range list {
		if cells, ok := r.([]any); ok {
			out = append(out, cells)
		}
	}
	return out
}
