package unit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/unisync/internal/track"
)

// Widget constructors. Widgets are plain nodes with defaults; extra Attrs
// override the defaults.

func merge(defaults Attrs, attrs []Attrs) []Attrs {
	return append([]Attrs{defaults}, attrs...)
}

// Edit is an editable field. Numeric values make a number field.
func Edit(name string, value any, attrs ...Attrs) *Node {
	typ := "string"
	switch value.(type) {
	case int, int64, float64:
		typ = "number"
	case nil:
		value = ""
	}
	return New(name, typ, value, attrs...)
}

// Text is a read-only label showing its own name.
func Text(name string, attrs ...Attrs) *Node {
	return New(name, "string", name, merge(Attrs{"edit": false}, attrs)...)
}

// Button runs handler when pressed.
func Button(name string, handler Handler, attrs ...Attrs) *Node {
	n := New(name, "command", nil, attrs...)
	if handler != nil {
		n.On(EventChanged, handler)
	}
	return n
}

// Switch is a boolean toggle.
func Switch(name string, value bool, attrs ...Attrs) *Node {
	return New(name, "switch", value, attrs...)
}

// Select chooses one of options. Up to three options render as radio buttons.
func Select(name string, value any, options []any, attrs ...Attrs) *Node {
	typ := "select"
	if len(options) <= 3 {
		typ = "radio"
	}
	return New(name, typ, value, merge(Attrs{"options": options}, attrs)...)
}

// Range is a numeric slider; options are [min, max, step].
func Range(name string, value float64, attrs ...Attrs) *Node {
	return New(name, "range", value, merge(Attrs{"options": []any{value - 10, value + 10, 1.0}}, attrs)...)
}

// TextArea is a multi-line text field.
func TextArea(name string, value string, attrs ...Attrs) *Node {
	return New(name, "text", value, attrs...)
}

// Tree is a hierarchical selector; options map an item to its parent.
func Tree(name string, value any, options map[string]any, attrs ...Attrs) *Node {
	return New(name, "tree", value, merge(Attrs{"options": options}, attrs)...)
}

// Image shows url with an optional label.
func Image(name, url string, attrs ...Attrs) *Node {
	return New(name, "image", false, merge(Attrs{"url": url}, attrs)...)
}

// HTML renders raw markup.
func HTML(name, markup string, attrs ...Attrs) *Node {
	return New(name, "html", markup, attrs...)
}

// Line is a horizontal separator. Lines may repeat within a block.
func Line() *Node {
	return New("__Line__", "line", nil)
}

// Block creates a named container of nodes. Nested slices lay nodes out in rows.
func Block(name string, elements ...any) *Node {
	return New(name, "block", elements)
}

// Table is an in-memory table: headers and a list of rows, each row a list of cells.
// It answers delete, append and modify requests.
func Table(name string, headers []any, rows []any, attrs ...Attrs) *Node {
	if rows == nil {
		rows = []any{}
	}
	n := New(name, "table", nil, merge(Attrs{
		"headers": headers,
		"rows":    rows,
		"editing": false,
		"dense":   true,
	}, attrs)...)
	n.On(EventDelete, DeleteTableRows)
	n.On(EventAppend, AppendTableRow)
	n.On(EventModify, ModifyTableCell)
	return n
}

// DeleteTableRows removes the rows whose indexes are in value (an index or a list).
func DeleteTableRows(_ context.Context, n *Node, value any) (Result, error) {
	rows, ok := n.Tracker("rows")
	if !ok {
		return Error(fmt.Sprintf("%s has no rows", n)), nil
	}
	var idx []int
	switch v := value.(type) {
	case []any:
		for _, e := range v {
			i, ok := ToIndex(e)
			if !ok {
				return Error(fmt.Sprintf("invalid row index %v", e)), nil
			}
			idx = append(idx, i)
		}
	default:
		i, ok := ToIndex(v)
		if !ok {
			return Error(fmt.Sprintf("invalid row index %v", v)), nil
		}
		idx = []int{i}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(idx)))
	for _, i := range idx {
		if err := rows.Delete(i); err != nil {
			return Error(err.Error()), nil
		}
	}
	n.Set("value", nil)
	return nil, nil
}

// AppendTableRow appends an empty row and answers with it.
func AppendTableRow(_ context.Context, n *Node, _ any) (Result, error) {
	rows, ok := n.Tracker("rows")
	if !ok {
		return Error(fmt.Sprintf("%s has no rows", n)), nil
	}
	headers, _ := n.Attr("headers").([]any)
	row := make([]any, len(headers))
	if err := rows.Append(row); err != nil {
		return Error(err.Error()), nil
	}
	return Reply{Value: row}, nil
}

// ModifyTableCell stores value {delta, cell, value} into a cell.
func ModifyTableCell(_ context.Context, n *Node, value any) (Result, error) {
	edit, ok := value.(map[string]any)
	if !ok {
		return Error("cell edit must be {delta, cell, value}"), nil
	}
	i, ok1 := ToIndex(edit["delta"])
	cell, ok2 := ToIndex(edit["cell"])
	if !ok1 || !ok2 {
		return Error("cell edit must be {delta, cell, value}"), nil
	}
	rows, ok := n.Tracker("rows")
	if !ok {
		return Error(fmt.Sprintf("%s has no rows", n)), nil
	}
	row, ok := rows.Index(i).(*track.Tracker)
	if !ok {
		return Error(fmt.Sprintf("row %d not found", i)), nil
	}
	if err := row.Set(cell, CellValue(edit["value"])); err != nil {
		return Error(err.Error()), nil
	}
	return nil, nil
}

// CellValue converts numeric strings to numbers; booleans and other values are kept.
func CellValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f
	}
	return v
}

// ToIndex converts a decoded JSON number to an int index.
func ToIndex(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x == float64(int(x)) {
			return int(x), true
		}
	}
	return 0, false
}

// SmartComplete returns a complete handler offering items that start with
// (or, failing that, contain) the typed text, case-insensitively. Input
// shorter than minInput offers nothing; at most maxOutput items are offered.
func SmartComplete(items []string, minInput, maxOutput int) Handler {
	return func(_ context.Context, _ *Node, value any) (Result, error) {
		text, _ := value.(string)
		text = strings.ToLower(strings.TrimSpace(text))
		out := []any{}
		if len(text) < minInput {
			return Reply{Value: out}, nil
		}
		var prefix, inner []any
		for _, it := range items {
			low := strings.ToLower(it)
			switch {
			case strings.HasPrefix(low, text):
				prefix = append(prefix, it)
			case strings.Contains(low, text):
				inner = append(inner, it)
			}
		}
		out = append(append(out, prefix...), inner...)
		if maxOutput > 0 && len(out) > maxOutput {
			out = out[:maxOutput]
		}
		return Reply{Value: out}, nil
	}
}
