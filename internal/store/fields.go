package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Column types.
const (
	TypeText    = "TEXT"
	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
	TypeBoolean = "BOOLEAN"
	TypeJSON    = "JSON"
)

// Field is one table column.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ErrFieldConflict is returned when cells of one column have incompatible types.
var ErrFieldConflict = errors.New("conflicting column types")

// TypeOf returns the column type for a cell value, or "" for nil.
func TypeOf(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return TypeInteger
	case float32, float64:
		return TypeReal
	case string:
		return TypeText
	default:
		return TypeJSON
	}
}

// mergeType combines two observed column types. INTEGER and REAL merge to
// REAL; any other difference is a conflict.
func mergeType(a, b string) (string, bool) {
	switch {
	case a == "" || a == b:
		return b, true
	case b == "":
		return a, true
	case (a == TypeInteger && b == TypeReal) || (a == TypeReal && b == TypeInteger):
		return TypeReal, true
	}
	return "", false
}

// InferFields derives column types from rows. Each column takes the type of
// its non-null cells; a column with only nulls is TEXT. Cells beyond the
// headers are ignored.
func InferFields(headers []string, rows [][]any) ([]Field, error) {
	fields := make([]Field, len(headers))
	for i, h := range headers {
		fields[i].Name = h
		for r, row := range rows {
			if i >= len(row) {
				continue
			}
			t, ok := mergeType(fields[i].Type, TypeOf(row[i]))
			if !ok {
				return nil, fmt.Errorf("column %q row %d: %s vs %s: %w",
					h, r, fields[i].Type, TypeOf(row[i]), ErrFieldConflict)
			}
			fields[i].Type = t
		}
		if fields[i].Type == "" {
			fields[i].Type = TypeText
		}
	}
	return fields, nil
}

// sameFields reports whether two field lists describe the same columns.
func sameFields(a, b []Field) bool {
	return slices.Equal(a, b)
}

// encode converts a cell into a value the driver accepts.
func encode(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Type == TypeJSON {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name, err)
		}
		return string(data), nil
	}
	return v, nil
}

// decode converts a scanned value back into a cell.
func decode(f Field, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch f.Type {
	case TypeBoolean:
		switch b := v.(type) {
		case int64:
			return b != 0, nil
		}
	case TypeJSON:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		return out, nil
	case TypeReal:
		if n, ok := v.(int64); ok {
			return float64(n), nil
		}
	}
	return v, nil
}

func encodeCells(fields []Field, cells []any) ([]any, error) {
	if len(cells) != len(fields) {
		return nil, fmt.Errorf("got %d cells for %d fields", len(cells), len(fields))
	}
	out := make([]any, len(cells))
	for i, c := range cells {
		v, err := encode(fields[i], c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// columnDefs renders the column list of a CREATE TABLE statement.
func columnDefs(fields []Field) string {
	var out string
	for _, f := range fields {
		typ := f.Type
		if typ == TypeJSON {
			typ = TypeText
		}
		out += fmt.Sprintf(", %s %s", quote(f.Name), typ)
	}
	return out
}
