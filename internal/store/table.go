package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoTable is returned when a table is opened without fields and is not
// in the catalogue.
var ErrNoTable = errors.New("table not found")

// Table is one catalogued table. Read rows end with the row id.
type Table struct {
	s      *Store
	id     string
	fields []Field
	limit  int
}

// ID returns the table id.
func (t *Table) ID() string { return t.id }

// Fields returns the columns in order.
func (t *Table) Fields() []Field { return t.fields }

// Limit returns the page size recorded in the catalogue.
func (t *Table) Limit() int { return t.limit }

// Table opens table id, creating it when missing. A nil fields opens the
// catalogued definition. When fields contradict the catalogue the table is
// dropped and recreated empty.
func (s *Store) Table(ctx context.Context, id string, fields []Field, limit int) (*Table, error) {
	var raw string
	var stored int
	err := s.db.QueryRowContext(ctx,
		"SELECT fields, row_limit FROM ui_tables WHERE id = ?", id,
	).Scan(&raw, &stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if fields == nil {
			return nil, fmt.Errorf("open table %s: %w", id, ErrNoTable)
		}
		return s.createTable(ctx, id, fields, limit)
	case err != nil:
		return nil, fmt.Errorf("open table %s: %w", id, err)
	}

	var have []Field
	if err := json.Unmarshal([]byte(raw), &have); err != nil {
		return nil, fmt.Errorf("open table %s: corrupt catalogue entry: %w", id, err)
	}
	if fields == nil || sameFields(have, fields) {
		if limit > 0 && limit != stored {
			if _, err := s.db.ExecContext(ctx,
				"UPDATE ui_tables SET row_limit = ? WHERE id = ?", limit, id); err != nil {
				return nil, fmt.Errorf("open table %s: %w", id, err)
			}
			stored = limit
		}
		return &Table{s: s, id: id, fields: have, limit: stored}, nil
	}

	s.logger.Warn("table fields changed, recreating",
		"table", id,
		"was", have,
		"now", fields,
	)
	if err := s.dropTable(ctx, id); err != nil {
		return nil, err
	}
	return s.createTable(ctx, id, fields, limit)
}

func (s *Store) createTable(ctx context.Context, id string, fields []Field, limit int) (*Table, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create table %s: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY%s)", quote(id), columnDefs(fields))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO ui_tables (id, fields, row_limit) VALUES (?, ?, ?)",
		id, string(raw), limit,
	); err != nil {
		return nil, fmt.Errorf("create table %s: catalogue: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create table %s: commit: %w", id, err)
	}
	return &Table{s: s, id: id, fields: fields, limit: limit}, nil
}

// dropTable removes a table, its relations and their link tables.
func (s *Store) dropTable(ctx context.Context, id string) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM ui_relations WHERE from_table = ? OR to_table = ?", id, id)
	if err != nil {
		return fmt.Errorf("drop table %s: %w", id, err)
	}
	var links []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("drop table %s: %w", id, err)
		}
		links = append(links, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("drop table %s: %w", id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("drop table %s: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	for _, name := range links {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name)); err != nil {
			return fmt.Errorf("drop relation %s: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(id)); err != nil {
		return fmt.Errorf("drop table %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM ui_tables WHERE id = ?", id); err != nil {
		return fmt.Errorf("drop table %s: catalogue: %w", id, err)
	}
	return tx.Commit()
}

func (t *Table) columns() string {
	cols := make([]string, 0, len(t.fields)+1)
	for _, f := range t.fields {
		cols = append(cols, quote(f.Name))
	}
	return strings.Join(append(cols, "id"), ", ")
}

// scanRows reads rows of len(fields)+extra columns, decoding the field cells.
func scanRows(rows *sql.Rows, fields []Field, extra int) ([][]any, error) {
	defer rows.Close()
	out := [][]any{}
	n := len(fields) + extra
	for rows.Next() {
		vals := make([]any, n)
		ptrs := make([]any, n)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, f := range fields {
			v, err := decode(f, vals[i])
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// ReadRows returns up to limit rows starting at offset, in id order.
func (t *Table) ReadRows(ctx context.Context, offset, limit int) ([][]any, error) {
	rows, err := t.s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY id LIMIT ? OFFSET ?", t.columns(), quote(t.id)),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.id, err)
	}
	out, err := scanRows(rows, t.fields, 1)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.id, err)
	}
	return out, nil
}

// Count returns the number of rows.
func (t *Table) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(t.id)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.id, err)
	}
	return n, nil
}

func (t *Table) insertSQL() string {
	cols := make([]string, len(t.fields))
	marks := make([]string, len(t.fields))
	for i, f := range t.fields {
		cols[i] = quote(f.Name)
		marks[i] = "?"
	}
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(t.id))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(t.id), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// AppendRow inserts cells and returns the new row id.
func (t *Table) AppendRow(ctx context.Context, cells []any) (int64, error) {
	args, err := encodeCells(t.fields, cells)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", t.id, err)
	}
	res, err := t.s.db.ExecContext(ctx, t.insertSQL(), args...)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", t.id, err)
	}
	return res.LastInsertId()
}

// AppendRows inserts rows in one transaction and returns their ids.
func (t *Table) AppendRows(ctx context.Context, rows [][]any) ([]int64, error) {
	tx, err := t.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append %s: begin tx: %w", t.id, err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, t.insertSQL())
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", t.id, err)
	}
	defer stmt.Close()

	ids := make([]int64, len(rows))
	for i, cells := range rows {
		args, err := encodeCells(t.fields, cells)
		if err != nil {
			return nil, fmt.Errorf("append %s row %d: %w", t.id, i, err)
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("append %s row %d: %w", t.id, i, err)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append %s: commit: %w", t.id, err)
	}
	return ids, nil
}

// ErrNoRow is returned when a row id does not exist.
var ErrNoRow = errors.New("row not found")

func affected(res sql.Result, op, table string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s id %d: %w", op, table, id, ErrNoRow)
	}
	return nil
}

// UpdateRow replaces every cell of row id.
func (t *Table) UpdateRow(ctx context.Context, id int64, cells []any) error {
	args, err := encodeCells(t.fields, cells)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.id, err)
	}
	sets := make([]string, len(t.fields))
	for i, f := range t.fields {
		sets[i] = quote(f.Name) + " = ?"
	}
	res, err := t.s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quote(t.id), strings.Join(sets, ", ")),
		append(args, id)...)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.id, err)
	}
	return affected(res, "update", t.id, id)
}

// UpdateFields sets the named cells of row id.
func (t *Table) UpdateFields(ctx context.Context, id int64, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	var sets []string
	var args []any
	for _, f := range t.fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		enc, err := encode(f, v)
		if err != nil {
			return fmt.Errorf("update %s: %w", t.id, err)
		}
		sets = append(sets, quote(f.Name)+" = ?")
		args = append(args, enc)
	}
	if len(sets) != len(values) {
		return fmt.Errorf("update %s: unknown field in %v", t.id, values)
	}
	res, err := t.s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quote(t.id), strings.Join(sets, ", ")),
		append(args, id)...)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.id, err)
	}
	return affected(res, "update", t.id, id)
}

// DeleteRow removes row id. Links to it are removed by cascade.
func (t *Table) DeleteRow(ctx context.Context, id int64) error {
	res, err := t.s.db.ExecContext(ctx, "DELETE FROM "+quote(t.id)+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.id, err)
	}
	return affected(res, "delete", t.id, id)
}

// Clear removes every row.
func (t *Table) Clear(ctx context.Context) error {
	if _, err := t.s.db.ExecContext(ctx, "DELETE FROM "+quote(t.id)); err != nil {
		return fmt.Errorf("clear %s: %w", t.id, err)
	}
	return nil
}

// RowByKey returns the id of the first row whose column equals value.
func (t *Table) RowByKey(ctx context.Context, column string, value any) (int64, bool, error) {
	known := false
	for _, f := range t.fields {
		if f.Name == column {
			known = true
			break
		}
	}
	if !known {
		return 0, false, fmt.Errorf("row by key %s: unknown column %q", t.id, column)
	}
	var id int64
	err := t.s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE %s = ? ORDER BY id LIMIT 1", quote(t.id), quote(column)),
		value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("row by key %s: %w", t.id, err)
	}
	return id, true, nil
}
