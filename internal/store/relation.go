package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Relation links rows of From to rows of To. Link rows may carry fields.
type Relation struct {
	s      *Store
	name   string
	from   *Table
	to     *Table
	fields []Field
}

// RelationName returns the link table name for two tables.
func RelationName(from, to string) string {
	return from + "2" + to
}

// Name returns the link table name.
func (r *Relation) Name() string { return r.name }

// Fields returns the link fields in order.
func (r *Relation) Fields() []Field { return r.fields }

// Relation opens the relation from -> to, creating the link table when
// missing. Changed link fields recreate it empty.
func (s *Store) Relation(ctx context.Context, from, to *Table, fields []Field) (*Relation, error) {
	name := RelationName(from.id, to.id)
	r := &Relation{s: s, name: name, from: from, to: to, fields: fields}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT fields FROM ui_relations WHERE name = ?", name).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("open relation %s: %w", name, err)
	default:
		var have []Field
		if err := json.Unmarshal([]byte(raw), &have); err != nil {
			return nil, fmt.Errorf("open relation %s: corrupt catalogue entry: %w", name, err)
		}
		if ok, err := s.exists(ctx, name); err == nil && ok && sameFields(have, fields) {
			return r, nil
		}
		s.logger.Warn("relation fields changed, recreating", "relation", name)
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name)); err != nil {
			return nil, fmt.Errorf("drop relation %s: %w", name, err)
		}
	}

	if fields == nil {
		fields = []Field{}
		r.fields = fields
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("create relation %s: %w", name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create relation %s: begin tx: %w", name, err)
	}
	defer tx.Rollback() // No-op if committed

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY,
		from_id INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
		to_id INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE%s
	)`, quote(name), quote(from.id), quote(to.id), columnDefs(fields))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create relation %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(to_id)", quote("idx_"+name+"_to"), quote(name)),
	); err != nil {
		return nil, fmt.Errorf("create relation %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ui_relations (name, from_table, to_table, fields) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET fields = excluded.fields
	`, name, from.id, to.id, string(encoded)); err != nil {
		return nil, fmt.Errorf("create relation %s: catalogue: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create relation %s: commit: %w", name, err)
	}
	return r, nil
}

// AddLink links fromID to toID and returns the link id.
func (r *Relation) AddLink(ctx context.Context, fromID, toID int64, cells []any) (int64, error) {
	if cells == nil {
		cells = make([]any, len(r.fields))
	}
	args, err := encodeCells(r.fields, cells)
	if err != nil {
		return 0, fmt.Errorf("link %s: %w", r.name, err)
	}
	cols := []string{"from_id", "to_id"}
	marks := []string{"?", "?"}
	for _, f := range r.fields {
		cols = append(cols, quote(f.Name))
		marks = append(marks, "?")
	}
	res, err := r.s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(r.name), strings.Join(cols, ", "), strings.Join(marks, ", ")),
		append([]any{fromID, toID}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("link %s: %w", r.name, err)
	}
	return res.LastInsertId()
}

// UpdateLink replaces the fields of link id.
func (r *Relation) UpdateLink(ctx context.Context, id int64, cells []any) error {
	args, err := encodeCells(r.fields, cells)
	if err != nil {
		return fmt.Errorf("update link %s: %w", r.name, err)
	}
	if len(args) == 0 {
		return nil
	}
	sets := make([]string, len(r.fields))
	for i, f := range r.fields {
		sets[i] = quote(f.Name) + " = ?"
	}
	res, err := r.s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quote(r.name), strings.Join(sets, ", ")),
		append(args, id)...)
	if err != nil {
		return fmt.Errorf("update link %s: %w", r.name, err)
	}
	return affected(res, "update link", r.name, id)
}

// DeleteLink removes link id.
func (r *Relation) DeleteLink(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, "DELETE FROM "+quote(r.name)+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", r.name, err)
	}
	return affected(res, "unlink", r.name, id)
}

// DeleteLinks removes every link between fromID and toID.
func (r *Relation) DeleteLinks(ctx context.Context, fromID, toID int64) error {
	_, err := r.s.db.ExecContext(ctx,
		"DELETE FROM "+quote(r.name)+" WHERE from_id = ? AND to_id = ?", fromID, toID)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", r.name, err)
	}
	return nil
}

// DeleteLinksFrom removes every link of fromID.
func (r *Relation) DeleteLinksFrom(ctx context.Context, fromID int64) error {
	_, err := r.s.db.ExecContext(ctx, "DELETE FROM "+quote(r.name)+" WHERE from_id = ?", fromID)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", r.name, err)
	}
	return nil
}

// LinkedRows returns the From rows linked to any of toIDs, ordered by row id
// then link id. Each row is the From cells and id; withRelation appends the
// link cells and the link id, otherwise rows are distinct.
func (r *Relation) LinkedRows(ctx context.Context, toIDs []int64, withRelation bool) ([][]any, error) {
	if len(toIDs) == 0 {
		return [][]any{}, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(toIDs)), ", ")
	args := make([]any, len(toIDs))
	for i, id := range toIDs {
		args[i] = id
	}

	cols := make([]string, 0, len(r.from.fields)+len(r.fields)+2)
	for _, f := range r.from.fields {
		cols = append(cols, "f."+quote(f.Name))
	}
	cols = append(cols, "f.id")
	fields := r.from.fields
	extra := 1
	distinct := "DISTINCT "
	order := "f.id"
	if withRelation {
		for _, f := range r.fields {
			cols = append(cols, "l."+quote(f.Name))
		}
		cols = append(cols, "l.id")
		distinct = ""
		order = "f.id, l.id"
		extra = 2 + len(r.fields)
	}

	q := fmt.Sprintf(`SELECT %s%s FROM %s f JOIN %s l ON l.from_id = f.id
		WHERE l.to_id IN (%s) ORDER BY %s`,
		distinct, strings.Join(cols, ", "), quote(r.from.id), quote(r.name), marks, order)
	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("linked rows %s: %w", r.name, err)
	}
	out, err := scanRows(rows, fields, extra)
	if err != nil {
		return nil, fmt.Errorf("linked rows %s: %w", r.name, err)
	}
	if withRelation {
		base := len(r.from.fields) + 1
		for _, row := range out {
			for i, f := range r.fields {
				v, err := decode(f, row[base+i])
				if err != nil {
					return nil, fmt.Errorf("linked rows %s: %w", r.name, err)
				}
				row[base+i] = v
			}
		}
	}
	return out, nil
}
