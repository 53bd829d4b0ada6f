// Package store implements the generic create/update persistence layer
// shared by the users, events and tickets tables. Each Record wraps one
// logical row and tracks whether the in-memory state has diverged from
// the database, so repeated writes without changes never touch it.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// IDColumn is the primary-key column shared by every table.
const IDColumn = "id"

var (
	// ErrNotFound is returned when a unique-value lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrIDImmutable is returned on an attempt to overwrite an assigned id.
	ErrIDImmutable = errors.New("record id is already set")
)

// Field is one column/value pair supplied to Write. Fields are ordered so
// the generated SQL is stable.
type Field struct {
	Column string
	Value  any
}

// Record wraps one logical row of a table.
type Record struct {
	table string
	id    string
	dirty bool
}

// NewRecord returns a record for a row that does not exist yet. It is
// dirty from the start so the first Write always hits the database.
func NewRecord(table string) Record {
	return Record{table: table, dirty: true}
}

// HydratedRecord returns a clean record for an existing row.
func HydratedRecord(table, id string) Record {
	return Record{table: table, id: id}
}

// ID returns the row's unique identifier, empty for unsaved records.
func (r *Record) ID() string { return r.id }

// SetID assigns a predefined id to a new record. It does not check the
// id for uniqueness.
func (r *Record) SetID(id string) error {
	if r.id != "" {
		return errors.Wrapf(ErrIDImmutable, "table %s", r.table)
	}
	r.id = id
	r.dirty = true
	return nil
}

// MarkDirty flags the record as having unpersisted changes. Entity
// setters call it after every field assignment.
func (r *Record) MarkDirty() { r.dirty = true }

// Dirty reports whether Write would touch the database.
func (r *Record) Dirty() bool { return r.dirty }

// Write persists the supplied fields. A clean record is a no-op. A
// record without an id gets a fresh uuid and a full INSERT; otherwise
// only the supplied fields are updated by id, and an empty field list
// is a no-op. Success clears the dirty flag.
func (r *Record) Write(db *sql.DB, fields []Field) error {
	if !r.dirty {
		return nil
	}

	if r.id == "" {
		r.id = uuid.NewString()

		columns := []string{IDColumn}
		placeholders := []string{"?"}
		args := []any{r.id}
		for _, f := range fields {
			columns = append(columns, f.Column)
			placeholders = append(placeholders, "?")
			args = append(args, f.Value)
		}

		query := fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			r.table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
		)
		if _, err := db.Exec(query, args...); err != nil {
			return errors.Wrapf(err, "insert into %s", r.table)
		}
		r.dirty = false
		return nil
	}

	if len(fields) == 0 {
		return nil
	}

	assignments := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		assignments = append(assignments, f.Column+" = ?")
		args = append(args, f.Value)
	}
	args = append(args, r.id)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = ?",
		r.table, strings.Join(assignments, ", "), IDColumn,
	)
	if _, err := db.Exec(query, args...); err != nil {
		return errors.Wrapf(err, "update %s", r.table)
	}
	r.dirty = false
	return nil
}

// Row is a generic result row keyed by column name.
type Row map[string]any

// String returns the named column as a string. Missing columns and
// non-text values come back empty.
func (row Row) String(column string) string {
	switch v := row[column].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Int returns the named column as an int64. sqlite may scan integers
// as int64 or float64 depending on the expression that produced them.
func (row Row) Int(column string) int64 {
	switch v := row[column].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// SearchByUnique returns the first row of table whose column equals
// value, or ErrNotFound when nothing matches.
func SearchByUnique(db *sql.DB, table, column string, value any) (Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? LIMIT 1", table, column)
	rows, err := db.Query(query, value)
	if err != nil {
		return nil, errors.Wrapf(err, "search %s by %s", table, column)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrapf(err, "search %s by %s", table, column)
		}
		return nil, ErrNotFound
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(columns))
	scan := make([]any, len(columns))
	for i := range values {
		scan[i] = &values[i]
	}
	if err := rows.Scan(scan...); err != nil {
		return nil, errors.Wrapf(err, "scan %s row", table)
	}

	row := make(Row, len(columns))
	for i, name := range columns {
		row[name] = values[i]
	}
	return row, nil
}
