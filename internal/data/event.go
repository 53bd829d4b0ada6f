package data

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"eventsbot/internal/store"
)

const (
	eventsTable = "events"

	colName        = "name"
	colDatetime    = "datetime"
	colLocation    = "location"
	colMaxMembers  = "maxMembers"
	colDescription = "description"
)

// Event manages one events-table row. MaxMembers 0 means the event has
// no limit on participants.
type Event struct {
	record store.Record
	db     *sql.DB

	name        string
	datetime    time.Time
	location    string
	maxMembers  int64
	description string
}

func newEvent(db *sql.DB) *Event {
	return &Event{
		record:   store.NewRecord(eventsTable),
		db:       db,
		datetime: time.Unix(0, 0),
	}
}

func eventFromRow(db *sql.DB, row store.Row) *Event {
	return &Event{
		record:      store.HydratedRecord(eventsTable, row.String(store.IDColumn)),
		db:          db,
		name:        row.String(colName),
		datetime:    time.Unix(row.Int(colDatetime), 0),
		location:    row.String(colLocation),
		maxMembers:  row.Int(colMaxMembers),
		description: row.String(colDescription),
	}
}

// ID returns the event's internal identifier, empty until first written.
func (e *Event) ID() string { return e.record.ID() }

// SetID assigns a predefined id; fails once the event already has one.
func (e *Event) SetID(id string) error { return e.record.SetID(id) }

func (e *Event) Name() string { return e.name }

func (e *Event) SetName(name string) {
	e.name = name
	e.record.MarkDirty()
}

func (e *Event) Datetime() time.Time { return e.datetime }

func (e *Event) SetDatetime(t time.Time) {
	e.datetime = t
	e.record.MarkDirty()
}

func (e *Event) Location() string { return e.location }

func (e *Event) SetLocation(location string) {
	e.location = location
	e.record.MarkDirty()
}

func (e *Event) MaxMembers() int64 { return e.maxMembers }

func (e *Event) SetMaxMembers(max int64) {
	e.maxMembers = max
	e.record.MarkDirty()
}

func (e *Event) Description() string { return e.description }

func (e *Event) SetDescription(description string) {
	e.description = description
	e.record.MarkDirty()
}

// Write creates or updates the event row. The datetime is stored as
// unix seconds.
func (e *Event) Write() error {
	return e.record.Write(e.db, []store.Field{
		{Column: colName, Value: e.name},
		{Column: colDatetime, Value: e.datetime.Unix()},
		{Column: colLocation, Value: e.location},
		{Column: colMaxMembers, Value: e.maxMembers},
		{Column: colDescription, Value: e.description},
	})
}

// EventInfo is the read-only listing projection: event fields joined
// with the computed remaining capacity.
type EventInfo struct {
	ID              string
	Name            string
	Datetime        time.Time
	Location        string
	MaxMembers      int64
	AvailablePlaces int64
}

// Events is the typed accessor over the events table.
type Events struct {
	db *sql.DB
}

func NewEvents(db *sql.DB) *Events { return &Events{db: db} }

// New returns a fresh unsaved event.
func (r *Events) New() *Event { return newEvent(r.db) }

// Get returns the event with the given id, or nil when absent.
func (r *Events) Get(id string) (*Event, error) {
	row, err := store.SearchByUnique(r.db, eventsTable, store.IDColumn, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return eventFromRow(r.db, row), nil
}

const availablePlacesExpr = `CASE
		WHEN events.maxMembers - SUM(IFNULL(tickets.members, 0)) <= 0 THEN 0
		ELSE events.maxMembers - SUM(IFNULL(tickets.members, 0))
	END`

// ListInfo returns every event with its remaining capacity, clamped at
// zero. With availableOnly set, only events that still have places (or
// no limit at all) and are scheduled strictly after now are included.
func (r *Events) ListInfo(availableOnly bool, now time.Time) ([]EventInfo, error) {
	query := `SELECT events.id, events.name, events.datetime, events.location, events.maxMembers,
		` + availablePlacesExpr + ` AS availablePlaces
	FROM events LEFT JOIN tickets ON events.id = tickets.event
	GROUP BY events.id`

	var args []any
	if availableOnly {
		query += `
	HAVING (availablePlaces > 0 OR events.maxMembers = 0) AND events.datetime > ?`
		args = append(args, now.Unix())
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var infos []EventInfo
	for rows.Next() {
		var info EventInfo
		var datetime int64
		if err := rows.Scan(&info.ID, &info.Name, &datetime, &info.Location,
			&info.MaxMembers, &info.AvailablePlaces); err != nil {
			return nil, errors.Wrap(err, "scan event info")
		}
		info.Datetime = time.Unix(datetime, 0)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// AvailablePlaces computes the event's remaining capacity fresh from
// the tickets table. Events with maxMembers 0 always report 0 here;
// callers treat them as unlimited.
func (r *Events) AvailablePlaces(id string) (int64, error) {
	query := `SELECT ` + availablePlacesExpr + `
	FROM events LEFT JOIN tickets ON events.id = tickets.event
	WHERE events.id = ?
	GROUP BY events.id`

	var available int64
	err := r.db.QueryRow(query, id).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(store.ErrNotFound, "event %s", id)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "available places for event %s", id)
	}
	return available, nil
}
