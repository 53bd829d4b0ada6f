package data

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"eventsbot/internal/store"
)

const (
	ticketsTable = "tickets"

	colUser    = "user"
	colEvent   = "event"
	colMembers = "members"
)

var (
	// ErrNegativeMembers is returned for a member count below zero.
	ErrNegativeMembers = errors.New("members must be a non-negative integer")
	// ErrTicketIncomplete is returned by Write when the user or event
	// reference is still unset.
	ErrTicketIncomplete = errors.New("ticket user and event must be set before writing")
)

// Ticket manages one tickets-table row. Tickets are immutable after the
// booking that creates them; there is no edit or cancel flow.
type Ticket struct {
	record store.Record
	db     *sql.DB

	userID  string
	eventID string
	members int64
}

func newTicket(db *sql.DB) *Ticket {
	return &Ticket{
		record: store.NewRecord(ticketsTable),
		db:     db,
	}
}

func ticketFromRow(db *sql.DB, row store.Row) *Ticket {
	return &Ticket{
		record:  store.HydratedRecord(ticketsTable, row.String(store.IDColumn)),
		db:      db,
		userID:  row.String(colUser),
		eventID: row.String(colEvent),
		members: row.Int(colMembers),
	}
}

// ID returns the ticket's internal identifier, empty until first written.
func (t *Ticket) ID() string { return t.record.ID() }

// SetID assigns a predefined id; fails once the ticket already has one.
func (t *Ticket) SetID(id string) error { return t.record.SetID(id) }

// UserID is the internal id of the owning user.
func (t *Ticket) UserID() string { return t.userID }

// User resolves the owning user, nil when the reference is dangling.
func (t *Ticket) User() (*User, error) {
	return NewUsers(t.db).GetByID(t.userID)
}

// SetUserID stores a raw internal user id.
func (t *Ticket) SetUserID(id string) {
	t.userID = id
	t.record.MarkDirty()
}

// SetUserByTelegramID resolves the Telegram id through the users table.
// An unresolved id leaves the reference empty, as the unresolved case
// is caught at write time.
func (t *Ticket) SetUserByTelegramID(telegramID int64) error {
	user, err := NewUsers(t.db).GetByTelegramID(telegramID)
	if err != nil {
		return err
	}
	if user == nil {
		t.userID = ""
	} else {
		t.userID = user.ID()
	}
	t.record.MarkDirty()
	return nil
}

// SetUser stores the user's id.
func (t *Ticket) SetUser(user *User) {
	t.userID = user.ID()
	t.record.MarkDirty()
}

// EventID is the internal id of the referenced event.
func (t *Ticket) EventID() string { return t.eventID }

// Event resolves the referenced event, nil when the reference is
// dangling.
func (t *Ticket) Event() (*Event, error) {
	return NewEvents(t.db).Get(t.eventID)
}

// SetEventID stores a raw internal event id.
func (t *Ticket) SetEventID(id string) {
	t.eventID = id
	t.record.MarkDirty()
}

// SetEvent stores the event's id.
func (t *Ticket) SetEvent(event *Event) {
	t.eventID = event.ID()
	t.record.MarkDirty()
}

// Members is the number of reserved places.
func (t *Ticket) Members() int64 { return t.members }

func (t *Ticket) SetMembers(members int64) error {
	if members < 0 {
		return errors.Wrapf(ErrNegativeMembers, "members %d", members)
	}
	t.members = members
	t.record.MarkDirty()
	return nil
}

// Write creates or updates the ticket row. Both references must be set.
func (t *Ticket) Write() error {
	if t.userID == "" || t.eventID == "" {
		return errors.WithStack(ErrTicketIncomplete)
	}
	return t.record.Write(t.db, []store.Field{
		{Column: colUser, Value: t.userID},
		{Column: colEvent, Value: t.eventID},
		{Column: colMembers, Value: t.members},
	})
}

// TicketInfo is the listing projection: a ticket joined with its
// event's name and datetime.
type TicketInfo struct {
	ID            string
	Members       int64
	EventName     string
	EventDatetime time.Time
}

// Tickets is the typed accessor over the tickets table.
type Tickets struct {
	db *sql.DB
}

func NewTickets(db *sql.DB) *Tickets { return &Tickets{db: db} }

// New returns a fresh unsaved ticket.
func (r *Tickets) New() *Ticket { return newTicket(r.db) }

// Get returns the ticket with the given id, or nil when absent.
func (r *Tickets) Get(id string) (*Ticket, error) {
	row, err := store.SearchByUnique(r.db, ticketsTable, store.IDColumn, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ticketFromRow(r.db, row), nil
}

// ListForUser returns the user's tickets joined to their events,
// excluding events more than one day in the past.
func (r *Tickets) ListForUser(userID string, now time.Time) ([]TicketInfo, error) {
	rows, err := r.db.Query(`SELECT tickets.id, tickets.members, events.name, events.datetime
	FROM tickets INNER JOIN events ON tickets.event = events.id
	WHERE tickets.user = ? AND events.datetime >= ?`,
		userID, now.Add(-24*time.Hour).Unix())
	if err != nil {
		return nil, errors.Wrap(err, "list user tickets")
	}
	defer rows.Close()

	var infos []TicketInfo
	for rows.Next() {
		var info TicketInfo
		var datetime int64
		if err := rows.Scan(&info.ID, &info.Members, &info.EventName, &datetime); err != nil {
			return nil, errors.Wrap(err, "scan ticket info")
		}
		info.EventDatetime = time.Unix(datetime, 0)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
