// Package booking commits seat reservations against an event's
// declared maximum.
package booking

import (
	"database/sql"
	"sync"

	"github.com/cockroachdb/errors"

	"eventsbot/internal/data"
	"eventsbot/internal/store"
)

// Outcome reports the result of a booking attempt. A capacity rejection
// is a normal decision, not an error: Rejected is set and
// AvailablePlaces carries the count to report back to the user.
type Outcome struct {
	Ticket          *data.Ticket
	Event           *data.Event
	Rejected        bool
	AvailablePlaces int64
}

// Engine validates and commits bookings. The availability check and the
// ticket insert for one event are serialized behind a per-event lock so
// concurrent bookings can not oversell it.
type Engine struct {
	db      *sql.DB
	events  *data.Events
	tickets *data.Tickets

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{
		db:      db,
		events:  data.NewEvents(db),
		tickets: data.NewTickets(db),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) eventLock(eventID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[eventID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[eventID] = lock
	}
	return lock
}

// Book attempts to reserve members places on the event for the user.
// An unknown event id yields store.ErrNotFound. Events with no declared
// maximum never reject.
func (e *Engine) Book(user *data.User, eventID string, members int64) (*Outcome, error) {
	lock := e.eventLock(eventID)
	lock.Lock()
	defer lock.Unlock()

	event, err := e.events.Get(eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, errors.Wrapf(store.ErrNotFound, "event %s", eventID)
	}

	available, err := e.events.AvailablePlaces(eventID)
	if err != nil {
		return nil, err
	}

	if event.MaxMembers() != 0 && members > available {
		return &Outcome{Event: event, Rejected: true, AvailablePlaces: available}, nil
	}

	ticket := e.tickets.New()
	ticket.SetUser(user)
	ticket.SetEventID(eventID)
	if err := ticket.SetMembers(members); err != nil {
		return nil, err
	}
	if err := ticket.Write(); err != nil {
		return nil, err
	}

	return &Outcome{Ticket: ticket, Event: event, AvailablePlaces: available}, nil
}
