package data

import (
	"database/sql"

	"github.com/cockroachdb/errors"

	"eventsbot/internal/store"
)

const (
	usersTable = "users"

	colTelegramID       = "telegramId"
	colPermissionsLevel = "permissionsLevel"
	colAction           = "action"
	colActionData       = "actionData"
)

// PermissionsLevel defines what commands a user may execute.
type PermissionsLevel int64

const (
	// Banned users clear no handler.
	Banned PermissionsLevel = 0
	// RegularUser can read events and sign up for them.
	RegularUser PermissionsLevel = 1
	// Admin can additionally create and edit events.
	Admin PermissionsLevel = 2
)

// Action names the kind of input the bot awaits from a user next.
type Action string

const (
	// Idle means no pending conversation.
	Idle Action = ""

	// Inline keyboard press expected.
	SelectEvent         Action = "SELECT_EVENT"
	SelectTicket        Action = "SELECT_TICKET"
	SelectActionOnEvent Action = "SELECT_ACTION_ON_EVENT"

	// Text message expected.
	EnterNewEventParams   Action = "ENTER_NEW_EVENT_PARAMS"
	EnterEventParams      Action = "ENTER_EVENT_PARAMS"
	EnterEventDescription Action = "ENTER_EVENT_DESCRIPTION"
	EnterTicketMembers    Action = "ENTER_TICKET_MEMBERS"
)

// ErrInvalidPermissions is returned for a level outside the enum.
var ErrInvalidPermissions = errors.New("permissions level out of range")

// User manages one users-table row.
type User struct {
	record store.Record
	db     *sql.DB

	telegramID       int64
	permissionsLevel PermissionsLevel
	action           Action
	actionData       string
}

func newUser(db *sql.DB) *User {
	return &User{
		record:           store.NewRecord(usersTable),
		db:               db,
		permissionsLevel: RegularUser,
		action:           Idle,
	}
}

func userFromRow(db *sql.DB, row store.Row) *User {
	return &User{
		record:           store.HydratedRecord(usersTable, row.String(store.IDColumn)),
		db:               db,
		telegramID:       row.Int(colTelegramID),
		permissionsLevel: PermissionsLevel(row.Int(colPermissionsLevel)),
		action:           Action(row.String(colAction)),
		actionData:       row.String(colActionData),
	}
}

// ID returns the user's internal identifier, empty until first written.
func (u *User) ID() string { return u.record.ID() }

// SetID assigns a predefined id; fails once the user already has one.
func (u *User) SetID(id string) error { return u.record.SetID(id) }

// TelegramID is the user's unique Telegram identifier.
func (u *User) TelegramID() int64 { return u.telegramID }

func (u *User) SetTelegramID(id int64) {
	u.telegramID = id
	u.record.MarkDirty()
}

func (u *User) PermissionsLevel() PermissionsLevel { return u.permissionsLevel }

func (u *User) SetPermissionsLevel(level PermissionsLevel) error {
	switch level {
	case Banned, RegularUser, Admin:
	default:
		return errors.Wrapf(ErrInvalidPermissions, "level %d", level)
	}
	u.permissionsLevel = level
	u.record.MarkDirty()
	return nil
}

// Action is the user's pending conversation state.
func (u *User) Action() Action { return u.action }

// SetAction transitions the conversation state. Setting Idle also
// clears the action data; this is the only place the payload is
// auto-cleared.
func (u *User) SetAction(action Action) {
	if action == Idle {
		u.SetActionData("")
	}
	u.action = action
	u.record.MarkDirty()
}

// ActionData carries the entity id the pending action refers to.
func (u *User) ActionData() string { return u.actionData }

func (u *User) SetActionData(data string) {
	u.actionData = data
	u.record.MarkDirty()
}

// Write creates or updates the user row.
func (u *User) Write() error {
	return u.record.Write(u.db, []store.Field{
		{Column: colTelegramID, Value: u.telegramID},
		{Column: colPermissionsLevel, Value: int64(u.permissionsLevel)},
		{Column: colAction, Value: string(u.action)},
		{Column: colActionData, Value: u.actionData},
	})
}

// Users is the typed accessor over the users table.
type Users struct {
	db *sql.DB
}

func NewUsers(db *sql.DB) *Users { return &Users{db: db} }

// New returns a fresh unsaved user with default permissions.
func (r *Users) New() *User { return newUser(r.db) }

// GetByID returns the user with the given internal id. Absence is not
// an error: the user comes back nil.
func (r *Users) GetByID(id string) (*User, error) {
	return r.getBy(store.IDColumn, id)
}

// GetByTelegramID resolves a user through the unique Telegram id index.
// Absence is not an error: the user comes back nil.
func (r *Users) GetByTelegramID(telegramID int64) (*User, error) {
	return r.getBy(colTelegramID, telegramID)
}

func (r *Users) getBy(column string, value any) (*User, error) {
	row, err := store.SearchByUnique(r.db, usersTable, column, value)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return userFromRow(r.db, row), nil
}
