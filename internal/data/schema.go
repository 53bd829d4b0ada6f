package data

import (
	"database/sql"

	"github.com/cockroachdb/errors"
)

// InitSchema creates the users, events and tickets tables when they do
// not exist yet. Integrity between the tables is maintained by the
// repositories, not by foreign keys.
func InitSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT NOT NULL UNIQUE,
			telegramId INTEGER NOT NULL UNIQUE,
			permissionsLevel INTEGER NOT NULL,
			action TEXT NOT NULL,
			actionData TEXT NOT NULL,
			PRIMARY KEY(id)
		) WITHOUT ROWID`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			datetime INTEGER NOT NULL,
			location TEXT NOT NULL,
			maxMembers INTEGER NOT NULL,
			description TEXT NOT NULL,
			PRIMARY KEY(id)
		) WITHOUT ROWID`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT NOT NULL UNIQUE,
			user TEXT NOT NULL,
			event TEXT NOT NULL,
			members INTEGER NOT NULL,
			PRIMARY KEY(id)
		) WITHOUT ROWID`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
