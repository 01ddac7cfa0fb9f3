// Package migrations holds the relay schema as embedded goose SQL files
// and runs goose commands against it.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var fs embed.FS

// Run brings the schema up to the latest version.
func Run(db *sql.DB) error {
	return Apply(db, "up")
}

// Apply executes a single goose command against the embedded schema.
func Apply(db *sql.DB, command string) error {
	// Goose holds the base FS and dialect as package state, so this is
	// repeated harmlessly on every call.
	goose.SetBaseFS(fs)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	var err error
	switch command {
	case "up":
		err = goose.Up(db, ".")
	case "up-one":
		err = goose.UpByOne(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}
