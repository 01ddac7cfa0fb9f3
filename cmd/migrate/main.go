// Command migrate manages the relay's SQLite schema.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"

	"statusrelay/migrations"
)

const usage = `Usage: migrate [-db path] <command>

Commands:
  up        apply all pending migrations
  up-one    apply the next pending migration
  down      roll back the most recent migration
  status    list migrations and their applied state
  version   print the current schema version
  reset     roll back everything
`

func main() {
	dbPath := flag.String("db", defaultDBPath(), "path to sqlite database")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Apply(db, flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}

func defaultDBPath() string {
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		return v
	}
	return "./data/relay.db"
}
