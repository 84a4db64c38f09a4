package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var migrationsSQL string

// journalColumns are added to journals tables created before the parsed
// fields were stored separately.
var journalColumns = []struct{ name, decl string }{
	{"practical_content", "TEXT NOT NULL DEFAULT ''"},
	{"unachieved_point", "TEXT NOT NULL DEFAULT ''"},
	{"pharmacist_comment", "TEXT NOT NULL DEFAULT ''"},
}

// Open connects to the SQLite file at path, enables foreign keys and WAL,
// and runs migrations. The pool is limited to one connection: the store has a
// single writer and ":memory:" databases are per-connection.
func Open(path string) (*sqlx.DB, error) {
	conn, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if path != ":memory:" {
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if err := InitDB(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// InitDB runs migrations on the given DB connection using the embedded SQL.
// It is safe to run against an existing database, including one created by
// earlier tooling that lacks the per-field journal columns.
func InitDB(db *sqlx.DB) error {
	stmts := strings.Split(migrationsSQL, ";")
	for _, s := range stmts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}

	existing, err := tableColumns(db, "journals")
	if err != nil {
		return err
	}
	for _, c := range journalColumns {
		if existing[c.name] {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE journals ADD COLUMN %s %s", c.name, c.decl)); err != nil {
			return fmt.Errorf("add journals.%s: %w", c.name, err)
		}
	}

	// Fails when a legacy database holds duplicate (student, date) rows;
	// those must be reconciled before the store can be used.
	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_journals_student_date ON journals(student_id, date)`); err != nil {
		return fmt.Errorf("journals uniqueness: %w", err)
	}
	return nil
}

func tableColumns(db DBExecutor, table string) (map[string]bool, error) {
	rows, err := db.Queryx(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
