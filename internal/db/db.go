// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/unclebandit/mailcast-backend/internal/config"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed schema_postgres.sql schema_sqlite.sql
var schemaFS embed.FS

// DB is a *sql.DB that knows which placeholder style its driver expects.
// Repositories write queries with `?` and pass them through Rebind.
type DB struct {
	*sql.DB
	Dialect Dialect
}

func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case "postgres":
		log.Info().Str("host", cfg.Host).Str("db", cfg.Name).Msg("connecting to postgres")
		conn, err := sql.Open("postgres", cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := conn.Ping(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		log.Info().Msg("✅ Connected to database")
		return &DB{DB: conn, Dialect: Postgres}, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		d, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("✅ Connected to database")
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a SQLite database; ":memory:" is accepted for tests.
// Times are written in SQLite's own layout so range predicates compare correctly.
func OpenSQLite(path string) (*DB, error) {
	dsn := path
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_time_format=sqlite"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer; it also keeps ":memory:" databases alive.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	_, _ = conn.Exec("PRAGMA busy_timeout = 5000")
	_, _ = conn.Exec("PRAGMA journal_mode = WAL")
	_, _ = conn.Exec("PRAGMA foreign_keys = ON")
	return &DB{DB: conn, Dialect: SQLite}, nil
}

// Migrate applies the embedded schema for the dialect. Safe to run repeatedly.
func (d *DB) Migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema_" + string(d.Dialect) + ".sql")
	if err != nil {
		return err
	}
	_, err = d.ExecContext(ctx, string(b))
	return err
}

// Rebind converts `?` placeholders into `$n` for postgres.
func (d *DB) Rebind(query string) string {
	return Rebind(d.Dialect, query)
}

func Rebind(dialect Dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Placeholders returns "?, ?, ?" with n markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
