package database

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/noah-isme/libsync-api/pkg/config"
)

// Pragmas the object store relies on.
var sqlitePragmas = []string{"foreign_keys(1)", "busy_timeout(5000)"}

// SQLiteDSN appends the required pragmas that dsn does not already set. A bare ":memory:" is
// rewritten to its URI form so the query string is not read as part of a file name.
func SQLiteDSN(dsn string) string {
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}
	var missing []string
	for _, pragma := range sqlitePragmas {
		name := pragma[:strings.IndexByte(pragma, '(')]
		if !strings.Contains(dsn, "_pragma="+name) {
			missing = append(missing, "_pragma="+pragma)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

// NewSQLite opens the embedded store. A single connection keeps writers serialised and lets
// ":memory:" databases survive across queries.
func NewSQLite(ctx context.Context, cfg config.SQLiteConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", SQLiteDSN(cfg.DSN))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	return verify(ctx, db)
}
