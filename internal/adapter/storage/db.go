package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// OpenDB opens and pings a mirror database. DSNs starting with "mysql://" or
// containing "@tcp(" use MySQL; anything else is a sqlite path.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, Dialect, error) {
	dialect, dsn := detectDialect(dsn)

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", dialect, err)
	}

	switch dialect {
	case DialectMySQL:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	case DialectSQLite:
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("set busy timeout: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, dialect, nil
}

func detectDialect(dsn string) (Dialect, string) {
	dsn = strings.TrimSpace(dsn)
	if rest, ok := strings.CutPrefix(dsn, "mysql://"); ok {
		return DialectMySQL, rest
	}
	if strings.Contains(dsn, "@tcp(") {
		return DialectMySQL, dsn
	}
	return DialectSQLite, strings.TrimPrefix(dsn, "sqlite://")
}
