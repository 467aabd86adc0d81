package store

import (
	"fmt"
	"net/url"
	"strings"
)

// WithDBName returns dsn with its database path replaced. Postgres URLs only;
// a DSN without scheme is treated as postgres://.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// sqliteDSN turns a path into a modernc DSN with the pragmas the store
// relies on. Paths that already carry a query string are left alone.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}
