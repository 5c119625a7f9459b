package db

import (
	"errors"
	"net/url"
	"strings"
)

// parseDSN parses a URL-style Postgres DSN. A DSN without a scheme is read
// as postgres://.
func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	return url.Parse(dsn)
}

// WithDBName points dsn at another database on the same cluster. Credentials
// and query parameters are kept.
func WithDBName(dsn, database string) (string, error) {
	u, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// DBName returns the database dsn points at, or "" when it names none.
func DBName(dsn string) string {
	u, err := parseDSN(dsn)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
