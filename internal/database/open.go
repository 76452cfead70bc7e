package database

import (
	"context"
	"fmt"
	"strings"

	"pcbrecon-backend/internal/logger"
)

// Open picks the backend from the URL scheme: postgres:// or postgresql://
// selects PostgreSQL, sqlite:///path (or a bare path) selects SQLite.
func Open(ctx context.Context, databaseURL string, log *logger.Logger) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresStore(ctx, databaseURL, log)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewGormStore(ctx, SQLitePath(databaseURL), log)
	case strings.Contains(databaseURL, "://"):
		return nil, fmt.Errorf("unsupported database URL scheme in %q", redact(databaseURL))
	default:
		return NewGormStore(ctx, databaseURL, log)
	}
}

// SQLitePath converts sqlite:///./app.db to ./app.db and sqlite:////abs.db to
// /abs.db.
func SQLitePath(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "sqlite://")
	if strings.HasPrefix(path, "//") {
		return path[1:]
	}
	return strings.TrimPrefix(path, "/")
}

func redact(databaseURL string) string {
	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return databaseURL
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***" + rest[at:]
	}
	return scheme + "://" + rest
}
