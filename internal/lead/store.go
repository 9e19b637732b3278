package lead

import (
	"context"
	"fmt"
)

// Store is a database-backed Sink that can report its health.
type Store interface {
	Sink
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresSink)(nil)
	_ Store = (*SQLiteSink)(nil)
)

// OpenStore opens the lead store named by driver. An empty driver means no
// store and returns (nil, nil).
func OpenStore(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "":
		return nil, nil
	case "postgres":
		return OpenPostgres(ctx, dsn)
	case "sqlite":
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("lead: unknown store driver %q", driver)
	}
}
