package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hive-corporation/cticollector/internal/core/ports"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// Open returns the historical store for driver. dsn is a file path for the
// embedded drivers and a connection string for postgres.
func Open(ctx context.Context, driver, dsn string) (ports.HistoricalStore, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryRepository(), nil
	case DriverSQLite, DriverBolt:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		if driver == DriverSQLite {
			return OpenSQLite(dsn)
		}
		return OpenBolt(dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern whose escape
// character is a backslash.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
