package ports

import (
	"context"
	"time"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

// ThreatProvider is the ingestion layer: it performs all network I/O and
// hands the core a pre-fetched, ordered list of raw tokens.
type ThreatProvider interface {
	FetchIndicators(ctx context.Context) ([]domain.RawIndicator, error)
	Name() string
}

// HistoricalStore is the only stateful component. Upsert must be atomic per
// key and reject a record whose Version is not exactly one past the stored
// version with domain.ErrMergeConflict. A record with Version 1 is an insert.
type HistoricalStore interface {
	Get(ctx context.Context, indicator string, iocType domain.IOCType) (*domain.Record, error)
	Upsert(ctx context.Context, record *domain.Record) error
	AppendLog(ctx context.Context, entry domain.CollectionLog) error
	QueryStats(ctx context.Context, since time.Time) (domain.Stats, error)
	Find(ctx context.Context, q domain.Query) ([]domain.Record, error)
	Logs(ctx context.Context, q domain.LogQuery) ([]domain.CollectionLog, error)
	Close() error
}

// IOCReader is the read-only surface handed to presentation adapters.
type IOCReader interface {
	Get(ctx context.Context, indicator string, iocType domain.IOCType) (*domain.Record, error)
	QueryStats(ctx context.Context, since time.Time) (domain.Stats, error)
	Find(ctx context.Context, q domain.Query) ([]domain.Record, error)
	Logs(ctx context.Context, q domain.LogQuery) ([]domain.CollectionLog, error)
}
