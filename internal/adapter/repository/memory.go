package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

// MemoryRepository keeps everything in process. It backs tests and dry runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[domain.Key]*domain.Record
	logs    []domain.CollectionLog
	closed  bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[domain.Key]*domain.Record)}
}

func (r *MemoryRepository) Get(ctx context.Context, indicator string, iocType domain.IOCType) (*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	rec, ok := r.records[domain.Key{Indicator: indicator, Type: iocType}]
	if !ok {
		return nil, fmt.Errorf("%s|%s: %w", iocType, indicator, domain.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, record *domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return err
	}

	key := record.Key()
	var stored int64
	if cur, ok := r.records[key]; ok {
		stored = cur.Version
	}
	if err := checkVersion(key, stored, record.Version); err != nil {
		return err
	}
	r.records[key] = record.Clone()
	return nil
}

func (r *MemoryRepository) AppendLog(ctx context.Context, entry domain.CollectionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return err
	}

	for _, l := range r.logs {
		if l.Source == entry.Source && l.RunTime.Equal(entry.RunTime) {
			return duplicateLog(entry)
		}
	}
	r.logs = append(r.logs, entry)
	return nil
}

func (r *MemoryRepository) QueryStats(ctx context.Context, since time.Time) (domain.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(ctx); err != nil {
		return domain.Stats{}, err
	}

	acc := newStatsAccumulator(since)
	for _, rec := range r.records {
		acc.addRecord(rec)
	}
	for _, l := range r.logs {
		acc.addLog(l)
	}
	return acc.stats(), nil
}

func (r *MemoryRepository) Find(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	var matched []domain.Record
	for _, rec := range r.records {
		if q.Matches(rec) {
			matched = append(matched, *rec.Clone())
		}
	}
	return page(sortRecords(matched), q), nil
}

func (r *MemoryRepository) Logs(ctx context.Context, q domain.LogQuery) ([]domain.CollectionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	var out []domain.CollectionLog
	for _, l := range r.logs {
		if q.Source == "" || l.Source == q.Source {
			out = append(out, l)
		}
	}
	return limitLogs(sortLogs(out), q.Limit), nil
}

func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *MemoryRepository) check(ctx context.Context) error {
	if r.closed {
		return fmt.Errorf("memory repository closed: %w", domain.ErrStoreUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// checkVersion enforces the optimistic write contract shared by every
// backend: inserts carry version 1, updates exactly stored+1.
func checkVersion(key domain.Key, stored, incoming int64) error {
	if incoming != stored+1 {
		return fmt.Errorf("%s: stored version %d, write version %d: %w", key, stored, incoming, domain.ErrMergeConflict)
	}
	return nil
}

func duplicateLog(entry domain.CollectionLog) error {
	return fmt.Errorf("collection log for %s at %s already exists: %w",
		entry.Source, entry.RunTime.Format(time.RFC3339Nano), domain.ErrMergeConflict)
}

func sortRecords(recs []domain.Record) []domain.Record {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].LastSeen.Equal(recs[j].LastSeen) {
			return recs[i].LastSeen.After(recs[j].LastSeen)
		}
		if recs[i].Type != recs[j].Type {
			return recs[i].Type < recs[j].Type
		}
		return recs[i].Indicator < recs[j].Indicator
	})
	return recs
}

func page(recs []domain.Record, q domain.Query) []domain.Record {
	if q.Offset >= len(recs) {
		return []domain.Record{}
	}
	if q.Offset > 0 {
		recs = recs[q.Offset:]
	}
	if limit := q.EffectiveLimit(); len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

func sortLogs(logs []domain.CollectionLog) []domain.CollectionLog {
	sort.SliceStable(logs, func(i, j int) bool {
		if !logs[i].RunTime.Equal(logs[j].RunTime) {
			return logs[i].RunTime.After(logs[j].RunTime)
		}
		return logs[i].Source < logs[j].Source
	})
	return logs
}

func limitLogs(logs []domain.CollectionLog, limit int) []domain.CollectionLog {
	if logs == nil {
		return []domain.CollectionLog{}
	}
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs
}
