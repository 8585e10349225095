package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

var (
	bucketIOCs = []byte("iocs")
	bucketLogs = []byte("collection_logs")
)

// BoltRepository stores records and logs as JSON in a single bbolt file.
type BoltRepository struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltRepository, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketIOCs, bucketLogs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) Get(ctx context.Context, indicator string, iocType domain.IOCType) (*domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get ioc", err)
	}
	key := domain.Key{Indicator: indicator, Type: iocType}

	var rec *domain.Record
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketIOCs).Get([]byte(key.String()))
		if data == nil {
			return nil
		}
		rec = &domain.Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, unavailable("get ioc", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	return rec, nil
}

func (r *BoltRepository) Upsert(ctx context.Context, record *domain.Record) error {
	if err := ctx.Err(); err != nil {
		return unavailable("upsert ioc", err)
	}
	key := record.Key()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	var conflict error
	err = r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketIOCs)
		var stored int64
		if cur := bucket.Get([]byte(key.String())); cur != nil {
			var existing struct {
				Version int64 `json:"version"`
			}
			if err := json.Unmarshal(cur, &existing); err != nil {
				return err
			}
			stored = existing.Version
		}
		if conflict = checkVersion(key, stored, record.Version); conflict != nil {
			return nil
		}
		return bucket.Put([]byte(key.String()), data)
	})
	if err != nil {
		return unavailable("upsert ioc", err)
	}
	return conflict
}

func (r *BoltRepository) AppendLog(ctx context.Context, entry domain.CollectionLog) error {
	if err := ctx.Err(); err != nil {
		return unavailable("append collection log", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal collection log: %w", err)
	}
	key := []byte(entry.Source + "|" + entry.RunTime.UTC().Format(time.RFC3339Nano))

	var duplicate error
	err = r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketLogs)
		if bucket.Get(key) != nil {
			duplicate = duplicateLog(entry)
			return nil
		}
		return bucket.Put(key, data)
	})
	if err != nil {
		return unavailable("append collection log", err)
	}
	return duplicate
}

func (r *BoltRepository) QueryStats(ctx context.Context, since time.Time) (domain.Stats, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stats{}, unavailable("query stats", err)
	}

	acc := newStatsAccumulator(since)
	err := r.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketIOCs).ForEach(func(_, v []byte) error {
			var rec domain.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			acc.addRecord(&rec)
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLogs).ForEach(func(_, v []byte) error {
			var l domain.CollectionLog
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			acc.addLog(l)
			return nil
		})
	})
	if err != nil {
		return domain.Stats{}, unavailable("query stats", err)
	}
	return acc.stats(), nil
}

func (r *BoltRepository) Find(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("find iocs", err)
	}

	var matched []domain.Record
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIOCs).ForEach(func(_, v []byte) error {
			var rec domain.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if q.Matches(&rec) {
				matched = append(matched, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("find iocs", err)
	}
	return page(sortRecords(matched), q), nil
}

func (r *BoltRepository) Logs(ctx context.Context, q domain.LogQuery) ([]domain.CollectionLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list collection logs", err)
	}

	var out []domain.CollectionLog
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLogs).ForEach(func(_, v []byte) error {
			var l domain.CollectionLog
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			if q.Source == "" || l.Source == q.Source {
				out = append(out, l)
			}
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("list collection logs", err)
	}
	return limitLogs(sortLogs(out), q.Limit), nil
}

func (r *BoltRepository) Close() error {
	return r.db.Close()
}
