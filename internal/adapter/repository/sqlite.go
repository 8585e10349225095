package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

type iocModel struct {
	Indicator   string    `gorm:"primaryKey"`
	Type        string    `gorm:"primaryKey"`
	Sources     []string  `gorm:"serializer:json"`
	FirstSeen   time.Time `gorm:"index"`
	LastSeen    time.Time `gorm:"index"`
	SeenCount   int64
	Confidence  int8
	ThreatLevel int8              `gorm:"index"`
	Metadata    map[string]string `gorm:"serializer:json"`
	LastRunID   string
	Version     int64
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
}

func (iocModel) TableName() string { return "iocs" }

type collectionLogModel struct {
	Source      string    `gorm:"primaryKey"`
	RunTime     time.Time `gorm:"primaryKey"`
	RunID       string    `gorm:"index"`
	Processed   int
	New         int
	Updated     int
	Unchanged   int
	Skipped     int
	Duplicates  int
	Failed      int
	Status      string `gorm:"index"`
	ErrorDetail *string
}

func (collectionLogModel) TableName() string { return "collection_logs" }

// SQLiteRepository is the embedded default store.
type SQLiteRepository struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One connection: sqlite has a single writer, and ":memory:" databases
	// are per connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return NewSQLiteRepository(db)
}

func NewSQLiteRepository(db *gorm.DB) (*SQLiteRepository, error) {
	if err := db.AutoMigrate(&iocModel{}, &collectionLogModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, indicator string, iocType domain.IOCType) (*domain.Record, error) {
	var m iocModel
	err := r.db.WithContext(ctx).
		Where("indicator = ? AND type = ?", indicator, string(iocType)).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s|%s: %w", iocType, indicator, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get ioc", err)
	}
	return m.toRecord(), nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, record *domain.Record) error {
	m := newIOCModel(record)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if record.Version == 1 {
			var n int64
			if err := tx.Model(&iocModel{}).
				Where("indicator = ? AND type = ?", m.Indicator, m.Type).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%s: insert over existing record: %w", record.Key(), domain.ErrMergeConflict)
			}
			return tx.Create(&m).Error
		}

		res := tx.Model(&iocModel{}).
			Where("indicator = ? AND type = ? AND version = ?", m.Indicator, m.Type, record.Version-1).
			Select("*").
			Updates(&m)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%s: no row at version %d: %w", record.Key(), record.Version-1, domain.ErrMergeConflict)
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrMergeConflict) {
		return unavailable("upsert ioc", err)
	}
	return err
}

func (r *SQLiteRepository) AppendLog(ctx context.Context, entry domain.CollectionLog) error {
	m := newCollectionLogModel(entry)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&collectionLogModel{}).
			Where("source = ? AND run_time = ?", m.Source, m.RunTime).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return duplicateLog(entry)
		}
		return tx.Create(&m).Error
	})
	if err != nil && !errors.Is(err, domain.ErrMergeConflict) {
		return unavailable("append collection log", err)
	}
	return err
}

func (r *SQLiteRepository) QueryStats(ctx context.Context, since time.Time) (domain.Stats, error) {
	db := r.db.WithContext(ctx)
	acc := newStatsAccumulator(since)

	rows, err := db.Model(&iocModel{}).Rows()
	if err != nil {
		return domain.Stats{}, unavailable("scan iocs", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m iocModel
		if err := db.ScanRows(rows, &m); err != nil {
			return domain.Stats{}, unavailable("scan ioc", err)
		}
		acc.addRecord(m.toRecord())
	}
	if err := rows.Err(); err != nil {
		return domain.Stats{}, unavailable("iterate iocs", err)
	}

	var runs []struct {
		Status string
		N      int64
	}
	if err := db.Model(&collectionLogModel{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&runs).Error; err != nil {
		return domain.Stats{}, unavailable("count collection logs", err)
	}

	out := acc.stats()
	for _, row := range runs {
		out.CollectionRuns += row.N
		out.RunsByStatus[domain.RunStatus(row.Status)] = row.N
	}
	return out, nil
}

func (r *SQLiteRepository) Find(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	tx := r.db.WithContext(ctx).Model(&iocModel{})
	if q.Type != "" {
		tx = tx.Where("type = ?", string(q.Type))
	}
	if q.Source != "" {
		tx = tx.Where("EXISTS (SELECT 1 FROM json_each(iocs.sources) WHERE json_each.value = ?)", q.Source)
	}
	if q.MinThreatLevel > domain.LevelUnknown {
		tx = tx.Where("threat_level >= ?", int8(q.MinThreatLevel))
	}
	if !q.Since.IsZero() {
		tx = tx.Where("last_seen >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		tx = tx.Where("last_seen <= ?", q.Until.UTC())
	}
	if q.Contains != "" {
		tx = tx.Where(`LOWER(indicator) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(q.Contains))+"%")
	}

	var rows []iocModel
	err := tx.Order("last_seen DESC, type, indicator").
		Limit(q.EffectiveLimit()).
		Offset(q.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("find iocs", err)
	}

	out := make([]domain.Record, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toRecord())
	}
	return out, nil
}

func (r *SQLiteRepository) Logs(ctx context.Context, q domain.LogQuery) ([]domain.CollectionLog, error) {
	tx := r.db.WithContext(ctx).Model(&collectionLogModel{})
	if q.Source != "" {
		tx = tx.Where("source = ?", q.Source)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}

	var rows []collectionLogModel
	if err := tx.Order("run_time DESC, source").Limit(limit).Find(&rows).Error; err != nil {
		return nil, unavailable("list collection logs", err)
	}

	out := make([]domain.CollectionLog, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toCollectionLog())
	}
	return out, nil
}

func (r *SQLiteRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newIOCModel(r *domain.Record) iocModel {
	return iocModel{
		Indicator:   r.Indicator,
		Type:        string(r.Type),
		Sources:     r.Sources,
		FirstSeen:   r.FirstSeen.UTC(),
		LastSeen:    r.LastSeen.UTC(),
		SeenCount:   r.SeenCount,
		Confidence:  int8(r.Confidence),
		ThreatLevel: int8(r.ThreatLevel),
		Metadata:    r.Metadata,
		LastRunID:   r.LastRunID,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (m iocModel) toRecord() *domain.Record {
	return &domain.Record{
		Indicator:   m.Indicator,
		Type:        domain.IOCType(m.Type),
		Sources:     domain.UnionSources(m.Sources),
		FirstSeen:   m.FirstSeen.UTC(),
		LastSeen:    m.LastSeen.UTC(),
		SeenCount:   m.SeenCount,
		Confidence:  domain.Level(m.Confidence),
		ThreatLevel: domain.Level(m.ThreatLevel),
		Metadata:    m.Metadata,
		LastRunID:   m.LastRunID,
		Version:     m.Version,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func newCollectionLogModel(l domain.CollectionLog) collectionLogModel {
	m := collectionLogModel{
		Source:     l.Source,
		RunTime:    l.RunTime.UTC(),
		RunID:      l.RunID,
		Processed:  l.Processed,
		New:        l.New,
		Updated:    l.Updated,
		Unchanged:  l.Unchanged,
		Skipped:    l.Skipped,
		Duplicates: l.Duplicates,
		Failed:     l.Failed,
		Status:     string(l.Status),
	}
	if l.ErrorDetail != "" {
		detail := l.ErrorDetail
		m.ErrorDetail = &detail
	}
	return m
}

func (m collectionLogModel) toCollectionLog() domain.CollectionLog {
	l := domain.CollectionLog{
		RunID:      m.RunID,
		Source:     m.Source,
		RunTime:    m.RunTime.UTC(),
		Processed:  m.Processed,
		New:        m.New,
		Updated:    m.Updated,
		Unchanged:  m.Unchanged,
		Skipped:    m.Skipped,
		Duplicates: m.Duplicates,
		Failed:     m.Failed,
		Status:     domain.RunStatus(m.Status),
	}
	if m.ErrorDetail != nil {
		l.ErrorDetail = *m.ErrorDetail
	}
	return l
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %v", op, domain.ErrStoreUnavailable, err)
}
