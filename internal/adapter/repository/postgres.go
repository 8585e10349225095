package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS iocs (
		indicator    TEXT        NOT NULL,
		type         TEXT        NOT NULL,
		sources      TEXT[]      NOT NULL DEFAULT '{}',
		first_seen   TIMESTAMPTZ NOT NULL,
		last_seen    TIMESTAMPTZ NOT NULL,
		seen_count   BIGINT      NOT NULL,
		confidence   SMALLINT    NOT NULL,
		threat_level SMALLINT    NOT NULL,
		metadata     JSONB       NOT NULL DEFAULT '{}',
		last_run_id  TEXT        NOT NULL DEFAULT '',
		version      BIGINT      NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (indicator, type)
	);
	CREATE INDEX IF NOT EXISTS iocs_last_seen_idx ON iocs (last_seen DESC);
	CREATE TABLE IF NOT EXISTS collection_logs (
		source       TEXT        NOT NULL,
		run_time     TIMESTAMPTZ NOT NULL,
		run_id       TEXT        NOT NULL,
		processed    INTEGER     NOT NULL,
		new          INTEGER     NOT NULL,
		updated      INTEGER     NOT NULL,
		unchanged    INTEGER     NOT NULL,
		skipped      INTEGER     NOT NULL,
		duplicates   INTEGER     NOT NULL,
		failed       INTEGER     NOT NULL,
		status       TEXT        NOT NULL,
		error_detail TEXT,
		PRIMARY KEY (source, run_time)
	);
`

const iocColumns = `indicator, type, sources, first_seen, last_seen, seen_count, confidence,
	threat_level, metadata, last_run_id, version, created_at, updated_at`

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// OpenPostgres connects to databaseURL and bootstraps the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	r := NewPostgresRepository(pool)
	if err := r.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, indicator string, iocType domain.IOCType) (*domain.Record, error) {
	query := `SELECT ` + iocColumns + ` FROM iocs WHERE indicator = $1 AND type = $2`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, indicator, string(iocType)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s|%s: %w", iocType, indicator, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get ioc", err)
	}
	return rec, nil
}

// Upsert relies on the conflict clause for the version check: the update
// branch only fires when the stored row is exactly one version behind, and an
// insert over an existing row never does.
func (r *PostgresRepository) Upsert(ctx context.Context, record *domain.Record) error {
	query := `
		INSERT INTO iocs (` + iocColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (indicator, type) DO UPDATE SET
			sources = EXCLUDED.sources,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			seen_count = EXCLUDED.seen_count,
			confidence = EXCLUDED.confidence,
			threat_level = EXCLUDED.threat_level,
			metadata = EXCLUDED.metadata,
			last_run_id = EXCLUDED.last_run_id,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE iocs.version = EXCLUDED.version - 1
	`

	sources := record.Sources
	if sources == nil {
		sources = []string{}
	}
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	tag, err := r.db.Exec(ctx, query,
		record.Indicator,
		string(record.Type),
		sources,
		record.FirstSeen,
		record.LastSeen,
		record.SeenCount,
		int16(record.Confidence),
		int16(record.ThreatLevel),
		metadata,
		record.LastRunID,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return unavailable("upsert ioc", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: write version %d rejected: %w", record.Key(), record.Version, domain.ErrMergeConflict)
	}
	return nil
}

func (r *PostgresRepository) AppendLog(ctx context.Context, entry domain.CollectionLog) error {
	return r.AppendLogs(ctx, []domain.CollectionLog{entry})
}

// AppendLogs writes several collection logs in one round trip.
func (r *PostgresRepository) AppendLogs(ctx context.Context, entries []domain.CollectionLog) error {
	batch := &pgx.Batch{}

	query := `
		INSERT INTO collection_logs (source, run_time, run_id, processed, new, updated, unchanged,
			skipped, duplicates, failed, status, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (source, run_time) DO NOTHING
	`

	for _, l := range entries {
		var detail *string
		if l.ErrorDetail != "" {
			detail = &l.ErrorDetail
		}
		batch.Queue(query,
			l.Source,
			l.RunTime,
			l.RunID,
			l.Processed,
			l.New,
			l.Updated,
			l.Unchanged,
			l.Skipped,
			l.Duplicates,
			l.Failed,
			string(l.Status),
			detail,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for _, l := range entries {
		tag, err := br.Exec()
		if err != nil {
			return unavailable("execute batch", err)
		}
		if tag.RowsAffected() == 0 {
			return duplicateLog(l)
		}
	}
	return nil
}

func (r *PostgresRepository) QueryStats(ctx context.Context, since time.Time) (domain.Stats, error) {
	out := domain.NewStats()

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(seen_count), 0)::float8, COALESCE(MAX(seen_count), 0) FROM iocs`,
	).Scan(&out.TotalIOCs, &out.AvgSeenCount, &out.MaxSeenCount)
	if err != nil {
		return domain.Stats{}, unavailable("count iocs", err)
	}

	groups := []struct {
		query string
		args  []any
		put   func(key string, n int64)
	}{
		{
			query: `SELECT type, COUNT(*) FROM iocs GROUP BY type`,
			put:   func(k string, n int64) { out.ByType[domain.IOCType(k)] = n },
		},
		{
			query: `SELECT s, COUNT(*) FROM iocs, unnest(sources) AS s GROUP BY s`,
			put:   func(k string, n int64) { out.BySource[k] = n },
		},
		{
			query: `SELECT to_char(first_seen AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
				FROM iocs WHERE first_seen >= $1 GROUP BY day`,
			args: []any{since},
			put:  func(k string, n int64) { out.RecentActivity[k] = n },
		},
		{
			query: `SELECT status, COUNT(*) FROM collection_logs GROUP BY status`,
			put: func(k string, n int64) {
				out.RunsByStatus[domain.RunStatus(k)] = n
				out.CollectionRuns += n
			},
		},
	}

	for _, g := range groups {
		if err := r.groupCount(ctx, g.query, g.args, g.put); err != nil {
			return domain.Stats{}, err
		}
	}
	return out, nil
}

func (r *PostgresRepository) groupCount(ctx context.Context, query string, args []any, put func(string, int64)) error {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return unavailable("query stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return unavailable("scan stats", err)
		}
		put(key, n)
	}
	if err := rows.Err(); err != nil {
		return unavailable("iterate stats", err)
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if q.Type != "" {
		add("type = $%d", string(q.Type))
	}
	if q.Source != "" {
		add("$%d = ANY(sources)", q.Source)
	}
	if q.MinThreatLevel > domain.LevelUnknown {
		add("threat_level >= $%d", int16(q.MinThreatLevel))
	}
	if !q.Since.IsZero() {
		add("last_seen >= $%d", q.Since)
	}
	if !q.Until.IsZero() {
		add("last_seen <= $%d", q.Until)
	}
	if q.Contains != "" {
		add("indicator ILIKE '%%' || $%d || '%%'", escapeLike(q.Contains))
	}

	query := `SELECT ` + iocColumns + ` FROM iocs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, q.EffectiveLimit(), q.Offset)
	query += fmt.Sprintf(" ORDER BY last_seen DESC, type, indicator LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query iocs", err)
	}
	defer rows.Close()

	out := []domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("scan ioc", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate iocs", err)
	}
	return out, nil
}

func (r *PostgresRepository) Logs(ctx context.Context, q domain.LogQuery) ([]domain.CollectionLog, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}

	query := `
		SELECT run_id, source, run_time, processed, new, updated, unchanged, skipped,
			duplicates, failed, status, error_detail
		FROM collection_logs
		WHERE ($1 = '' OR source = $1)
		ORDER BY run_time DESC, source
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, q.Source, limit)
	if err != nil {
		return nil, unavailable("query collection logs", err)
	}
	defer rows.Close()

	out := []domain.CollectionLog{}
	for rows.Next() {
		var l domain.CollectionLog
		var status string
		var detail *string
		err := rows.Scan(
			&l.RunID,
			&l.Source,
			&l.RunTime,
			&l.Processed,
			&l.New,
			&l.Updated,
			&l.Unchanged,
			&l.Skipped,
			&l.Duplicates,
			&l.Failed,
			&status,
			&detail,
		)
		if err != nil {
			return nil, unavailable("scan collection log", err)
		}
		l.RunTime = l.RunTime.UTC()
		l.Status = domain.RunStatus(status)
		if detail != nil {
			l.ErrorDetail = *detail
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate collection logs", err)
	}
	return out, nil
}

func (r *PostgresRepository) Close() error {
	r.db.Close()
	return nil
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var rec domain.Record
	var iocType string
	var confidence, threat int16

	err := row.Scan(
		&rec.Indicator,
		&iocType,
		&rec.Sources,
		&rec.FirstSeen,
		&rec.LastSeen,
		&rec.SeenCount,
		&confidence,
		&threat,
		&rec.Metadata,
		&rec.LastRunID,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Type = domain.IOCType(iocType)
	rec.Confidence = domain.Level(confidence)
	rec.ThreatLevel = domain.Level(threat)
	rec.Sources = domain.UnionSources(rec.Sources)
	rec.FirstSeen = rec.FirstSeen.UTC()
	rec.LastSeen = rec.LastSeen.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if len(rec.Metadata) == 0 {
		rec.Metadata = nil
	}
	return &rec, nil
}
