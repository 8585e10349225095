package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
	"github.com/hive-corporation/cticollector/internal/logger"
	"github.com/sirupsen/logrus"
)

// MergeEngine folds candidates into the historical store.
type MergeEngine struct {
	store            ports.HistoricalStore
	locker           *KeyLocker
	classifier       *domain.Classifier
	confidencePolicy domain.ScorePolicy
	threatPolicy     domain.ScorePolicy
	now              func() time.Time
}

type EngineOption func(*MergeEngine)

// WithScorePolicy sets how confidence and threat level combine on update.
func WithScorePolicy(confidence, threat domain.ScorePolicy) EngineOption {
	return func(e *MergeEngine) {
		if confidence != nil {
			e.confidencePolicy = confidence
		}
		if threat != nil {
			e.threatPolicy = threat
		}
	}
}

func WithClassifier(c *domain.Classifier) EngineOption {
	return func(e *MergeEngine) {
		if c != nil {
			e.classifier = c
		}
	}
}

func WithLockShards(n int) EngineOption {
	return func(e *MergeEngine) { e.locker = NewKeyLocker(n) }
}

// WithClock replaces time.Now for CreatedAt/UpdatedAt bookkeeping.
func WithClock(now func() time.Time) EngineOption {
	return func(e *MergeEngine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewMergeEngine(store ports.HistoricalStore, opts ...EngineOption) *MergeEngine {
	e := &MergeEngine{
		store:            store,
		locker:           NewKeyLocker(defaultLockShards),
		classifier:       domain.NewClassifier(),
		confidencePolicy: domain.MaxLevel,
		threatPolicy:     domain.MaxLevel,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Collapse runs CollapseBatch with the engine's classifier.
func (e *MergeEngine) Collapse(raws []domain.RawIndicator) Batch {
	return CollapseBatch(e.classifier, raws)
}

// Merge applies one candidate observed by run.Source at run.RunTime.
func (e *MergeEngine) Merge(ctx context.Context, c domain.Candidate, run domain.RunContext) (domain.MergeOutcome, error) {
	outcome, _, err := e.merge(ctx, c, run)
	return outcome, err
}

func (e *MergeEngine) merge(ctx context.Context, c domain.Candidate, run domain.RunContext) (domain.MergeOutcome, *domain.Record, error) {
	unlock := e.locker.Lock(c.Key)
	defer unlock()

	existing, err := e.store.Get(ctx, c.Indicator, c.Type)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec := e.newRecord(c, run)
		if err := e.store.Upsert(ctx, rec); err != nil {
			return domain.Unchanged, nil, storeError("insert", c.Key, err)
		}
		return domain.Inserted, rec, nil
	case err != nil:
		return domain.Unchanged, nil, storeError("get", c.Key, err)
	}

	next, changed := e.apply(existing, c, run)
	if !changed {
		return domain.Unchanged, existing, nil
	}
	if err := e.store.Upsert(ctx, next); err != nil {
		return domain.Unchanged, nil, storeError("update", c.Key, err)
	}
	return domain.Updated, next, nil
}

func (e *MergeEngine) newRecord(c domain.Candidate, run domain.RunContext) *domain.Record {
	now := e.now().UTC()
	return &domain.Record{
		Indicator:   c.Indicator,
		Type:        c.Type,
		Sources:     domain.UnionSources(nil, run.Source),
		FirstSeen:   run.RunTime,
		LastSeen:    run.RunTime,
		SeenCount:   1,
		Confidence:  c.Confidence,
		ThreatLevel: c.ThreatLevel,
		Metadata:    mergeMetadata(nil, c.Metadata, true),
		LastRunID:   run.RunID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// apply returns the merged copy of existing and whether anything changed.
// existing itself is never modified.
func (e *MergeEngine) apply(existing *domain.Record, c domain.Candidate, run domain.RunContext) (*domain.Record, bool) {
	next := existing.Clone()

	if run.RunTime.After(next.LastSeen) {
		next.LastSeen = run.RunTime
	}
	if run.RunTime.Before(next.FirstSeen) {
		next.FirstSeen = run.RunTime
	}
	if next.LastRunID != run.RunID {
		next.SeenCount++
		next.LastRunID = run.RunID
	}
	next.Sources = domain.UnionSources(next.Sources, run.Source)
	next.Metadata = mergeMetadata(next.Metadata, c.Metadata, true)
	next.Confidence = e.confidencePolicy(next.Confidence, c.Confidence)
	next.ThreatLevel = e.threatPolicy(next.ThreatLevel, c.ThreatLevel)

	if !recordChanged(existing, next) {
		return existing, false
	}
	next.Version = existing.Version + 1
	next.UpdatedAt = e.now().UTC()
	return next, true
}

func recordChanged(a, b *domain.Record) bool {
	if !a.FirstSeen.Equal(b.FirstSeen) || !a.LastSeen.Equal(b.LastSeen) {
		return true
	}
	if a.SeenCount != b.SeenCount || a.LastRunID != b.LastRunID {
		return true
	}
	if a.Confidence != b.Confidence || a.ThreatLevel != b.ThreatLevel {
		return true
	}
	if len(a.Sources) != len(b.Sources) {
		return true
	}
	for i := range a.Sources {
		if a.Sources[i] != b.Sources[i] {
			return true
		}
	}
	if len(a.Metadata) != len(b.Metadata) {
		return true
	}
	for k, v := range a.Metadata {
		if bv, ok := b.Metadata[k]; !ok || bv != v {
			return true
		}
	}
	return false
}

// storeError keeps the merge-conflict and store-unavailable sentinels
// distinguishable and wraps anything else as unavailable.
func storeError(op string, key domain.Key, err error) error {
	if errors.Is(err, domain.ErrMergeConflict) || errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	return fmt.Errorf("%s %s: %w: %v", op, key, domain.ErrStoreUnavailable, err)
}

// MergeTally counts what MergeBatch did with a collapsed batch.
type MergeTally struct {
	New       int
	Updated   int
	Unchanged int
	Failed    int // conflicts plus candidates never attempted after an abort
	Conflicts []error
	Inserted  []*domain.Record
}

// Applied is the number of writes that reached the store.
func (t MergeTally) Applied() int {
	return t.New + t.Updated
}

// MergeBatch merges candidates in order. A merge conflict fails only that
// candidate. ErrStoreUnavailable or cancellation stops the batch; the
// remaining candidates are counted as failed and the error is returned.
func (e *MergeEngine) MergeBatch(ctx context.Context, candidates []domain.Candidate, run domain.RunContext) (MergeTally, error) {
	var tally MergeTally
	log := logger.WithFields(logrus.Fields{"source": run.Source, "run_id": run.RunID})

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			tally.Failed += len(candidates) - i
			return tally, fmt.Errorf("merge cancelled after %d of %d candidates: %w", i, len(candidates), err)
		}

		outcome, rec, err := e.merge(ctx, c, run)
		if err != nil {
			if errors.Is(err, domain.ErrMergeConflict) {
				tally.Failed++
				tally.Conflicts = append(tally.Conflicts, err)
				log.WithFields(logrus.Fields{"indicator": c.Indicator, "type": c.Type}).Warn("merge conflict, record skipped")
				continue
			}
			tally.Failed += len(candidates) - i
			return tally, err
		}

		switch outcome {
		case domain.Inserted:
			tally.New++
			tally.Inserted = append(tally.Inserted, rec)
		case domain.Updated:
			tally.Updated++
		default:
			tally.Unchanged++
		}
	}
	return tally, nil
}
