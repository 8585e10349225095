package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
	"github.com/hive-corporation/cticollector/internal/logger"
	"github.com/hive-corporation/cticollector/internal/metrics"
)

// OrchestratorConfig is everything a run needs besides its collaborators.
type OrchestratorConfig struct {
	FetchConcurrency int           // sources fetched at once, <= 0 means all
	FetchTimeout     time.Duration // per source, 0 disables
	NotifyMinThreat  domain.Level  // LevelUnknown disables per-IOC alerts
}

// Orchestrator runs one collection pass over every provider.
type Orchestrator struct {
	cfg       OrchestratorConfig
	engine    *MergeEngine
	store     ports.HistoricalStore
	providers []ports.ThreatProvider
	notifiers []ports.Notifier
	tracer    trace.Tracer
	now       func() time.Time
	newRunID  func() string
}

func NewOrchestrator(cfg OrchestratorConfig, store ports.HistoricalStore, engine *MergeEngine, providers []ports.ThreatProvider, notifiers ...ports.Notifier) *Orchestrator {
	if engine == nil {
		engine = NewMergeEngine(store)
	}
	return &Orchestrator{
		cfg:       cfg,
		engine:    engine,
		store:     store,
		providers: providers,
		notifiers: notifiers,
		tracer:    otel.Tracer("cticollector-orchestrator"),
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
}

// Run fetches every provider and merges each payload under a single run id
// and run time. A failing source never stops the others. The returned error
// is non-nil only when ctx ended before the run finished.
func (o *Orchestrator) Run(ctx context.Context) (domain.RunReport, error) {
	run := domain.RunContext{RunID: o.newRunID(), RunTime: o.now().UTC().Truncate(time.Microsecond)}
	report := domain.RunReport{RunID: run.RunID, RunTime: run.RunTime, Sources: make([]domain.RunSummary, len(o.providers))}

	ctx, span := o.tracer.Start(ctx, "collection.run",
		trace.WithAttributes(
			attribute.String("run.id", run.RunID),
			attribute.Int("run.sources", len(o.providers)),
		),
	)
	defer span.End()

	log := logger.WithFields(logrus.Fields{"run_id": run.RunID})
	log.Infof("🚀 Starting collection run over %d sources", len(o.providers))

	g, gctx := errgroup.WithContext(ctx)
	if o.cfg.FetchConcurrency > 0 {
		g.SetLimit(o.cfg.FetchConcurrency)
	}
	for i, p := range o.providers {
		g.Go(func() error {
			sourceRun := run
			sourceRun.Source = p.Name()
			report.Sources[i] = o.runSource(gctx, sourceRun, p)
			return nil
		})
	}
	_ = g.Wait()

	totals := report.Totals()
	span.SetAttributes(attribute.String("run.status", string(totals.Status)))
	metrics.MarkRunFinished(o.now())
	log.WithFields(logrus.Fields{
		"status":    totals.Status,
		"processed": totals.Processed,
		"new":       totals.New,
		"updated":   totals.Updated,
		"skipped":   totals.Skipped,
		"failed":    totals.Failed,
	}).Info("✅ Collection run finished")

	o.notifyRun(context.WithoutCancel(ctx), report)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("collection run %s interrupted: %w", run.RunID, err)
	}
	return report, nil
}

func (o *Orchestrator) runSource(ctx context.Context, run domain.RunContext, p ports.ThreatProvider) domain.RunSummary {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "collection.source",
		trace.WithAttributes(attribute.String("source", run.Source)),
	)
	defer span.End()

	fetchCtx := ctx
	if o.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
	}

	var summary domain.RunSummary
	raws, err := p.FetchIndicators(fetchCtx)
	if err != nil {
		summary = domain.RunSummary{
			Source: run.Source,
			Status: domain.StatusFailed,
			Err:    fmt.Errorf("fetch %s: %w", run.Source, err),
		}
		o.appendLog(ctx, run, &summary)
	} else {
		summary = o.Ingest(ctx, run, raws)
	}

	if summary.Err != nil {
		span.RecordError(summary.Err)
		span.SetStatus(codes.Error, string(summary.Status))
	}
	metrics.RecordRun(run.Source, string(summary.Status), time.Since(started))
	return summary
}

// Ingest collapses and merges one source's pre-fetched payload and appends
// its collection log. It is the whole core pipeline for one source.
func (o *Orchestrator) Ingest(ctx context.Context, run domain.RunContext, raws []domain.RawIndicator) domain.RunSummary {
	log := logger.WithFields(logrus.Fields{"source": run.Source, "run_id": run.RunID})

	batch := o.engine.Collapse(raws)
	summary := domain.RunSummary{
		Source:     run.Source,
		Processed:  batch.Processed,
		Skipped:    batch.Skipped,
		Duplicates: batch.Duplicates,
	}
	if batch.Skipped > 0 {
		log.WithField("reasons", batch.SkippedReasons()).Debugf("skipped %d unrecognized tokens", batch.Skipped)
	}

	tally, err := o.engine.MergeBatch(ctx, batch.Candidates, run)
	summary.New = tally.New
	summary.Updated = tally.Updated
	summary.Unchanged = tally.Unchanged
	summary.Failed = tally.Failed
	summary.Status = statusFor(ctx, tally, err)

	switch {
	case err != nil && ctx.Err() != nil:
		summary.Err = fmt.Errorf("run cancelled: %w", errors.Join(ctx.Err(), err))
	case err != nil:
		summary.Err = err
	case len(tally.Conflicts) > 0:
		summary.Err = fmt.Errorf("%d merge conflicts: %w", len(tally.Conflicts), errors.Join(tally.Conflicts...))
	}

	o.appendLog(ctx, run, &summary)
	recordTokenMetrics(summary)
	o.notifyInserted(context.WithoutCancel(ctx), run, tally.Inserted)

	return summary
}

// statusFor never reports success for an aborted batch. A store outage
// fails the source outright; a cancellation keeps partial credit.
func statusFor(ctx context.Context, tally MergeTally, err error) domain.RunStatus {
	switch {
	case err != nil && ctx.Err() == nil && errors.Is(err, domain.ErrStoreUnavailable):
		return domain.StatusFailed
	case err != nil && tally.Applied() == 0:
		return domain.StatusFailed
	case err != nil, tally.Failed > 0:
		return domain.StatusPartial
	default:
		return domain.StatusSuccess
	}
}

// appendLog writes the collection log even when ctx is already cancelled.
// If the log itself cannot be written the summary is downgraded.
func (o *Orchestrator) appendLog(ctx context.Context, run domain.RunContext, summary *domain.RunSummary) {
	log := logger.WithFields(logrus.Fields{"source": run.Source, "run_id": run.RunID})

	if err := o.store.AppendLog(context.WithoutCancel(ctx), summary.Record(run)); err != nil {
		log.WithError(err).Error("❌ Failed to write collection log")
		summary.Err = errors.Join(summary.Err, fmt.Errorf("append collection log: %w", err))
		if summary.Status == domain.StatusSuccess {
			summary.Status = domain.StatusPartial
		}
	}

	entry := log.WithFields(logrus.Fields{
		"status":     summary.Status,
		"processed":  summary.Processed,
		"new":        summary.New,
		"updated":    summary.Updated,
		"unchanged":  summary.Unchanged,
		"skipped":    summary.Skipped,
		"duplicates": summary.Duplicates,
		"failed":     summary.Failed,
	})
	if summary.Err != nil {
		entry.WithError(summary.Err).Warn("⚠️ Source finished with errors")
		return
	}
	entry.Info("Source finished")
}

func recordTokenMetrics(s domain.RunSummary) {
	metrics.RecordTokens(s.Source, "new", s.New)
	metrics.RecordTokens(s.Source, "updated", s.Updated)
	metrics.RecordTokens(s.Source, "unchanged", s.Unchanged)
	metrics.RecordTokens(s.Source, "skipped", s.Skipped)
	metrics.RecordTokens(s.Source, "duplicate", s.Duplicates)
	metrics.RecordTokens(s.Source, "failed", s.Failed)
}

func (o *Orchestrator) notifyInserted(ctx context.Context, run domain.RunContext, inserted []*domain.Record) {
	if len(o.notifiers) == 0 || o.cfg.NotifyMinThreat == domain.LevelUnknown {
		return
	}
	for _, rec := range inserted {
		if rec.ThreatLevel < o.cfg.NotifyMinThreat {
			continue
		}
		msg := ports.IOCNotification{
			Value:       rec.Indicator,
			Type:        string(rec.Type),
			ThreatLevel: rec.ThreatLevel.String(),
			Confidence:  domain.ConfidenceScore(*rec),
			Sources:     rec.Sources,
			RunID:       run.RunID,
		}
		for _, n := range o.notifiers {
			if err := n.NotifyHighThreatIOC(ctx, msg); err != nil {
				logger.WithFields(logrus.Fields{"notifier": n.Name(), "indicator": rec.Indicator}).
					WithError(err).Warn("Failed to send IOC notification")
			}
		}
	}
}

func (o *Orchestrator) notifyRun(ctx context.Context, report domain.RunReport) {
	if len(o.notifiers) == 0 {
		return
	}
	msg := RunNotification(report)
	for _, n := range o.notifiers {
		if err := n.NotifyRunSummary(ctx, msg); err != nil {
			logger.WithFields(logrus.Fields{"notifier": n.Name()}).WithError(err).Warn("Failed to send run summary")
		}
	}
}

// RunNotification flattens a report for notifiers.
func RunNotification(report domain.RunReport) ports.RunNotification {
	msg := ports.RunNotification{
		RunID:   report.RunID,
		RunTime: report.RunTime.Format(time.RFC3339),
		Status:  string(report.Totals().Status),
	}
	for _, s := range report.Sources {
		msg.Sources = append(msg.Sources, ports.SourceOutcome{
			Source:    s.Source,
			Status:    string(s.Status),
			Processed: s.Processed,
			New:       s.New,
			Updated:   s.Updated,
			Skipped:   s.Skipped,
			Failed:    s.Failed,
			Error:     s.ErrorDetail(),
		})
	}
	return msg
}
