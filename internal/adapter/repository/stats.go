package repository

import (
	"time"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

// statsAccumulator builds domain.Stats for backends that scan records
// themselves instead of aggregating in SQL.
type statsAccumulator struct {
	since   time.Time
	out     domain.Stats
	seenSum int64
}

func newStatsAccumulator(since time.Time) *statsAccumulator {
	return &statsAccumulator{since: since, out: domain.NewStats()}
}

func (a *statsAccumulator) addRecord(rec *domain.Record) {
	a.out.TotalIOCs++
	a.out.ByType[rec.Type]++
	for _, s := range rec.Sources {
		a.out.BySource[s]++
	}
	if !rec.FirstSeen.Before(a.since) {
		a.out.RecentActivity[rec.FirstSeen.UTC().Format(domain.DayLayout)]++
	}
	a.seenSum += rec.SeenCount
	if rec.SeenCount > a.out.MaxSeenCount {
		a.out.MaxSeenCount = rec.SeenCount
	}
}

func (a *statsAccumulator) addLog(l domain.CollectionLog) {
	a.out.CollectionRuns++
	a.out.RunsByStatus[l.Status]++
}

func (a *statsAccumulator) stats() domain.Stats {
	if a.out.TotalIOCs > 0 {
		a.out.AvgSeenCount = float64(a.seenSum) / float64(a.out.TotalIOCs)
	}
	return a.out
}
