package domain

import (
	"strings"
	"time"
)

// Stats is the aggregate view over the historical store.
type Stats struct {
	TotalIOCs      int64               `json:"total_iocs"`
	ByType         map[IOCType]int64   `json:"by_type"`
	BySource       map[string]int64    `json:"by_source"`
	RecentActivity map[string]int64    `json:"recent_activity"` // YYYY-MM-DD of first_seen
	CollectionRuns int64               `json:"collection_runs"`
	RunsByStatus   map[RunStatus]int64 `json:"runs_by_status"`
	AvgSeenCount   float64             `json:"avg_seen_count"`
	MaxSeenCount   int64               `json:"max_seen_count"`
}

func NewStats() Stats {
	return Stats{
		ByType:         map[IOCType]int64{},
		BySource:       map[string]int64{},
		RecentActivity: map[string]int64{},
		RunsByStatus:   map[RunStatus]int64{},
	}
}

// SuccessRate is the share of collection runs that ended in success.
func (s Stats) SuccessRate() float64 {
	if s.CollectionRuns == 0 {
		return 0
	}
	return float64(s.RunsByStatus[StatusSuccess]) / float64(s.CollectionRuns)
}

const DayLayout = "2006-01-02"

// Query filters records for the presentation layer. Zero values disable a
// filter. Since/Until bound LastSeen.
type Query struct {
	Type           IOCType
	Source         string
	MinThreatLevel Level
	Since          time.Time
	Until          time.Time
	Contains       string
	Limit          int
	Offset         int
}

const DefaultQueryLimit = 100

func (q Query) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

// Matches applies the filters to r. Stores without a query language use it
// directly.
func (q Query) Matches(r *Record) bool {
	if q.Type != "" && r.Type != q.Type {
		return false
	}
	if q.Source != "" && !r.HasSource(q.Source) {
		return false
	}
	if r.ThreatLevel < q.MinThreatLevel {
		return false
	}
	if !q.Since.IsZero() && r.LastSeen.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && r.LastSeen.After(q.Until) {
		return false
	}
	if q.Contains != "" && !containsFold(r.Indicator, q.Contains) {
		return false
	}
	return true
}

type LogQuery struct {
	Source string
	Limit  int
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
