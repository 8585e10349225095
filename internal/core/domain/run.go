package domain

import (
	"time"
)

type MergeOutcome int

const (
	Unchanged MergeOutcome = iota
	Inserted
	Updated
)

func (o MergeOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusPartial RunStatus = "partial"
	StatusFailed  RunStatus = "failed"
)

// RunContext identifies the run and the source a candidate came from.
type RunContext struct {
	RunID   string
	Source  string
	RunTime time.Time
}

// RunSummary is the per-source result of one run.
type RunSummary struct {
	Source     string    `json:"source"`
	Processed  int       `json:"processed"`
	New        int       `json:"new"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Status     RunStatus `json:"status"`
	Err        error     `json:"-"`
}

func (s RunSummary) ErrorDetail() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Record converts the summary into its immutable collection log entry.
func (s RunSummary) Record(run RunContext) CollectionLog {
	return CollectionLog{
		RunID:       run.RunID,
		Source:      s.Source,
		RunTime:     run.RunTime,
		Processed:   s.Processed,
		New:         s.New,
		Updated:     s.Updated,
		Unchanged:   s.Unchanged,
		Skipped:     s.Skipped,
		Duplicates:  s.Duplicates,
		Failed:      s.Failed,
		Status:      s.Status,
		ErrorDetail: s.ErrorDetail(),
	}
}

// CollectionLog is written once per (source, run) and never modified.
type CollectionLog struct {
	RunID       string    `json:"run_id"`
	Source      string    `json:"source"`
	RunTime     time.Time `json:"run_time"`
	Processed   int       `json:"processed"`
	New         int       `json:"new"`
	Updated     int       `json:"updated"`
	Unchanged   int       `json:"unchanged"`
	Skipped     int       `json:"skipped"`
	Duplicates  int       `json:"duplicates"`
	Failed      int       `json:"failed"`
	Status      RunStatus `json:"status"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// RunReport aggregates every source of one run.
type RunReport struct {
	RunID   string       `json:"run_id"`
	RunTime time.Time    `json:"run_time"`
	Sources []RunSummary `json:"sources"`
}

func (r RunReport) Totals() RunSummary {
	total := RunSummary{Source: "*", Status: StatusSuccess}
	for _, s := range r.Sources {
		total.Processed += s.Processed
		total.New += s.New
		total.Updated += s.Updated
		total.Unchanged += s.Unchanged
		total.Skipped += s.Skipped
		total.Duplicates += s.Duplicates
		total.Failed += s.Failed
		total.Status = worseStatus(total.Status, s.Status)
	}
	return total
}

func worseStatus(a, b RunStatus) RunStatus {
	rank := map[RunStatus]int{StatusSuccess: 0, StatusPartial: 1, StatusFailed: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
