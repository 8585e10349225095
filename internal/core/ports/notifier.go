package ports

import "context"

// Notifier defines the interface for sending notifications to external systems
type Notifier interface {
	// NotifyRunSummary is sent once per run after every source has finished
	NotifyRunSummary(ctx context.Context, summary RunNotification) error

	// NotifyHighThreatIOC is sent for each newly inserted indicator at or above
	// the configured threat level
	NotifyHighThreatIOC(ctx context.Context, ioc IOCNotification) error

	Name() string
}

// Notification data structures

type IOCNotification struct {
	Value       string   `json:"value"`
	Type        string   `json:"type"`
	ThreatLevel string   `json:"threat_level"`
	Confidence  int      `json:"confidence"`
	Sources     []string `json:"sources"`
	RunID       string   `json:"run_id"`
}

type RunNotification struct {
	RunID   string          `json:"run_id"`
	RunTime string          `json:"run_time"`
	Status  string          `json:"status"`
	Sources []SourceOutcome `json:"sources"`
}

type SourceOutcome struct {
	Source    string `json:"source"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	New       int    `json:"new"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}
