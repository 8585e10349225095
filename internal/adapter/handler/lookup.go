package handler

import (
	"context"
	"errors"

	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
)

// CheckResult is the answer to "have we seen this indicator".
type CheckResult struct {
	Value           string         `json:"value"`
	Exists          bool           `json:"exists"`
	Indicator       string         `json:"indicator"`
	Type            domain.IOCType `json:"type"`
	ConfidenceScore int            `json:"confidence_score,omitempty"`
	Record          *domain.Record `json:"record,omitempty"`
}

// lookup canonicalizes value the way ingestion does before reading the
// store, so "HTTP://Evil.COM/" finds "http://evil.com".
func lookup(ctx context.Context, reader ports.IOCReader, value string) (CheckResult, error) {
	key, _, err := domain.Canonicalize(value)
	if err != nil {
		return CheckResult{}, err
	}

	result := CheckResult{Value: value, Indicator: key.Indicator, Type: key.Type}
	rec, err := reader.Get(ctx, key.Indicator, key.Type)
	if errors.Is(err, domain.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return CheckResult{}, err
	}

	result.Exists = true
	result.Record = rec
	result.ConfidenceScore = domain.ConfidenceScore(*rec)
	return result, nil
}
