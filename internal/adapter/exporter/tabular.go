package exporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
)

// JSONExporter writes the records as a JSON array.
type JSONExporter struct {
	reader ports.IOCReader
}

func NewJSONExporter(reader ports.IOCReader) *JSONExporter {
	return &JSONExporter{reader: reader}
}

func (e *JSONExporter) ContentType() string {
	return "application/json"
}

func (e *JSONExporter) Export(ctx context.Context, since time.Time) (string, error) {
	records, err := fetchSince(ctx, e.reader, since)
	if err != nil {
		return "", err
	}
	if records == nil {
		records = []domain.Record{}
	}

	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to marshal records: %w", err)
	}
	return string(data), nil
}

var csvHeader = []string{
	"indicator", "type", "sources", "first_seen", "last_seen",
	"seen_count", "confidence", "threat_level", "confidence_score",
}

// CSVExporter writes one row per record with a header line.
type CSVExporter struct {
	reader ports.IOCReader
}

func NewCSVExporter(reader ports.IOCReader) *CSVExporter {
	return &CSVExporter{reader: reader}
}

func (e *CSVExporter) ContentType() string {
	return "text/csv; charset=utf-8"
}

func (e *CSVExporter) Export(ctx context.Context, since time.Time) (string, error) {
	records, err := fetchSince(ctx, e.reader, since)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", err
	}
	for _, r := range records {
		row := []string{
			r.Indicator,
			string(r.Type),
			strings.Join(r.Sources, ";"),
			r.FirstSeen.UTC().Format(time.RFC3339),
			r.LastSeen.UTC().Format(time.RFC3339),
			strconv.FormatInt(r.SeenCount, 10),
			r.Confidence.String(),
			r.ThreatLevel.String(),
			strconv.Itoa(domain.ConfidenceScore(r)),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.String(), nil
}
