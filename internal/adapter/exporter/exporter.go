package exporter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
)

// maxExportRecords bounds a single feed export.
const maxExportRecords = 10000

// Exporter renders the records seen since a point in time as a SIEM feed.
type Exporter interface {
	Export(ctx context.Context, since time.Time) (string, error)
	ContentType() string
}

// New returns the exporter for format: cef, stix, json or csv.
func New(format string, reader ports.IOCReader) (Exporter, error) {
	switch strings.ToLower(format) {
	case "cef":
		return NewCEFExporter(reader), nil
	case "stix":
		return NewSTIXExporter(reader), nil
	case "", "json":
		return NewJSONExporter(reader), nil
	case "csv":
		return NewCSVExporter(reader), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// fetchSince defaults to the last 24 hours when since is zero.
func fetchSince(ctx context.Context, reader ports.IOCReader, since time.Time) ([]domain.Record, error) {
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	records, err := reader.Find(ctx, domain.Query{Since: since, Limit: maxExportRecords})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch IOCs: %w", err)
	}
	return records, nil
}
