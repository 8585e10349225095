package exporter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
)

// CEFExporter exports IOCs in Common Event Format for SIEM ingestion
type CEFExporter struct {
	reader ports.IOCReader
}

func NewCEFExporter(reader ports.IOCReader) *CEFExporter {
	return &CEFExporter{reader: reader}
}

func (e *CEFExporter) ContentType() string {
	return "text/plain; charset=utf-8"
}

// Export generates one CEF line per record.
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(ctx context.Context, since time.Time) (string, error) {
	records, err := fetchSince(ctx, e.reader, since)
	if err != nil {
		return "", err
	}

	var output strings.Builder
	for _, r := range records {
		output.WriteString(FormatCEF(r))
		output.WriteString("\n")
	}
	return output.String(), nil
}

// FormatCEF renders a single record.
func FormatCEF(r domain.Record) string {
	score := domain.ConfidenceScore(r)

	extensions := []string{
		fmt.Sprintf("src=%s", escapeExtension(r.Indicator)),
		"cn1Label=ConfidenceScore",
		fmt.Sprintf("cn1=%d", score),
		"cn2Label=SeenCount",
		fmt.Sprintf("cn2=%d", r.SeenCount),
		"cs1Label=ThreatLevel",
		fmt.Sprintf("cs1=%s", r.ThreatLevel),
		"cs2Label=Sources",
		fmt.Sprintf("cs2=%s", escapeExtension(strings.Join(r.Sources, ","))),
		"cs3Label=Tags",
		fmt.Sprintf("cs3=%s", escapeExtension(tags(r))),
		fmt.Sprintf("rt=%d", r.FirstSeen.UnixMilli()),
		fmt.Sprintf("end=%d", r.LastSeen.UnixMilli()),
	}

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		"HiveCorporation", "CTICollector", "1.0",
		escapeHeader(string(r.Type)),
		escapeHeader(fmt.Sprintf("%s IOC Detected", strings.ToUpper(string(r.Type)))),
		severity(r, score),
		strings.Join(extensions, " "))
}

// severity maps the 0-100 score to CEF 0-10, never below what the
// threat level alone implies.
func severity(r domain.Record, score int) int {
	var s int
	switch {
	case score >= 90:
		s = 10
	case score >= 80:
		s = 8
	case score >= 70:
		s = 6
	case score >= 60:
		s = 4
	default:
		s = 2
	}
	if floor := 2 * int(r.ThreatLevel); floor > s {
		s = floor
	}
	return s
}

// tags flattens the "tags" and "threat" metadata the feeds attach.
func tags(r domain.Record) string {
	var out []string
	for _, key := range []string{"threat", "tags"} {
		if v := r.Metadata[key]; v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	return s
}

func escapeExtension(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
