package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
)

// stixNamespace seeds deterministic indicator ids so re-exports of the same
// (indicator, type) keep their STIX id.
var stixNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// STIXExporter exports IOCs in STIX 2.1 format for SIEM ingestion
type STIXExporter struct {
	reader ports.IOCReader
	now    func() time.Time
}

func NewSTIXExporter(reader ports.IOCReader) *STIXExporter {
	return &STIXExporter{reader: reader, now: time.Now}
}

func (e *STIXExporter) ContentType() string {
	return "application/stix+json;version=2.1"
}

// Export generates a STIX 2.1 bundle
func (e *STIXExporter) Export(ctx context.Context, since time.Time) (string, error) {
	records, err := fetchSince(ctx, e.reader, since)
	if err != nil {
		return "", err
	}

	bundle := STIXBundle{
		Type:    "bundle",
		ID:      fmt.Sprintf("bundle--%s", uuid.New().String()),
		Objects: make([]STIXObject, 0, len(records)),
	}

	now := e.now().UTC().Format(time.RFC3339)
	for _, r := range records {
		bundle.Objects = append(bundle.Objects, ToSTIX(r, now))
	}

	jsonData, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal STIX bundle: %w", err)
	}
	return string(jsonData), nil
}

// ToSTIX converts a record into a STIX indicator created at now.
func ToSTIX(r domain.Record, now string) STIXObject {
	refs := make([]ExternalReference, 0, len(r.Sources))
	for _, s := range r.Sources {
		refs = append(refs, ExternalReference{SourceName: s, URL: sourceURLs[s]})
	}

	var labels []string
	if t := r.Metadata["tags"]; t != "" {
		labels = strings.Split(t, ",")
		sort.Strings(labels)
	}

	return STIXObject{
		Type:               "indicator",
		SpecVersion:        "2.1",
		ID:                 "indicator--" + uuid.NewSHA1(stixNamespace, []byte(r.Key().String())).String(),
		Created:            r.CreatedAt.UTC().Format(time.RFC3339),
		Modified:           now,
		Name:               fmt.Sprintf("%s Indicator", strings.ToUpper(string(r.Type))),
		Pattern:            Pattern(r),
		PatternType:        "stix",
		ValidFrom:          r.FirstSeen.UTC().Format(time.RFC3339),
		IndicatorTypes:     indicatorTypes(r),
		Confidence:         domain.ConfidenceScore(r),
		Labels:             labels,
		ExternalReferences: refs,
	}
}

// Pattern builds the STIX pattern for the record's type.
func Pattern(r domain.Record) string {
	v := strings.ReplaceAll(strings.ReplaceAll(r.Indicator, `\`, `\\`), `'`, `\'`)
	switch r.Type {
	case domain.IPv4:
		return fmt.Sprintf("[ipv4-addr:value = '%s']", v)
	case domain.IPv6:
		return fmt.Sprintf("[ipv6-addr:value = '%s']", v)
	case domain.Domain:
		return fmt.Sprintf("[domain-name:value = '%s']", v)
	case domain.URL:
		return fmt.Sprintf("[url:value = '%s']", v)
	case domain.HashMD5:
		return fmt.Sprintf("[file:hashes.'MD5' = '%s']", v)
	case domain.HashSHA1:
		return fmt.Sprintf("[file:hashes.'SHA-1' = '%s']", v)
	case domain.HashSHA256:
		return fmt.Sprintf("[file:hashes.'SHA-256' = '%s']", v)
	default:
		return fmt.Sprintf("[x-custom:value = '%s']", v)
	}
}

func indicatorTypes(r domain.Record) []string {
	mapping := map[string][]string{
		"malware_download": {"malicious-activity", "malware-download"},
		"botnet_cc":        {"malicious-activity", "command-and-control"},
		"phishing":         {"malicious-activity", "phishing"},
	}
	if types, ok := mapping[r.Metadata["threat"]]; ok {
		return types
	}
	if r.ThreatLevel <= domain.LevelLow {
		return []string{"anomalous-activity"}
	}
	return []string{"malicious-activity"}
}

var sourceURLs = map[string]string{
	"otx":           "https://otx.alienvault.com",
	"abuseipdb":     "https://www.abuseipdb.com",
	"malwarebazaar": "https://bazaar.abuse.ch",
	"urlhaus":       "https://urlhaus.abuse.ch",
}

// STIX 2.1 data structures

type STIXBundle struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Objects []STIXObject `json:"objects"`
}

type STIXObject struct {
	Type               string              `json:"type"`
	SpecVersion        string              `json:"spec_version"`
	ID                 string              `json:"id"`
	Created            string              `json:"created"`
	Modified           string              `json:"modified"`
	Name               string              `json:"name"`
	Pattern            string              `json:"pattern"`
	PatternType        string              `json:"pattern_type"`
	ValidFrom          string              `json:"valid_from"`
	IndicatorTypes     []string            `json:"indicator_types"`
	Confidence         int                 `json:"confidence"`
	Labels             []string            `json:"labels,omitempty"`
	ExternalReferences []ExternalReference `json:"external_references,omitempty"`
}

type ExternalReference struct {
	SourceName string `json:"source_name"`
	URL        string `json:"url,omitempty"`
}
