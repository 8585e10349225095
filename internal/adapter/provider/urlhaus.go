package provider

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

const urlHausCSV = "https://urlhaus.abuse.ch/downloads/csv_recent/"

// URLHausProvider reads the URLhaus recent CSV dump. With host extraction
// on, each URL also yields its host so that a lookup for "198.0.2.12" finds
// "http://198.0.2.12/malware.sh".
type URLHausProvider struct {
	client      Fetcher
	url         string
	extractHost bool
}

func NewURLHausProvider(client Fetcher, extractHost bool) *URLHausProvider {
	return &URLHausProvider{
		client:      client,
		url:         urlHausCSV,
		extractHost: extractHost,
	}
}

func (p *URLHausProvider) WithURL(u string) *URLHausProvider {
	p.url = u
	return p
}

func (p *URLHausProvider) Name() string {
	return "urlhaus"
}

func (p *URLHausProvider) FetchIndicators(ctx context.Context) ([]domain.RawIndicator, error) {
	body, err := p.client.Get(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch urlhaus: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(body))
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var indicators []domain.RawIndicator
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading csv line: %w", err)
		}
		// 0: id, 1: dateadded, 2: url, 3: url_status, 4: last_online,
		// 5: threat, 6: tags, 7: urlhaus_link, 8: reporter
		if len(record) < 7 {
			continue
		}

		meta := map[string]string{
			"urlhaus_id": record[0],
			"date_added": record[1],
			"url_status": record[3],
		}
		if record[5] != "" {
			meta["threat"] = record[5]
		}
		if tags := strings.TrimSpace(record[6]); tags != "" {
			meta["tags"] = tags
		}

		raw := domain.RawIndicator{
			Value:       record[2],
			Confidence:  domain.LevelHigh,
			ThreatLevel: urlhausThreat(record[3]),
			Metadata:    meta,
		}
		if p.extractHost {
			indicators = append(indicators, domain.ExtractIOCComponents(raw)...)
			continue
		}
		indicators = append(indicators, raw)
	}

	return indicators, nil
}

// urlhausThreat rates URLs that are still serving payloads higher.
func urlhausThreat(status string) domain.Level {
	if status == "online" {
		return domain.LevelHigh
	}
	return domain.LevelMedium
}
