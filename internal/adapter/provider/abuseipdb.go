package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

const (
	abuseIPDBBaseURL = "https://api.abuseipdb.com"

	abuseIPDBConfidenceMinimum = 50
	abuseIPDBHighThreatScore   = 75
)

// AbuseIPDBProvider reads the AbuseIPDB blacklist.
type AbuseIPDBProvider struct {
	client  Fetcher
	apiKey  string
	limit   int
	baseURL string
}

func NewAbuseIPDBProvider(client Fetcher, apiKey string, limit int) *AbuseIPDBProvider {
	if limit <= 0 {
		limit = 10000
	}
	return &AbuseIPDBProvider{
		client:  client,
		apiKey:  apiKey,
		limit:   limit,
		baseURL: abuseIPDBBaseURL,
	}
}

func (p *AbuseIPDBProvider) WithBaseURL(base string) *AbuseIPDBProvider {
	p.baseURL = strings.TrimSuffix(base, "/")
	return p
}

func (p *AbuseIPDBProvider) Name() string {
	return "abuseipdb"
}

type abuseIPDBResponse struct {
	Data []struct {
		IPAddress            string `json:"ipAddress"`
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		ISP                  string `json:"isp"`
		LastReportedAt       string `json:"lastReportedAt"`
	} `json:"data"`
}

func (p *AbuseIPDBProvider) FetchIndicators(ctx context.Context) ([]domain.RawIndicator, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("AbuseIPDB API Key is missing")
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(p.limit))
	params.Set("confidenceMinimum", strconv.Itoa(abuseIPDBConfidenceMinimum))

	header := http.Header{}
	header.Set("Key", p.apiKey)
	header.Set("Accept", "application/json")

	body, err := p.client.Get(ctx, p.baseURL+"/api/v2/blacklist?"+params.Encode(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch abuseipdb: %w", err)
	}

	var data abuseIPDBResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode AbuseIPDB json: %w", err)
	}

	indicators := make([]domain.RawIndicator, 0, len(data.Data))
	for _, e := range data.Data {
		threat := domain.LevelMedium
		if e.AbuseConfidenceScore >= abuseIPDBHighThreatScore {
			threat = domain.LevelHigh
		}

		meta := map[string]string{"abuse_score": strconv.Itoa(e.AbuseConfidenceScore)}
		if e.CountryCode != "" {
			meta["country"] = e.CountryCode
		}
		if e.ISP != "" {
			meta["isp"] = e.ISP
		}
		if e.LastReportedAt != "" {
			meta["last_reported_at"] = e.LastReportedAt
		}

		indicators = append(indicators, domain.RawIndicator{
			Value:       e.IPAddress,
			Confidence:  domain.LevelHigh,
			ThreatLevel: threat,
			Metadata:    meta,
		})
	}
	return indicators, nil
}
