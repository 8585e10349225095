package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

const malwareBazaarURL = "https://bazaar.abuse.ch/export/txt/sha256/recent/"

// MalwareBazaarProvider reads the recent SHA256 export. No API key needed.
type MalwareBazaarProvider struct {
	client Fetcher
	url    string
	limit  int
}

func NewMalwareBazaarProvider(client Fetcher, limit int) *MalwareBazaarProvider {
	return &MalwareBazaarProvider{
		client: client,
		url:    malwareBazaarURL,
		limit:  limit,
	}
}

func (p *MalwareBazaarProvider) WithURL(u string) *MalwareBazaarProvider {
	p.url = u
	return p
}

func (p *MalwareBazaarProvider) Name() string {
	return "malwarebazaar"
}

func (p *MalwareBazaarProvider) FetchIndicators(ctx context.Context) ([]domain.RawIndicator, error) {
	body, err := p.client.Get(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch malwarebazaar: %w", err)
	}

	var indicators []domain.RawIndicator
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(line) != 64 {
			continue
		}

		indicators = append(indicators, domain.RawIndicator{
			Value:       line,
			Confidence:  domain.LevelVeryHigh,
			ThreatLevel: domain.LevelHigh,
		})
		if p.limit > 0 && len(indicators) >= p.limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return indicators, nil
}
