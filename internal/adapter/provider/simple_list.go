package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

// SimpleListProvider reads one indicator per line from a plain text
// blocklist (feodo, cins, tor exit nodes and the like). Blank lines and
// "#" or "//" comments are skipped.
type SimpleListProvider struct {
	client       Fetcher
	url          string
	providerName string
	threatLevel  domain.Level
	extractHost  bool
}

func NewSimpleListProvider(client Fetcher, providerName, url string, threatLevel domain.Level) *SimpleListProvider {
	return &SimpleListProvider{
		client:       client,
		providerName: providerName,
		url:          url,
		threatLevel:  threatLevel,
	}
}

// WithHostExtraction makes URL lines also yield their host.
func (p *SimpleListProvider) WithHostExtraction() *SimpleListProvider {
	p.extractHost = true
	return p
}

func (p *SimpleListProvider) Name() string {
	return p.providerName
}

func (p *SimpleListProvider) FetchIndicators(ctx context.Context) ([]domain.RawIndicator, error) {
	body, err := p.client.Get(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch IOCs from %s: %w", p.url, err)
	}

	var indicators []domain.RawIndicator
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		if idx := strings.Index(line, "#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}
		// "ip<TAB>score" and "ip,port" style columns
		if fields := strings.FieldsFunc(line, func(r rune) bool { return r == '\t' || r == ',' || r == ' ' }); len(fields) > 0 {
			line = fields[0]
		}
		line = stripIPv4Port(line)
		if line == "" {
			continue
		}

		raw := domain.RawIndicator{
			Value:       line,
			ThreatLevel: p.threatLevel,
			Metadata:    map[string]string{"list": p.providerName},
		}
		if p.extractHost {
			indicators = append(indicators, domain.ExtractIOCComponents(raw)...)
			continue
		}
		indicators = append(indicators, raw)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}

	return indicators, nil
}

// stripIPv4Port turns "1.2.3.4:8080" into "1.2.3.4". URLs and IPv6 are
// left alone.
func stripIPv4Port(s string) string {
	if strings.Contains(s, "://") || strings.Count(s, ":") != 1 {
		return s
	}
	host := s[:strings.Index(s, ":")]
	if domain.IsIPv4(host) {
		return host
	}
	return s
}
