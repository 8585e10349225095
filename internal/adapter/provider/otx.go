package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/logger"
)

const otxBaseURL = "https://otx.alienvault.com"

// OTXProvider collects the URL list OTX holds for each watched domain.
type OTXProvider struct {
	client  Fetcher
	apiKey  string
	domains []string
	baseURL string
}

func NewOTXProvider(client Fetcher, apiKey string, domains []string) *OTXProvider {
	return &OTXProvider{
		client:  client,
		apiKey:  apiKey,
		domains: domains,
		baseURL: otxBaseURL,
	}
}

// WithBaseURL points the provider at another OTX-compatible host.
func (p *OTXProvider) WithBaseURL(base string) *OTXProvider {
	p.baseURL = strings.TrimSuffix(base, "/")
	return p
}

func (p *OTXProvider) Name() string {
	return "otx"
}

type otxURLList struct {
	URLList []otxURLEntry `json:"url_list"`
}

type otxURLEntry struct {
	URL      string          `json:"url"`
	ID       json.RawMessage `json:"id"`
	Hostname string          `json:"hostname"`
	Date     string          `json:"date"`
}

// FetchIndicators queries every domain. A domain that fails is logged and
// skipped; the fetch fails only when no domain could be read.
func (p *OTXProvider) FetchIndicators(ctx context.Context) ([]domain.RawIndicator, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("OTX API Key is missing")
	}
	if len(p.domains) == 0 {
		return nil, fmt.Errorf("no OTX domains configured")
	}

	header := http.Header{}
	header.Set("X-OTX-API-KEY", p.apiKey)

	var indicators []domain.RawIndicator
	var errs []error
	for _, d := range p.domains {
		entries, err := p.fetchDomain(ctx, d, header)
		if err != nil {
			logger.WithFields(logrus.Fields{"source": p.Name(), "domain": d}).WithError(err).Warn("OTX domain fetch failed")
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		for _, e := range entries {
			if e.URL == "" {
				continue
			}
			meta := map[string]string{"domain": d}
			if id := rawID(e.ID); id != "" {
				meta["url_id"] = id
			}
			if e.Date != "" {
				meta["date"] = e.Date
			}
			indicators = append(indicators, domain.RawIndicator{
				Value:       e.URL,
				Confidence:  domain.LevelHigh,
				ThreatLevel: domain.LevelMedium,
				Metadata:    meta,
			})
		}
		logger.WithFields(logrus.Fields{"source": p.Name(), "domain": d}).Debugf("collected %d URLs", len(entries))
	}

	if len(errs) == len(p.domains) {
		return nil, fmt.Errorf("all OTX domains failed: %w", errors.Join(errs...))
	}
	return indicators, nil
}

func (p *OTXProvider) fetchDomain(ctx context.Context, d string, header http.Header) ([]otxURLEntry, error) {
	endpoint := fmt.Sprintf("%s/api/v1/indicators/domain/%s/url_list", p.baseURL, url.PathEscape(d))

	body, err := p.client.Get(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}

	var data otxURLList
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode OTX json: %w", err)
	}
	return data.URLList, nil
}

// rawID renders the OTX id, which is sometimes a number and sometimes a string.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strconv.Quote(string(raw))
}
