package provider

import (
	"github.com/hive-corporation/cticollector/internal/adapter/httpclient"
	"github.com/hive-corporation/cticollector/internal/config"
	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
	"github.com/hive-corporation/cticollector/internal/logger"
)

// FromConfig builds every enabled feed. Key-based feeds without a key are
// left out with a warning. Each feed gets its own client and breaker.
func FromConfig(cfg config.Config) []ports.ThreatProvider {
	httpCfg := httpclient.DefaultConfig()
	client := func(name string) *httpclient.ResilientClient {
		return httpclient.New(name, cfg.FetchTimeout, httpCfg)
	}

	var feeds []ports.ThreatProvider

	if cfg.OTXAPIKey != "" {
		feeds = append(feeds, NewOTXProvider(client("otx"), cfg.OTXAPIKey, cfg.OTXDomains))
	} else {
		logger.Log().Warn("⚠️ OTX_API_KEY not found. AlienVault feed will be ignored.")
	}

	if cfg.AbuseIPDBAPIKey != "" {
		feeds = append(feeds, NewAbuseIPDBProvider(client("abuseipdb"), cfg.AbuseIPDBAPIKey, cfg.AbuseIPDBLimit))
	} else {
		logger.Log().Warn("⚠️ ABUSEIPDB_API_KEY not found. AbuseIPDB feed will be ignored.")
	}

	feeds = append(feeds, NewMalwareBazaarProvider(client("malwarebazaar"), cfg.MalwareBazaarLimit))

	if cfg.URLhausEnabled {
		feeds = append(feeds, NewURLHausProvider(client("urlhaus"), cfg.URLhausExtractHost))
	}

	for _, l := range cfg.ExtraLists {
		feeds = append(feeds, NewSimpleListProvider(client(l.Name), l.Name, l.URL, domain.LevelMedium))
	}

	return feeds
}
