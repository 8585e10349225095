package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "data/ioc_history.db", cfg.DatabasePath)
	assert.Equal(t, "localhost:50051", cfg.GRPCListenAddr)
	assert.Equal(t, "0 0 9 * * *", cfg.Schedule)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.FetchTimeout)
	assert.Equal(t, domain.LevelHigh, cfg.NotifyMinThreat)
	assert.Equal(t, []string{"malware.com", "phishing.com", "ransomware.com"}, cfg.OTXDomains)
	assert.True(t, cfg.URLhausEnabled)
	assert.Empty(t, cfg.OTXAPIKey)
	assert.Empty(t, cfg.AbuseIPDBAPIKey)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Bolt")
	t.Setenv("DATABASE_PATH", "/tmp/x.db")
	t.Setenv("OTX_DOMAINS", " a.com , ,b.com")
	t.Setenv("FETCH_CONCURRENCY", "8")
	t.Setenv("FETCH_TIMEOUT_SECONDS", "30")
	t.Setenv("NOTIFY_MIN_THREAT", "very_high")
	t.Setenv("URLHAUS_ENABLED", "false")
	t.Setenv("EXTRA_LISTS", "feodo=https://feodotracker.abuse.ch/downloads/ipblocklist.txt,tor=https://check.torproject.org/torbulkexitlist")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "bolt", cfg.StoreDriver)
	assert.Equal(t, []string{"a.com", "b.com"}, cfg.OTXDomains)
	assert.Equal(t, 8, cfg.FetchConcurrency)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, domain.LevelVeryHigh, cfg.NotifyMinThreat)
	assert.False(t, cfg.URLhausEnabled)
	require.Len(t, cfg.ExtraLists, 2)
	assert.Equal(t, List{Name: "tor", URL: "https://check.torproject.org/torbulkexitlist"}, cfg.ExtraLists[1])
}

func TestTracingOptions(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)

	opts := cfg.TracingOptions("cticollector-ingester")
	assert.Equal(t, "cticollector-ingester", opts.Service)
	assert.Equal(t, "otel-collector:4317", opts.Endpoint)
	assert.False(t, opts.Insecure)
}

func TestFromEnv_InvalidValues(t *testing.T) {
	t.Setenv("FETCH_CONCURRENCY", "many")
	t.Setenv("NOTIFY_MIN_THREAT", "apocalyptic")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_CONCURRENCY")
	assert.Contains(t, err.Error(), "NOTIFY_MIN_THREAT")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreDriver:      "sqlite",
			DatabasePath:     "x.db",
			FetchConcurrency: 1,
			FetchTimeout:     time.Second,
			Schedule:         "@daily",
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }, "unknown STORE_DRIVER"},
		{"postgres without url", func(c *Config) { c.StoreDriver = "postgres" }, "DATABASE_URL"},
		{"bolt without path", func(c *Config) { c.StoreDriver = "bolt"; c.DatabasePath = "" }, "DATABASE_PATH"},
		{"zero concurrency", func(c *Config) { c.FetchConcurrency = 0 }, "FETCH_CONCURRENCY"},
		{"bad schedule", func(c *Config) { c.Schedule = "every day" }, "COLLECTION_SCHEDULE"},
		{"bad policy", func(c *Config) { c.ThreatPolicy = "min" }, "score policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	memory := valid()
	memory.StoreDriver = "memory"
	memory.DatabasePath = ""
	assert.NoError(t, memory.Validate())
}

func TestScorePolicies(t *testing.T) {
	cfg := Config{ConfidencePolicy: "latest", ThreatPolicy: "max"}
	policies, err := cfg.ScorePolicies()
	require.NoError(t, err)

	assert.Equal(t, domain.LevelLow, policies[0](domain.LevelHigh, domain.LevelLow))
	assert.Equal(t, domain.LevelHigh, policies[1](domain.LevelHigh, domain.LevelLow))
}

func TestParseLists(t *testing.T) {
	lists, err := ParseLists("")
	require.NoError(t, err)
	assert.Empty(t, lists)

	_, err = ParseLists("noequals")
	assert.Error(t, err)

	_, err = ParseLists("x=ftp://host/list")
	assert.Error(t, err)
}
