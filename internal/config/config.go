package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/hive-corporation/cticollector/internal/adapter/repository"
	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/logger"
	"github.com/hive-corporation/cticollector/internal/tracing"
)

// CronParser accepts 5 or 6 field expressions (seconds optional) and
// descriptors such as "@daily".
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// List is an extra plain-text feed configured as "name=url".
type List struct {
	Name string
	URL  string
}

type Config struct {
	Environment string

	StoreDriver  string
	DatabasePath string
	DatabaseURL  string

	OTXAPIKey          string
	OTXDomains         []string
	AbuseIPDBAPIKey    string
	AbuseIPDBLimit     int
	MalwareBazaarLimit int
	URLhausEnabled     bool
	URLhausExtractHost bool
	ExtraLists         []List

	FetchConcurrency int
	FetchTimeout     time.Duration
	Schedule         string

	RESTPort       string
	GRPCListenAddr string
	APIAuthToken   string

	LogLevel string
	LogFile  string
	Debug    bool

	SlackBotToken   string
	SlackChannel    string
	SlackMention    string
	NATSURL         string
	NATSSubject     string
	NotifyMinThreat domain.Level

	ConfidencePolicy string
	ThreatPolicy     string

	OTELEndpoint string // OTLP gRPC collector; empty keeps spans in process
	OTELInsecure bool
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the config from environment variables only.
func FromEnv() (Config, error) {
	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", repository.DriverSQLite)),
		DatabasePath: getEnv("DATABASE_PATH", "data/ioc_history.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		OTXAPIKey:          os.Getenv("OTX_API_KEY"),
		OTXDomains:         splitList(getEnv("OTX_DOMAINS", "malware.com,phishing.com,ransomware.com")),
		AbuseIPDBAPIKey:    os.Getenv("ABUSEIPDB_API_KEY"),
		URLhausEnabled:     getEnvBool("URLHAUS_ENABLED", true),
		URLhausExtractHost: getEnvBool("URLHAUS_EXTRACT_HOST", false),

		Schedule: getEnv("COLLECTION_SCHEDULE", "0 0 9 * * *"),

		RESTPort:       getEnv("REST_API_PORT", "8080"),
		GRPCListenAddr: getEnv("GRPC_LISTEN_ADDR", "localhost:50051"),
		APIAuthToken:   os.Getenv("REST_API_AUTH_TOKEN"),

		LogLevel: os.Getenv("LOG_LEVEL"),
		LogFile:  os.Getenv("LOG_FILE"),
		Debug:    getEnvBool("DEBUG", false),

		SlackBotToken: os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:  getEnv("SLACK_CHANNEL_SECURITY", "#security-alerts"),
		SlackMention:  getEnv("SLACK_MENTION_TEAM", "@security-team"),
		NATSURL:       os.Getenv("NATS_URL"),
		NATSSubject:   getEnv("NATS_SUBJECT", "cticollector.events"),

		ConfidencePolicy: getEnv("CONFIDENCE_POLICY", "max"),
		ThreatPolicy:     getEnv("THREAT_POLICY", "max"),

		OTELEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	var errs []error
	var err error

	if cfg.AbuseIPDBLimit, err = getEnvInt("ABUSEIPDB_LIMIT", 10000); err != nil {
		errs = append(errs, err)
	}
	if cfg.MalwareBazaarLimit, err = getEnvInt("MALWAREBAZAAR_LIMIT", 1000); err != nil {
		errs = append(errs, err)
	}
	if cfg.FetchConcurrency, err = getEnvInt("FETCH_CONCURRENCY", 4); err != nil {
		errs = append(errs, err)
	}
	timeoutSeconds, err := getEnvInt("FETCH_TIMEOUT_SECONDS", 300)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.FetchTimeout = time.Duration(timeoutSeconds) * time.Second

	if cfg.NotifyMinThreat, err = domain.ParseLevel(getEnv("NOTIFY_MIN_THREAT", "high")); err != nil {
		errs = append(errs, fmt.Errorf("NOTIFY_MIN_THREAT: %w", err))
	}
	if cfg.ExtraLists, err = ParseLists(os.Getenv("EXTRA_LISTS")); err != nil {
		errs = append(errs, fmt.Errorf("EXTRA_LISTS: %w", err))
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case repository.DriverSQLite, repository.DriverBolt:
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for the %s store", c.StoreDriver)
		}
	case repository.DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case repository.DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1, got %d", c.FetchConcurrency)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_SECONDS must be positive")
	}
	if c.Schedule != "" {
		if _, err := CronParser.Parse(c.Schedule); err != nil {
			return fmt.Errorf("invalid COLLECTION_SCHEDULE %q: %w", c.Schedule, err)
		}
	}
	if _, err := c.ScorePolicies(); err != nil {
		return err
	}
	return nil
}

// LoggerOptions maps the logging settings onto the global logger.
func (c Config) LoggerOptions() logger.Options {
	return logger.Options{Debug: c.Debug, Level: c.LogLevel, File: c.LogFile}
}

func (c Config) TracingOptions(service string) tracing.Options {
	return tracing.Options{Service: service, Endpoint: c.OTELEndpoint, Insecure: c.OTELInsecure}
}

// ScorePolicies resolves the configured confidence and threat policies.
func (c Config) ScorePolicies() ([2]domain.ScorePolicy, error) {
	var out [2]domain.ScorePolicy
	for i, name := range []string{c.ConfidencePolicy, c.ThreatPolicy} {
		switch strings.ToLower(name) {
		case "", "max":
			out[i] = domain.MaxLevel
		case "latest":
			out[i] = domain.LatestLevel
		default:
			return out, fmt.Errorf("unknown score policy %q (want max or latest)", name)
		}
	}
	return out, nil
}

// ParseLists parses a comma separated "name=url" list.
func ParseLists(s string) ([]List, error) {
	var lists []List
	for _, item := range splitList(s) {
		name, url, ok := strings.Cut(item, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("malformed list %q, expected name=url", item)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, fmt.Errorf("list %s: url must be http(s)", name)
		}
		lists = append(lists, List{Name: name, URL: url})
	}
	return lists, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
