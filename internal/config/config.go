package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"homecal/internal/log"
)

// Backend names accepted by DATA_BACKEND.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

var validBackends = []string{BackendMemory, BackendFile, BackendSQLite}

type Config struct {
	// HTTP Server
	Port           string
	LogLevel       string
	WriteRateLimit int
	TrustedProxies string

	// Storage
	DataBackend  string
	CalendarFile string
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// ICS import
	ICSSources            string
	ImportCron            string
	ImportDefaultCategory int
	ImportPastDays        int
	ImportFutureDays      int
	Timezone              string

	// Query cache
	CacheSize int
	CacheTTL  time.Duration
}

// ICSSource is one entry of ICS_SOURCES.
type ICSSource struct {
	ID         string
	URL        string
	CategoryID int
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		WriteRateLimit: getEnvInt("WRITE_RATE_LIMIT", 60),
		TrustedProxies: getEnv("TRUSTED_PROXIES", ""),

		DataBackend:  getEnv("DATA_BACKEND", BackendMemory),
		CalendarFile: getEnv("CALENDAR_FILE", ""),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/homecal.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "homecal"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ics_imports"),

		ICSSources:            getEnv("ICS_SOURCES", ""),
		ImportCron:            getEnv("IMPORT_CRON", "@every 1h"),
		ImportDefaultCategory: getEnvInt("IMPORT_DEFAULT_CATEGORY", 0),
		ImportPastDays:        getEnvInt("IMPORT_PAST_DAYS", 90),
		ImportFutureDays:      getEnvInt("IMPORT_FUTURE_DAYS", 365),
		Timezone:              getEnv("TIMEZONE", "Local"),

		CacheSize: getEnvInt("CACHE_SIZE", 256),
		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if c.WriteRateLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid write rate limit %d: must not be negative", c.WriteRateLimit))
	}
	if _, err := c.ProxyPrefixes(); err != nil {
		errors = append(errors, err.Error())
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := c.Sources(); err != nil {
		errors = append(errors, err.Error())
	}

	if c.ImportCron != "" {
		if _, err := cron.ParseStandard(c.ImportCron); err != nil {
			errors = append(errors, fmt.Sprintf("invalid import schedule '%s': %v", c.ImportCron, err))
		}
	}
	if c.ImportPastDays < 0 {
		errors = append(errors, fmt.Sprintf("invalid import past days %d: must not be negative", c.ImportPastDays))
	}
	if c.ImportFutureDays < 0 {
		errors = append(errors, fmt.Sprintf("invalid import future days %d: must not be negative", c.ImportFutureDays))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.CacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must not be negative", c.CacheSize))
	}
	if c.CacheSize > 0 && c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be at least 1 second", c.CacheTTL))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ProxyPrefixes parses TRUSTED_PROXIES, a comma separated list of CIDRs.
func (c *Config) ProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range strings.Split(c.TrustedProxies, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy '%s': %v", raw, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// Sources parses ICS_SOURCES: entries of the form id=url or id=url#categoryID
// separated by semicolons.
func (c *Config) Sources() ([]ICSSource, error) {
	var out []ICSSource
	seen := make(map[string]bool)
	for _, entry := range strings.Split(c.ICSSources, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, rest, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" || strings.TrimSpace(rest) == "" {
			return nil, fmt.Errorf("invalid ICS source '%s': expected id=url[#categoryID]", entry)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate ICS source id '%s'", id)
		}
		seen[id] = true

		src := ICSSource{ID: id, URL: strings.TrimSpace(rest)}
		if i := strings.LastIndex(src.URL, "#"); i >= 0 {
			if n, err := strconv.Atoi(src.URL[i+1:]); err == nil {
				src.CategoryID = n
				src.URL = src.URL[:i]
			}
		}
		out = append(out, src)
	}
	return out, nil
}

// Location returns the configured time zone, or time.Local when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ImportWindow returns the range ICS recurrences are expanded over, relative to now.
func (c *Config) ImportWindow(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -c.ImportPastDays), now.AddDate(0, 0, c.ImportFutureDays)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
