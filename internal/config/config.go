package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"rookery/internal/support"
)

// Rotation policies understood by the proxy selector.
const (
	RotationRandom     = "random"
	RotationSequential = "sequential"
	RotationBest       = "best"
)

// DelayRange is a [min, max] pacing window; actual delays are drawn uniformly
// from it.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

type ProxyConfig struct {
	Enabled             bool
	RotationMethod      string
	HealthCheckInterval time.Duration
	MaxFailures         int
	Timeout             time.Duration
	ProbeURL            string
	PreferredCountries  []string
	File                string
	List                []string
	GeoIPDatabase       string
}

// Counts stay signed until Validate has rejected negatives; converting an env
// value like "-1" to uint would slip past the zero checks.
type Config struct {
	BatchSize            int
	DelayBetweenAccounts DelayRange
	DelayBetweenActions  DelayRange
	MaxRetries           int
	RetryDelay           time.Duration
	AttemptTimeout       time.Duration
	SignupURL            string
	Headless             bool
	Stealth              bool
	Proxy                ProxyConfig
}

// Load reads the configuration from the environment. Values are validated
// separately so every problem is reported at once before any batch work begins.
func Load() Config {
	return Config{
		BatchSize:            support.GetEnvInt("ROOKERY_BATCH_SIZE", 5),
		DelayBetweenAccounts: loadDelayRange("ROOKERY_DELAY_ACCOUNTS", 10, 30),
		DelayBetweenActions:  loadDelayRange("ROOKERY_DELAY_ACTIONS", 1, 3),
		MaxRetries:           support.GetEnvInt("ROOKERY_MAX_RETRIES", 3),
		RetryDelay:           time.Duration(support.GetEnvInt("ROOKERY_RETRY_DELAY", 60)) * time.Second,
		AttemptTimeout:       time.Duration(support.GetEnvInt("ROOKERY_ATTEMPT_TIMEOUT", 300)) * time.Second,
		SignupURL:            support.GetEnv("ROOKERY_SIGNUP_URL", ""),
		Headless:             support.GetEnvBool("ROOKERY_HEADLESS", true),
		Stealth:              support.GetEnvBool("ROOKERY_STEALTH", false),
		Proxy: ProxyConfig{
			Enabled:             support.GetEnvBool("ROOKERY_PROXY_ENABLED", true),
			RotationMethod:      strings.ToLower(support.GetEnv("ROOKERY_PROXY_ROTATION", RotationRandom)),
			HealthCheckInterval: time.Duration(support.GetEnvInt("ROOKERY_PROXY_HEALTH_INTERVAL", 300)) * time.Second,
			MaxFailures:         support.GetEnvInt("ROOKERY_PROXY_MAX_FAILURES", 3),
			Timeout:             time.Duration(support.GetEnvInt("ROOKERY_PROXY_TIMEOUT", 10)) * time.Second,
			ProbeURL:            support.GetEnv("ROOKERY_PROXY_PROBE_URL", "https://api.ipify.org"),
			PreferredCountries:  splitList(support.GetEnv("ROOKERY_PROXY_COUNTRIES", "")),
			File:                support.GetEnv("ROOKERY_PROXY_FILE", ""),
			List:                splitList(support.GetEnv("ROOKERY_PROXY_LIST", "")),
			GeoIPDatabase:       support.GetEnv("ROOKERY_GEOIP_DB", ""),
		},
	}
}

func loadDelayRange(prefix string, defMin, defMax int) DelayRange {
	return DelayRange{
		Min: time.Duration(support.GetEnvInt(prefix+"_MIN", defMin)) * time.Second,
		Max: time.Duration(support.GetEnvInt(prefix+"_MAX", defMax)) * time.Second,
	}
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			result = append(result, value)
		}
	}
	return result
}

// Validate collects every configuration problem. A non-nil result must stop
// the process before any batch work starts.
func (c Config) Validate() error {
	var problems []error

	if c.BatchSize < 1 {
		problems = append(problems, fmt.Errorf("config: batch size must be at least 1"))
	}
	if c.MaxRetries < 1 {
		problems = append(problems, fmt.Errorf("config: max retries must be at least 1"))
	}
	if c.RetryDelay < 0 {
		problems = append(problems, fmt.Errorf("config: retry delay must not be negative"))
	}
	if c.AttemptTimeout <= 0 {
		problems = append(problems, fmt.Errorf("config: attempt timeout must be positive"))
	}
	if err := validateDelayRange("delay between accounts", c.DelayBetweenAccounts); err != nil {
		problems = append(problems, err)
	}
	if err := validateDelayRange("delay between actions", c.DelayBetweenActions); err != nil {
		problems = append(problems, err)
	}

	if c.Proxy.Enabled {
		switch c.Proxy.RotationMethod {
		case RotationRandom, RotationSequential, RotationBest:
		default:
			problems = append(problems, fmt.Errorf("config: unknown rotation method %q", c.Proxy.RotationMethod))
		}
		if c.Proxy.MaxFailures < 1 {
			problems = append(problems, fmt.Errorf("config: proxy max failures must be at least 1"))
		}
		if c.Proxy.Timeout <= 0 {
			problems = append(problems, fmt.Errorf("config: proxy timeout must be positive"))
		}
		if c.Proxy.HealthCheckInterval <= 0 {
			problems = append(problems, fmt.Errorf("config: health check interval must be positive"))
		}
		if _, err := url.ParseRequestURI(c.Proxy.ProbeURL); err != nil {
			problems = append(problems, fmt.Errorf("config: probe url: %w", err))
		}
	}

	return errors.Join(problems...)
}

func validateDelayRange(name string, r DelayRange) error {
	if r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("config: %s must not be negative", name)
	}
	if r.Max < r.Min {
		return fmt.Errorf("config: %s max is below min", name)
	}
	return nil
}
