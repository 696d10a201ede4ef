package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Keys shared by CLI flags, SCRAPER_* environment variables and config files.
const (
	KeyMode             = "mode"
	KeyBaseURL          = "base-url"
	KeyPages            = "pages"
	KeyOnFetchError     = "on-fetch-error"
	KeyDelayMin         = "delay-min"
	KeyDelayMax         = "delay-max"
	KeyTimeout          = "timeout"
	KeyMaxRetries       = "max-retries"
	KeyRetryBackoff     = "retry-backoff"
	KeyRetryBackoffMax  = "retry-backoff-max"
	KeyRetryStatuses    = "retry-statuses"
	KeyCurrencyPrefixes = "currency-prefixes"
	KeyOutput           = "output"
	KeyFormat           = "format"
	KeyDetailed         = "detailed"
	KeyBatchSize        = "batch-size"
	KeyVisitedCache     = "visited-cache"
	KeyUserAgent        = "user-agent"
	KeyVerbose          = "verbose"
	KeyRespectRobots    = "respect-robots"
	KeyMetricsAddr      = "metrics-addr"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_PAGES.
const EnvPrefix = "SCRAPER"

// NewViper returns a viper instance reading SCRAPER_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds a Config from the preset selected by the mode key, then applies
// every key that was explicitly set through a flag, the environment or a
// config file. The result is not validated.
func Load(v *viper.Viper) *Config {
	cfg := Preset(v.GetString(KeyMode))

	if v.IsSet(KeyBaseURL) {
		cfg.BaseURL = v.GetString(KeyBaseURL)
	}
	if v.IsSet(KeyPages) {
		cfg.MaxPages = v.GetInt(KeyPages)
	}
	if v.IsSet(KeyOnFetchError) {
		cfg.OnFetchError = strings.ToLower(v.GetString(KeyOnFetchError))
	}
	if v.IsSet(KeyDelayMin) {
		cfg.DelayMin = v.GetDuration(KeyDelayMin)
	}
	if v.IsSet(KeyDelayMax) {
		cfg.DelayMax = v.GetDuration(KeyDelayMax)
	}
	if v.IsSet(KeyTimeout) {
		cfg.Timeout = v.GetDuration(KeyTimeout)
	}
	if v.IsSet(KeyMaxRetries) {
		cfg.Retry.MaxRetries = v.GetInt(KeyMaxRetries)
	}
	if v.IsSet(KeyRetryBackoff) {
		cfg.Retry.BackoffFactor = v.GetDuration(KeyRetryBackoff)
	}
	if v.IsSet(KeyRetryBackoffMax) {
		cfg.Retry.BackoffMax = v.GetDuration(KeyRetryBackoffMax)
	}
	if v.IsSet(KeyRetryStatuses) {
		cfg.Retry.RetryableStatuses = v.GetIntSlice(KeyRetryStatuses)
	}
	if v.IsSet(KeyCurrencyPrefixes) {
		cfg.CurrencyPrefixes = v.GetStringSlice(KeyCurrencyPrefixes)
	}
	if v.IsSet(KeyOutput) {
		cfg.OutputFile = v.GetString(KeyOutput)
	}
	if v.IsSet(KeyFormat) {
		cfg.OutputFormat = strings.ToLower(v.GetString(KeyFormat))
	}
	if v.IsSet(KeyDetailed) {
		cfg.DetailedColumns = v.GetBool(KeyDetailed)
	}
	if v.IsSet(KeyBatchSize) {
		cfg.BatchSize = v.GetInt(KeyBatchSize)
	}
	if v.IsSet(KeyVisitedCache) {
		cfg.VisitedCacheSize = v.GetInt(KeyVisitedCache)
	}
	if v.IsSet(KeyUserAgent) {
		cfg.UserAgent = v.GetString(KeyUserAgent)
	}
	if v.IsSet(KeyVerbose) {
		cfg.Verbose = v.GetBool(KeyVerbose)
	}
	if v.IsSet(KeyRespectRobots) {
		cfg.RespectRobotsTxt = v.GetBool(KeyRespectRobots)
	}
	if v.IsSet(KeyMetricsAddr) {
		cfg.MetricsAddr = v.GetString(KeyMetricsAddr)
	}

	return cfg
}
