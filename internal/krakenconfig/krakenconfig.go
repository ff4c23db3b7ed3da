// Package krakenconfig resolves ClientConfig from, in precedence order,
// explicit constructor options, environment variables, and a config file
// loaded through github.com/spf13/viper. Adapted from the pack's
// viper-based cfg.MustLoad pattern and generalised to an
// explicit > env > file precedence, rather than a single
// panic-on-missing load.
package krakenconfig

import (
	"os"

	"github.com/kat-co/vala"
	"github.com/spf13/viper"

	"github.com/kdepth/krakenfeed/internal/ingestclient"
)

const (
	envWSURL   = "KRAKEN_WS_URL"
	envWSToken = "KRAKEN_WS_TOKEN"
)

// ClientConfig is the resolved set of options for an ingestion client.
type ClientConfig struct {
	URL             string
	Token           string
	FlushInterval   int // seconds
	MemoryThreshold int64
	Depth           int
}

// DefaultClientConfig mirrors the flush mixin's documented defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:             ingestclient.DefaultURL,
		FlushInterval:   30,
		MemoryThreshold: 10 * 1024 * 1024,
		Depth:           10,
	}
}

// Load resolves a ClientConfig starting from defaults, applying any values
// found in configPath (if non-empty and readable via viper), then applying
// environment variables, then finally explicit overrides supplied by the
// caller. Precedence, highest first: explicit > env > file > default.
func Load(configPath string, explicit ClientConfig) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
		if v.IsSet("url") {
			cfg.URL = v.GetString("url")
		}
		if v.IsSet("flush_interval") {
			cfg.FlushInterval = v.GetInt("flush_interval")
		}
		if v.IsSet("memory_threshold") {
			cfg.MemoryThreshold = v.GetInt64("memory_threshold")
		}
		if v.IsSet("depth") {
			cfg.Depth = v.GetInt("depth")
		}
		if v.IsSet("token") {
			cfg.Token = v.GetString("token")
		}
	}

	if u := os.Getenv(envWSURL); u != "" {
		cfg.URL = u
	}
	if t := os.Getenv(envWSToken); t != "" {
		cfg.Token = t
	}

	applyExplicit(&cfg, explicit)

	return cfg, validate(cfg)
}

func applyExplicit(cfg *ClientConfig, explicit ClientConfig) {
	if explicit.URL != "" {
		cfg.URL = explicit.URL
	}
	if explicit.Token != "" {
		cfg.Token = explicit.Token
	}
	if explicit.FlushInterval != 0 {
		cfg.FlushInterval = explicit.FlushInterval
	}
	if explicit.MemoryThreshold != 0 {
		cfg.MemoryThreshold = explicit.MemoryThreshold
	}
	if explicit.Depth != 0 {
		cfg.Depth = explicit.Depth
	}
}

func validate(cfg ClientConfig) error {
	return vala.BeginValidation().Validate(
		vala.StringNotEmpty(cfg.URL, "url"),
		vala.GreaterThan(cfg.Depth, 0, "depth"),
	).Check()
}

// EnvOverrideSummary renders the environment variables this package reads
// as a one-line, human-readable list.
func EnvOverrideSummary() string {
	return envWSURL + "=<url>, " + envWSToken + "=<token>"
}
