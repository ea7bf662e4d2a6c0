// Package config loads the server configuration from an optional YAML file
// layered over defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full server configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	LogLevel string         `yaml:"log_level"`
	Venues   VenueEndpoints `yaml:"venues"`
	Alerts   AlertConfig    `yaml:"alerts"`
	Catalog  CatalogConfig  `yaml:"catalog"`
}

// VenueEndpoints allows overriding the public endpoints, mainly for tests.
type VenueEndpoints struct {
	BingXWS         string `yaml:"bingx_ws"`
	BingXContracts  string `yaml:"bingx_contracts"`
	BloFinWS        string `yaml:"blofin_ws"`
	BloFinContracts string `yaml:"blofin_contracts"`
	HyperliquidWS   string `yaml:"hyperliquid_ws"`
	HyperliquidInfo string `yaml:"hyperliquid_info"`
}

// AlertConfig holds the order-flow analyzer thresholds.
type AlertConfig struct {
	LargeTradeQuote float64  `yaml:"large_trade_quote"`
	WhaleTradeQuote float64  `yaml:"whale_trade_quote"`
	ImbalanceRatio  float64  `yaml:"imbalance_ratio"`
	DedupWindow     Duration `yaml:"dedup_window"`
	RingSize        int      `yaml:"ring_size"`
}

// CatalogConfig controls contract discovery.
type CatalogConfig struct {
	RefreshInterval Duration `yaml:"refresh_interval"`
	FetchTimeout    Duration `yaml:"fetch_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:   ":8000",
		LogLevel: "info",
		Venues: VenueEndpoints{
			BingXWS:         "wss://open-api-swap.bingx.com/swap-market",
			BingXContracts:  "https://open-api.bingx.com/openApi/swap/v2/quote/contracts",
			BloFinWS:        "wss://openapi.blofin.com/ws/public",
			BloFinContracts: "https://openapi.blofin.com/api/v1/market/instruments?instType=SWAP",
			HyperliquidWS:   "wss://api.hyperliquid.xyz/ws",
			HyperliquidInfo: "https://api.hyperliquid.xyz/info",
		},
		Alerts: AlertConfig{
			LargeTradeQuote: 10_000,
			WhaleTradeQuote: 50_000,
			ImbalanceRatio:  1.5,
			DedupWindow:     Duration(5 * time.Second),
			RingSize:        500,
		},
		Catalog: CatalogConfig{
			RefreshInterval: Duration(5 * time.Minute),
			FetchTimeout:    Duration(10 * time.Second),
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
