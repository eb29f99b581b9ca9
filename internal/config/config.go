// Package config содержит логику чтения конфигурации бота-ассистента.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации бота-ассистента.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	GatewayAddress string `env:"GATEWAY_ADDRESS"`
	GatewayToken   string `env:"GATEWAY_TOKEN"`

	CatalogAddress  string `env:"CATALOG_ADDRESS"`
	CatalogUsername string `env:"CATALOG_USERNAME"`
	CatalogKey      string `env:"CATALOG_KEY"`
	CatalogImageURL string `env:"CATALOG_IMAGE_URL"`
	SiteSearchURL   string `env:"SITE_SEARCH_URL"`
	StoreURL        string `env:"STORE_URL"`

	DecoderAddress string `env:"BARCODE_DECODER_ADDRESS"`

	OperatorID int64   `env:"OPERATOR_ID"`
	AdminIDs   []int64 `env:"ADMIN_IDS" envSeparator:","`

	RateLimit       int           `env:"RATE_LIMIT"`
	RateWindow      time.Duration `env:"RATE_WINDOW"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT"`
	BroadcastPause  time.Duration `env:"BROADCAST_PAUSE"`

	StopWords []string `env:"STOP_WORDS" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayAddress := cfg.GatewayAddress
	envCatalogAddress := cfg.CatalogAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "chat gateway address")
	flag.StringVar(&cfg.CatalogAddress, "c", "", "product catalog address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}
	if envCatalogAddress != "" {
		cfg.CatalogAddress = envCatalogAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	if cfg.BroadcastPause <= 0 {
		cfg.BroadcastPause = 50 * time.Millisecond
	}

	return cfg, nil
}
