package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config lists the tunable parameters for the inspection server.
type Config struct {
	HTTPPort     int    `env:"PANELSCAN_HTTP_PORT" envDefault:"8080"`
	DatabasePath string `env:"PANELSCAN_DATABASE_PATH" envDefault:"data/panelscan.db"`

	// MQTTBrokerURL points at the site broker the scanner devices publish
	// to, e.g. tcp://localhost:1883. Empty disables the scan feed.
	MQTTBrokerURL string `env:"PANELSCAN_MQTT_BROKER"`
	ScanTopic     string `env:"PANELSCAN_SCAN_TOPIC" envDefault:"scanners/+/scan"`

	EnableMDNS bool   `env:"PANELSCAN_MDNS" envDefault:"true"`
	LogLevel   string `env:"PANELSCAN_LOG_LEVEL" envDefault:"info"`
}

// Load derives configuration values from environment variables, falling back
// to defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return Config{}, fmt.Errorf("invalid PANELSCAN_HTTP_PORT: %d", cfg.HTTPPort)
	}

	return cfg, nil
}
