// Package config loads the pipeline configuration: built-in defaults,
// optionally overlaid by a YAML file, with individual values overridable by
// command-line flags in the binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"busfeed/internal/storage"
)

// NATSConfig holds queue connection settings.
type NATSConfig struct {
	URL               string `yaml:"url"`
	Stream            string `yaml:"stream"`
	BreadcrumbSubject string `yaml:"breadcrumb_subject"`
	StopSubject       string `yaml:"stop_subject"`
	Durable           string `yaml:"durable"`
}

// PipelineConfig holds flush and run-bound settings.
type PipelineConfig struct {
	FlushSize     int           `yaml:"flush_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
}

// ScrapeConfig holds the producer-side settings: upstream endpoints and the
// vehicle roster to poll.
type ScrapeConfig struct {
	BreadcrumbURL string `yaml:"breadcrumb_url"`
	StopURL       string `yaml:"stop_url"`
	Vehicles      []int  `yaml:"vehicles"`
}

// Config is the full configuration for both binaries.
type Config struct {
	NATS          NATSConfig                `yaml:"nats"`
	Postgres      storage.PostgresConfig    `yaml:"postgres"`
	ClickHouse    *storage.ClickHouseConfig `yaml:"clickhouse"` // nil disables the audit sink
	Bucket        string                    `yaml:"bucket"`     // empty disables the object store
	RejectJournal string                    `yaml:"reject_journal"`
	Pipeline      PipelineConfig            `yaml:"pipeline"`
	Scrape        ScrapeConfig              `yaml:"scrape"`
}

// Default returns the local development configuration.
func Default() Config {
	return Config{
		NATS: NATSConfig{
			URL:               "nats://127.0.0.1:4222",
			Stream:            "BUSFEED",
			BreadcrumbSubject: "busfeed.breadcrumbs",
			StopSubject:       "busfeed.stops",
			Durable:           "busfeed-ingest",
		},
		Postgres: storage.PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "busfeed",
			User:     "busfeed",
			Password: "busfeed",
		},
		Pipeline: PipelineConfig{
			FlushSize:     500,
			FlushInterval: 30 * time.Second,
			RunTimeout:    10 * time.Minute,
		},
		Scrape: ScrapeConfig{
			BreadcrumbURL: "https://busdata.cs.pdx.edu/api/getBreadCrumbs?vehicle_id=",
			StopURL:       "https://busdata.cs.pdx.edu/api/getStopEvents?vehicle_num=",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
