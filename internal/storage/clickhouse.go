package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ClickHouseDB wraps a ClickHouse connection for the ingest audit trail:
// every inbound message is recorded with its validation outcome, accepted or
// not, so rejected traffic can be analysed after the run.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the ClickHouse tables.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ingest_events (
		received_at     DateTime64(3) DEFAULT now64(3),
		stream          LowCardinality(String),
		accepted        UInt8,
		violations      String,
		payload         String
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(received_at)
	ORDER BY (stream, received_at)
	SETTINGS index_granularity = 8192`

	if err := d.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordOutcome stores one inbound message and its validation outcome. An
// empty violations slice means the message was accepted.
func (d *ClickHouseDB) RecordOutcome(ctx context.Context, stream string, payload []byte, violations []string) error {
	accepted := uint8(0)
	if len(violations) == 0 {
		accepted = 1
	}

	err := d.conn.Exec(ctx, `
		INSERT INTO ingest_events (received_at, stream, accepted, violations, payload)
		VALUES (?, ?, ?, ?, ?)
	`, time.Now(), stream, accepted, strings.Join(violations, "; "), string(payload))
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}
