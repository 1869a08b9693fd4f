// Package storage provides the persistence layers: PostgreSQL for trips and
// breadcrumbs, ClickHouse for the ingest audit trail, and a local SQLite
// journal for rejected records.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"busfeed/internal/telemetry"
	"busfeed/internal/transform"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// PostgresDB wraps a PostgreSQL connection pool for trip and breadcrumb
// storage.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() {
	d.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (d *PostgresDB) Pool() *pgxpool.Pool {
	return d.pool
}

// CreateSchema creates the PostgreSQL tables.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	-- One row per scheduled run of a vehicle. Created on first sight of a
	-- trip ID, enriched later by the stop-event stream.
	CREATE TABLE IF NOT EXISTS trip (
		trip_id         BIGINT PRIMARY KEY,
		route_id        INTEGER,
		vehicle_id      BIGINT,
		service_key     TEXT,
		direction       TEXT
	);

	-- Append-only GPS samples, one per transformed breadcrumb.
	CREATE TABLE IF NOT EXISTS breadcrumb (
		tstamp          TIMESTAMPTZ NOT NULL,
		latitude        DOUBLE PRECISION,
		longitude       DOUBLE PRECISION,
		speed           DOUBLE PRECISION,
		trip_id         BIGINT NOT NULL REFERENCES trip(trip_id)
	);

	CREATE INDEX IF NOT EXISTS idx_breadcrumb_trip ON breadcrumb(trip_id);
	CREATE INDEX IF NOT EXISTS idx_breadcrumb_tstamp ON breadcrumb(tstamp);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// TripPair is a distinct (trip, vehicle) pair extracted from a batch.
type TripPair struct {
	TripID    int64
	VehicleID int64
}

// TripPairs extracts the distinct (trip, vehicle) pairs from a transformed
// batch, in first-seen order.
func TripPairs(batch []transform.Record) []TripPair {
	seen := make(map[int64]struct{}, len(batch))
	pairs := make([]TripPair, 0, len(batch))
	for _, rec := range batch {
		if _, ok := seen[rec.TripID]; ok {
			continue
		}
		seen[rec.TripID] = struct{}{}
		pairs = append(pairs, TripPair{TripID: rec.TripID, VehicleID: rec.VehicleID})
	}
	return pairs
}

// WriteBatch persists one transformed batch: trip upserts and the breadcrumb
// bulk insert run inside a single transaction. The trip insert ignores
// conflicts on trip_id, so redelivered batches cannot clobber enrichment
// applied by the stop-event stream. On any failure the whole transaction
// rolls back and the batch is reported failed; nothing is retried here.
func (d *PostgresDB) WriteBatch(ctx context.Context, batch []transform.Record) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, pair := range TripPairs(batch) {
		_, err := tx.Exec(ctx, `
			INSERT INTO trip (trip_id, vehicle_id)
			VALUES ($1, $2)
			ON CONFLICT (trip_id) DO NOTHING
		`, pair.TripID, pair.VehicleID)
		if err != nil {
			return fmt.Errorf("upsert trip %d: %w", pair.TripID, err)
		}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"breadcrumb"},
		[]string{"tstamp", "latitude", "longitude", "speed", "trip_id"},
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			rec := batch[i]
			return []any{rec.Timestamp, rec.Latitude, rec.Longitude, rec.Speed, rec.TripID}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("insert breadcrumbs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// EnrichTrip fills in the route, service key, and direction for a trip from
// a stop event. The event must already be canonicalized.
func (d *PostgresDB) EnrichTrip(ctx context.Context, ev *telemetry.StopEvent) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE trip
		SET route_id = $1, service_key = $2, direction = $3
		WHERE trip_id = $4
	`, ev.RouteNumber, ev.ServiceKey, ev.Direction, ev.TripID)
	if err != nil {
		return fmt.Errorf("enrich trip %d: %w", ev.TripID, err)
	}
	return nil
}

// Trip is one relational trip row.
type Trip struct {
	TripID     int64
	RouteID    *int64
	VehicleID  *int64
	ServiceKey *string
	Direction  *string
}

// GetTrip retrieves a trip row, or nil if it does not exist.
func (d *PostgresDB) GetTrip(ctx context.Context, tripID int64) (*Trip, error) {
	var t Trip
	err := d.pool.QueryRow(ctx, `
		SELECT trip_id, route_id, vehicle_id, service_key, direction
		FROM trip WHERE trip_id = $1
	`, tripID).Scan(&t.TripID, &t.RouteID, &t.VehicleID, &t.ServiceKey, &t.Direction)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
