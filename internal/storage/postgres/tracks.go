// Package postgres stores exported track reports in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yegors/squitter/internal/track"
	"github.com/yegors/squitter/pkg/logger"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	CollectorKey string
}

// ConnString builds the pgx connection URL for cfg.
func (c Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// TrackStorage wraps a PostgreSQL connection pool.
type TrackStorage struct {
	pool         *pgxpool.Pool
	collectorKey string
	logger       *logger.Logger
}

// Open opens a connection pool to PostgreSQL and creates the schema.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*TrackStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
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

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &TrackStorage{
		pool:         pool,
		collectorKey: cfg.CollectorKey,
		logger:       log.Named("postgres"),
	}
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info("Connected to PostgreSQL",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database))
	return s, nil
}

// Name identifies the sink in logs.
func (s *TrackStorage) Name() string {
	return "postgres"
}

// Close closes the PostgreSQL connection pool.
func (s *TrackStorage) Close() error {
	s.pool.Close()
	return nil
}

// CreateSchema creates the PostgreSQL tables.
func (s *TrackStorage) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS adsbinfo (
		id                      BIGSERIAL PRIMARY KEY,
		collector_key           TEXT NOT NULL,
		mode_s_code             TEXT NOT NULL,
		callsign                TEXT,
		latitude                DOUBLE PRECISION,
		longitude               DOUBLE PRECISION,
		altitude                INTEGER,
		vertical_velocity       INTEGER,
		horizontal_velocity     DOUBLE PRECISION,
		ground_track_heading    DOUBLE PRECISION,
		speed_type              TEXT,
		timestamp_even          TIMESTAMPTZ,
		timestamp_odd           TIMESTAMPTZ,
		message_identification  TEXT,
		message_position_even   TEXT,
		message_position_odd    TEXT,
		message_velocity        TEXT,
		nac_p                   SMALLINT,
		nac_v                   SMALLINT,
		nic                     SMALLINT,
		sil                     SMALLINT,
		sda                     SMALLINT,
		position_time           TIMESTAMPTZ,
		last_update             TIMESTAMPTZ NOT NULL,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_adsbinfo_mode_s_code ON adsbinfo(mode_s_code, last_update);

	CREATE TABLE IF NOT EXISTS airline (
		icao        TEXT PRIMARY KEY,
		callsign    TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create postgres schema: %w", err)
	}
	return nil
}

// SaveTrack inserts one report for an exported snapshot.
func (s *TrackStorage) SaveTrack(ctx context.Context, t track.Track) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO adsbinfo (
			collector_key, mode_s_code, callsign,
			latitude, longitude, altitude,
			vertical_velocity, horizontal_velocity, ground_track_heading, speed_type,
			timestamp_even, timestamp_odd,
			message_identification, message_position_even, message_position_odd, message_velocity,
			nac_p, nac_v, nic, sil, sda,
			position_time, last_update
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`, reportArgs(s.collectorKey, t)...)
	if err != nil {
		return fmt.Errorf("insert track report: %w", err)
	}
	return nil
}

// SaveRegistry records the latest callsign seen for an ICAO address.
func (s *TrackStorage) SaveRegistry(ctx context.Context, icao, callsign string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO airline (icao, callsign, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (icao) DO UPDATE SET callsign = EXCLUDED.callsign, updated_at = NOW()
	`, icao, callsign)
	if err != nil {
		return fmt.Errorf("upsert airline: %w", err)
	}
	return nil
}

// GetCallsign returns the registered callsign for an ICAO address.
func (s *TrackStorage) GetCallsign(ctx context.Context, icao string) (string, bool, error) {
	var callsign string
	err := s.pool.QueryRow(ctx, "SELECT callsign FROM airline WHERE icao = $1", icao).Scan(&callsign)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query airline: %w", err)
	}
	return callsign, true, nil
}

// reportArgs flattens a snapshot into the adsbinfo column order. Unknown
// values are passed as nil so they are stored as NULL.
func reportArgs(collectorKey string, t track.Track) []any {
	return []any{
		collectorKey, t.ICAO, optString(t.Callsign),
		t.Latitude, t.Longitude, t.Altitude,
		t.VerticalVelocity, t.HorizontalVelocity, t.GroundTrackHeading, optString(string(t.SpeedType)),
		optTime(t.Archive.EvenAt), optTime(t.Archive.OddAt),
		optString(t.Archive.Identification), optString(t.Archive.Even), optString(t.Archive.Odd), optString(t.Archive.Velocity),
		optQuality(t.NACp), optQuality(t.NACv), optQuality(t.NIC), optQuality(t.SIL), optQuality(t.SDA),
		optTime(t.PositionTime), t.LastUpdate.UTC(),
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func optQuality(q track.Quality) *int {
	if !q.IsSet() {
		return nil
	}
	v := q.Value
	return &v
}
