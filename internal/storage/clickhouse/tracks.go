// Package clickhouse stores exported track reports in ClickHouse for
// analytics. Reports are buffered and written in batches.
package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/yegors/squitter/internal/track"
	"github.com/yegors/squitter/pkg/logger"
)

// Config holds ClickHouse connection settings.
type Config struct {
	Host          string
	Port          int
	Database      string
	User          string
	Password      string
	CollectorKey  string
	BatchSize     int
	FlushInterval time.Duration
}

// reportRow is one track_reports row in column order.
type reportRow struct {
	CollectorKey       string
	ICAO               string
	Callsign           string
	Latitude           *float64
	Longitude          *float64
	Altitude           *int32
	VerticalVelocity   *int32
	HorizontalVelocity *float64
	GroundTrackHeading *float64
	NACp               *uint8
	NACv               *uint8
	NIC                *uint8
	SIL                *uint8
	SDA                *uint8
	PositionTime       *time.Time
	LastUpdate         time.Time
}

type rowKey struct {
	icao       string
	lastUpdate time.Time
	lastExport time.Time
}

// TrackStorage buffers reports and writes them to ClickHouse in batches.
type TrackStorage struct {
	conn   driver.Conn
	cfg    Config
	logger *logger.Logger

	mu      sync.Mutex
	pending []reportRow
	keys    map[rowKey]struct{}
	send    func(ctx context.Context, rows []reportRow) error

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open opens a connection to ClickHouse and creates the schema.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*TrackStorage, error) {
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

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	s := newTrackStorage(cfg, log)
	s.conn = conn
	s.send = s.sendBatch

	if err := s.CreateSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	s.logger.Info("Connected to ClickHouse",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database),
		logger.Int("batch_size", s.cfg.BatchSize))
	return s, nil
}

func newTrackStorage(cfg Config, log *logger.Logger) *TrackStorage {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &TrackStorage{
		cfg:    cfg,
		logger: log.Named("clickhouse"),
		keys:   make(map[rowKey]struct{}),
		stopCh: make(chan struct{}),
	}
}

// Name identifies the sink in logs.
func (s *TrackStorage) Name() string {
	return "clickhouse"
}

// CreateSchema creates the ClickHouse tables.
func (s *TrackStorage) CreateSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS track_reports (
			collector_key           LowCardinality(String),
			icao                    FixedString(6),
			callsign                LowCardinality(String),
			latitude                Nullable(Float64),
			longitude               Nullable(Float64),
			altitude                Nullable(Int32),
			vertical_velocity       Nullable(Int32),
			horizontal_velocity     Nullable(Float64),
			ground_track_heading    Nullable(Float64),
			nac_p                   Nullable(UInt8),
			nac_v                   Nullable(UInt8),
			nic                     Nullable(UInt8),
			sil                     Nullable(UInt8),
			sda                     Nullable(UInt8),
			position_time           Nullable(DateTime64(3)),
			last_update             DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(last_update)
		ORDER BY (icao, last_update)`,

		`CREATE TABLE IF NOT EXISTS track_registry (
			icao        FixedString(6),
			callsign    String,
			updated_at  DateTime64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY icao`,
	}

	for _, q := range queries {
		if err := s.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("create clickhouse schema: %w", err)
		}
	}
	return nil
}

// Start runs the periodic flush until Close.
func (s *TrackStorage) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Flush(ctx); err != nil {
					s.logger.Warn("Periodic flush failed", logger.Error(err))
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SaveTrack buffers a report and flushes once the batch is full. A retry of
// the same snapshot after a failed flush is not buffered twice.
func (s *TrackStorage) SaveTrack(ctx context.Context, t track.Track) error {
	s.mu.Lock()
	key := rowKey{icao: t.ICAO, lastUpdate: t.LastUpdate, lastExport: t.LastExport}
	if _, dup := s.keys[key]; !dup {
		s.keys[key] = struct{}{}
		s.pending = append(s.pending, newReportRow(s.cfg.CollectorKey, t))
	}
	full := len(s.pending) >= s.cfg.BatchSize
	s.mu.Unlock()

	if !full {
		return nil
	}
	return s.Flush(ctx)
}

// Flush writes every buffered report. On failure the rows stay buffered for
// the next attempt.
func (s *TrackStorage) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	if err := s.send(ctx, s.pending); err != nil {
		return err
	}

	s.logger.Debug("Flushed track reports", logger.Int("rows", len(s.pending)))
	s.pending = s.pending[:0]
	s.keys = make(map[rowKey]struct{})
	return nil
}

// Pending returns the number of buffered reports.
func (s *TrackStorage) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *TrackStorage) sendBatch(ctx context.Context, rows []reportRow) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO track_reports (
			collector_key, icao, callsign, latitude, longitude, altitude,
			vertical_velocity, horizontal_velocity, ground_track_heading,
			nac_p, nac_v, nic, sil, sda, position_time, last_update
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		err = batch.Append(r.CollectorKey, r.ICAO, r.Callsign, r.Latitude, r.Longitude, r.Altitude,
			r.VerticalVelocity, r.HorizontalVelocity, r.GroundTrackHeading,
			r.NACp, r.NACv, r.NIC, r.SIL, r.SDA, r.PositionTime, r.LastUpdate)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// SaveRegistry records the latest callsign seen for an ICAO address.
func (s *TrackStorage) SaveRegistry(ctx context.Context, icao, callsign string) error {
	err := s.conn.Exec(ctx,
		"INSERT INTO track_registry (icao, callsign, updated_at) VALUES (?, ?, ?)",
		icao, callsign, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert registry: %w", err)
	}
	return nil
}

// Close flushes buffered reports and closes the connection.
func (s *TrackStorage) Close() error {
	close(s.stopCh)
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	flushErr := s.Flush(ctx)
	if flushErr != nil {
		s.logger.Error("Failed to flush on close",
			logger.Int("rows", s.Pending()),
			logger.Error(flushErr))
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return err
		}
	}
	return flushErr
}

func newReportRow(collectorKey string, t track.Track) reportRow {
	row := reportRow{
		CollectorKey:       collectorKey,
		ICAO:               t.ICAO,
		Callsign:           t.Callsign,
		Latitude:           t.Latitude,
		Longitude:          t.Longitude,
		Altitude:           int32Ptr(t.Altitude),
		VerticalVelocity:   int32Ptr(t.VerticalVelocity),
		HorizontalVelocity: t.HorizontalVelocity,
		GroundTrackHeading: t.GroundTrackHeading,
		NACp:               qualityPtr(t.NACp),
		NACv:               qualityPtr(t.NACv),
		NIC:                qualityPtr(t.NIC),
		SIL:                qualityPtr(t.SIL),
		SDA:                qualityPtr(t.SDA),
		LastUpdate:         t.LastUpdate.UTC(),
	}
	if !t.PositionTime.IsZero() {
		pt := t.PositionTime.UTC()
		row.PositionTime = &pt
	}
	return row
}

func int32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	i := int32(*v)
	return &i
}

func qualityPtr(q track.Quality) *uint8 {
	if !q.IsSet() {
		return nil
	}
	v := uint8(q.Value)
	return &v
}
