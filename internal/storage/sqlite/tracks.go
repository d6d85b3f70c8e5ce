package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/squitter/internal/track"
	"github.com/yegors/squitter/pkg/logger"
	_ "modernc.org/sqlite"
)

// HistoryRecord is one exported track report read back from adsbinfo
type HistoryRecord struct {
	ID                 int64     `json:"id"`
	ICAO               string    `json:"icao"`
	Callsign           string    `json:"callsign,omitempty"`
	Latitude           *float64  `json:"lat,omitempty"`
	Longitude          *float64  `json:"lon,omitempty"`
	Altitude           *int      `json:"altitude,omitempty"`
	VerticalVelocity   *int      `json:"vertical_velocity,omitempty"`
	HorizontalVelocity *float64  `json:"horizontal_velocity,omitempty"`
	GroundTrackHeading *float64  `json:"ground_track_heading,omitempty"`
	NACp               *int      `json:"nac_p,omitempty"`
	NACv               *int      `json:"nac_v,omitempty"`
	NIC                *int      `json:"nic,omitempty"`
	SIL                *int      `json:"sil,omitempty"`
	SDA                *int      `json:"sda,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// TrackStorage is a SQLite-based sink for exported tracks
type TrackStorage struct {
	db           *sql.DB
	logger       *logger.Logger
	collectorKey string
}

// NewTrackStorage creates a new SQLite-based track storage. collectorKey
// identifies this receiver in every stored report.
func NewTrackStorage(dbPath, collectorKey string, log *logger.Logger) (*TrackStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath),
		logger.String("collector_key", collectorKey))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA cache_size=10000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &TrackStorage{
		db:           db,
		logger:       storageLogger,
		collectorKey: collectorKey,
	}, nil
}

// Name identifies the sink in logs
func (s *TrackStorage) Name() string {
	return "sqlite"
}

// Close closes the database connection
func (s *TrackStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDB returns the database connection
func (s *TrackStorage) GetDB() *sql.DB {
	return s.db
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	// One row per exported snapshot. Raw frames are kept so a report can be
	// decoded again later.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS adsbinfo (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collector_key TEXT NOT NULL,
			mode_s_code TEXT NOT NULL,
			callsign TEXT,
			latitude REAL,
			longitude REAL,
			altitude INTEGER,
			vertical_velocity INTEGER,
			horizontal_velocity REAL,
			ground_track_heading REAL,
			speed_type TEXT,
			timestamp_even TIMESTAMP,
			timestamp_odd TIMESTAMP,
			message_identification TEXT,
			message_position_even TEXT,
			message_position_odd TEXT,
			message_velocity TEXT,
			nac_p INTEGER,
			nac_v INTEGER,
			nic INTEGER,
			sil INTEGER,
			sda INTEGER,
			position_time TIMESTAMP,
			last_update TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create adsbinfo table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_adsbinfo_mode_s_code ON adsbinfo(mode_s_code, last_update)`)
	if err != nil {
		return fmt.Errorf("failed to create adsbinfo index: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS airline (
			icao TEXT PRIMARY KEY,
			callsign TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create airline table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS system_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			user_cpu REAL NOT NULL,
			sys_cpu REAL NOT NULL,
			max_rss INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create system_metrics table: %w", err)
	}

	return nil
}

// SaveTrack inserts one report for an exported snapshot
func (s *TrackStorage) SaveTrack(ctx context.Context, t track.Track) error {
	var evenAt, oddAt, positionTime any
	if !t.Archive.EvenAt.IsZero() {
		evenAt = formatTime(t.Archive.EvenAt)
	}
	if !t.Archive.OddAt.IsZero() {
		oddAt = formatTime(t.Archive.OddAt)
	}
	if !t.PositionTime.IsZero() {
		positionTime = formatTime(t.PositionTime)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adsbinfo (
			collector_key, mode_s_code, callsign,
			latitude, longitude, altitude,
			vertical_velocity, horizontal_velocity, ground_track_heading, speed_type,
			timestamp_even, timestamp_odd,
			message_identification, message_position_even, message_position_odd, message_velocity,
			nac_p, nac_v, nic, sil, sda,
			position_time, last_update
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.collectorKey, t.ICAO, nullString(t.Callsign),
		nullFloat(t.Latitude), nullFloat(t.Longitude), nullInt(t.Altitude),
		nullInt(t.VerticalVelocity), nullFloat(t.HorizontalVelocity), nullFloat(t.GroundTrackHeading), nullString(string(t.SpeedType)),
		evenAt, oddAt,
		nullString(t.Archive.Identification), nullString(t.Archive.Even), nullString(t.Archive.Odd), nullString(t.Archive.Velocity),
		nullQuality(t.NACp), nullQuality(t.NACv), nullQuality(t.NIC), nullQuality(t.SIL), nullQuality(t.SDA),
		positionTime, formatTime(t.LastUpdate),
	)
	if err != nil {
		return fmt.Errorf("failed to insert track report: %w", err)
	}
	return nil
}

// SaveRegistry records the latest callsign seen for an ICAO address
func (s *TrackStorage) SaveRegistry(ctx context.Context, icao, callsign string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO airline (icao, callsign, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(icao) DO UPDATE SET callsign = excluded.callsign, updated_at = excluded.updated_at
	`, icao, callsign, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert airline: %w", err)
	}
	return nil
}

// GetCallsign returns the registered callsign for an ICAO address
func (s *TrackStorage) GetCallsign(ctx context.Context, icao string) (string, bool, error) {
	var callsign string
	err := s.db.QueryRowContext(ctx, "SELECT callsign FROM airline WHERE icao = ?", icao).Scan(&callsign)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query airline: %w", err)
	}
	return callsign, true, nil
}

// SaveSystemMetrics stores one resource usage sample
func (s *TrackStorage) SaveSystemMetrics(ctx context.Context, ts time.Time, userCPU, sysCPU float64, maxRSS int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_metrics (timestamp, user_cpu, sys_cpu, max_rss) VALUES (?, ?, ?, ?)
	`, formatTime(ts), userCPU, sysCPU, maxRSS)
	if err != nil {
		return fmt.Errorf("failed to insert system metrics: %w", err)
	}
	return nil
}

// GetTrackHistory returns up to limit reports for an ICAO address in
// chronological order
func (s *TrackStorage) GetTrackHistory(ctx context.Context, icao string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode_s_code, callsign, latitude, longitude, altitude,
			vertical_velocity, horizontal_velocity, ground_track_heading,
			nac_p, nac_v, nic, sil, sda, last_update
		FROM adsbinfo
		WHERE mode_s_code = ?
		ORDER BY last_update DESC, id DESC
		LIMIT ?
	`, icao, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query track history: %w", err)
	}
	defer rows.Close()

	records := []HistoryRecord{}
	for rows.Next() {
		var (
			rec                  HistoryRecord
			callsign             sql.NullString
			lat, lon, hv, hdg    sql.NullFloat64
			alt, vv              sql.NullInt64
			nacp, nacv, nic, sil sql.NullInt64
			sda                  sql.NullInt64
			timestamp            string
		)
		if err := rows.Scan(&rec.ID, &rec.ICAO, &callsign, &lat, &lon, &alt,
			&vv, &hv, &hdg, &nacp, &nacv, &nic, &sil, &sda, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan track history: %w", err)
		}

		rec.Callsign = callsign.String
		rec.Latitude = floatPtr(lat)
		rec.Longitude = floatPtr(lon)
		rec.Altitude = intPtr(alt)
		rec.VerticalVelocity = intPtr(vv)
		rec.HorizontalVelocity = floatPtr(hv)
		rec.GroundTrackHeading = floatPtr(hdg)
		rec.NACp = intPtr(nacp)
		rec.NACv = intPtr(nacv)
		rec.NIC = intPtr(nic)
		rec.SIL = intPtr(sil)
		rec.SDA = intPtr(sda)

		ts, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp %q: %w", timestamp, err)
		}
		rec.Timestamp = ts

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse the order to be chronological
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// CountReports returns the number of stored reports
func (s *TrackStorage) CountReports(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM adsbinfo").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return count, nil
}

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullQuality(q track.Quality) any {
	if !q.IsSet() {
		return nil
	}
	return q.Value
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
