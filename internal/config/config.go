package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/yegors/squitter/internal/track"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`     // HTTP server settings
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`   // Application logging settings
	Source   SourceConfig   `toml:"source" yaml:"source"`     // Raw frame feed settings
	Pipeline PipelineConfig `toml:"pipeline" yaml:"pipeline"` // Track merge and export settings
	Station  StationConfig  `toml:"station" yaml:"station"`   // Receiver location
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`   // Export sinks
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Enabled          bool   `toml:"enabled" yaml:"enabled"`                             // Serve the HTTP API and the WebSocket stream
	Host             string `toml:"host" yaml:"host"`                                   // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	Port             int    `toml:"port" yaml:"port"`                                   // HTTP port
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds" yaml:"read_timeout_seconds"`   // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds" yaml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for streaming)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`   // Maximum duration to wait for the next request when keep-alives are enabled
	RequestTimeout   int    `toml:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	WebSocketUpdates bool   `toml:"websocket_updates" yaml:"websocket_updates"` // Stream track changes to WebSocket clients
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`   // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format" yaml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// Source types
const (
	SourceStdin  = "stdin"
	SourceTCP    = "tcp"
	SourceNATS   = "nats"
	SourceReplay = "replay"
)

// SourceConfig selects where raw frames come from
type SourceConfig struct {
	// Allowed values:
	// - "stdin": AVR lines on standard input
	// - "tcp": dump1090 raw output (port 30002)
	// - "nats": AVR lines published on a NATS subject
	// - "replay": a recorded capture of "<unix-ms> <frame>" lines
	Type string `toml:"type" yaml:"type"`

	Address               string `toml:"address" yaml:"address"`                                       // host:port of the raw feed (tcp)
	ReconnectIntervalSecs int    `toml:"reconnect_interval_seconds" yaml:"reconnect_interval_seconds"` // Wait between reconnect attempts (tcp)

	NATSURL     string `toml:"nats_url" yaml:"nats_url"`         // NATS server URL (nats)
	NATSSubject string `toml:"nats_subject" yaml:"nats_subject"` // Subject carrying raw frames (nats)

	ReplayPath  string  `toml:"replay_path" yaml:"replay_path"`   // Capture file (replay)
	ReplaySpeed float64 `toml:"replay_speed" yaml:"replay_speed"` // Playback speed factor, 0 for as fast as possible (replay)
}

// PipelineConfig contains the track merge and export settings
type PipelineConfig struct {
	Shards          int `toml:"shards" yaml:"shards"`                       // Parallel merge workers, frames are sharded by ICAO address
	ShardQueueSize  int `toml:"shard_queue_size" yaml:"shard_queue_size"`   // Per shard mailbox capacity
	ExportQueueSize int `toml:"export_queue_size" yaml:"export_queue_size"` // Snapshots waiting for the sinks

	// Completeness mode:
	// - "strict": a resolved position or at least one decoded field
	// - "legacy": both CPR halves and a positive altitude
	// - "relaxed": any track with an ICAO address
	Completeness         string `toml:"completeness" yaml:"completeness"`
	ReexportIntervalSecs int    `toml:"reexport_interval_seconds" yaml:"reexport_interval_seconds"` // 0 exports each track once
	TrackTTLSecs         int    `toml:"track_ttl_seconds" yaml:"track_ttl_seconds"`                 // Idle tracks are dropped after this long, 0 keeps them
	JanitorIntervalSecs  int    `toml:"janitor_interval_seconds" yaml:"janitor_interval_seconds"`
	ExportAttempts       int    `toml:"export_attempts" yaml:"export_attempts"`
	ExportRetryBackoffMs int    `toml:"export_retry_backoff_ms" yaml:"export_retry_backoff_ms"`
	RegistryCacheTTLSecs int    `toml:"registry_cache_ttl_seconds" yaml:"registry_cache_ttl_seconds"` // How long an exported callsign suppresses duplicates
}

// StationConfig contains physical location configuration for the receiver
type StationConfig struct {
	Latitude      float64 `toml:"latitude" yaml:"latitude"`             // Latitude of the receiver in decimal degrees
	Longitude     float64 `toml:"longitude" yaml:"longitude"`           // Longitude of the receiver in decimal degrees
	ElevationFeet int     `toml:"elevation_feet" yaml:"elevation_feet"` // Elevation above sea level in feet
}

// StorageConfig contains the export sinks
type StorageConfig struct {
	SQLite     SQLiteConfig     `toml:"sqlite" yaml:"sqlite"`
	Postgres   PostgresConfig   `toml:"postgres" yaml:"postgres"`
	ClickHouse ClickHouseConfig `toml:"clickhouse" yaml:"clickhouse"`
	NATS       NATSConfig       `toml:"nats" yaml:"nats"`
}

// SQLiteConfig contains the embedded store settings
type SQLiteConfig struct {
	Enabled             bool   `toml:"enabled" yaml:"enabled"`
	BasePath            string `toml:"base_path" yaml:"base_path"`                               // Directory for database files (actual filename will be generated as squitter-YYYY-MM-DD.db)
	CollectorKey        string `toml:"collector_key" yaml:"collector_key"`                       // Identifies this receiver in stored reports
	MetricsIntervalSecs int    `toml:"metrics_interval_seconds" yaml:"metrics_interval_seconds"` // Process resource sampling, 0 disables
}

// PostgresConfig contains the relational sink settings
type PostgresConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	Database string `toml:"database" yaml:"database"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
}

// ClickHouseConfig contains the analytics sink settings
type ClickHouseConfig struct {
	Enabled           bool   `toml:"enabled" yaml:"enabled"`
	Host              string `toml:"host" yaml:"host"`
	Port              int    `toml:"port" yaml:"port"`
	Database          string `toml:"database" yaml:"database"`
	User              string `toml:"user" yaml:"user"`
	Password          string `toml:"password" yaml:"password"`
	BatchSize         int    `toml:"batch_size" yaml:"batch_size"`
	FlushIntervalSecs int    `toml:"flush_interval_seconds" yaml:"flush_interval_seconds"`
}

// NATSConfig contains the snapshot publisher settings
type NATSConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	URL     string `toml:"url" yaml:"url"`
	Subject string `toml:"subject" yaml:"subject"` // Snapshots go to <subject>.tracks, registry entries to <subject>.registry
}

// Load loads the configuration from the specified file path. Files ending in
// .yaml or .yml are read as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // Default location in configs/ folder
		"config.toml",         // Root directory
		"configs/config.yaml", // YAML variant
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			// File exists, try to load it
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate fills defaults and validates the configuration
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server port: %d", c.Server.Port)
		}
		if c.Server.IdleTimeoutSecs <= 0 {
			c.Server.IdleTimeoutSecs = 60
		}
		if c.Server.RequestTimeout <= 0 {
			c.Server.RequestTimeout = 30
		}
	}

	// Validate logging config
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	switch c.Logging.Format {
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if err := c.ValidateSource(); err != nil {
		return err
	}
	if err := c.ValidatePipeline(); err != nil {
		return err
	}
	if err := c.ValidateStation(); err != nil {
		return err
	}
	return c.ValidateStorage()
}

// ValidateSource validates the frame source configuration
func (c *Config) ValidateSource() error {
	if c.Source.Type == "" {
		c.Source.Type = SourceStdin // Default to stdin if not specified
	}

	switch c.Source.Type {
	case SourceStdin:
	case SourceTCP:
		if c.Source.Address == "" {
			return fmt.Errorf("address is required when source type is tcp")
		}
		if c.Source.ReconnectIntervalSecs <= 0 {
			c.Source.ReconnectIntervalSecs = 5
		}
	case SourceNATS:
		if c.Source.NATSURL == "" {
			return fmt.Errorf("nats_url is required when source type is nats")
		}
		if c.Source.NATSSubject == "" {
			return fmt.Errorf("nats_subject is required when source type is nats")
		}
	case SourceReplay:
		if c.Source.ReplayPath == "" {
			return fmt.Errorf("replay_path is required when source type is replay")
		}
		if c.Source.ReplaySpeed < 0 {
			return fmt.Errorf("invalid replay speed: %f (must be >= 0)", c.Source.ReplaySpeed)
		}
	default:
		return fmt.Errorf("invalid source type: %s (must be 'stdin', 'tcp', 'nats', or 'replay')", c.Source.Type)
	}
	return nil
}

// ValidatePipeline validates the pipeline configuration
func (c *Config) ValidatePipeline() error {
	p := &c.Pipeline

	if p.Shards < 0 || p.ShardQueueSize < 0 || p.ExportQueueSize < 0 {
		return fmt.Errorf("pipeline shards and queue sizes must be >= 0")
	}
	if p.Shards == 0 {
		p.Shards = 4
	}
	if p.ShardQueueSize == 0 {
		p.ShardQueueSize = 1024
	}
	if p.ExportQueueSize == 0 {
		p.ExportQueueSize = 1024
	}

	if p.Completeness == "" {
		p.Completeness = string(track.CompletenessStrict)
	}
	if _, err := track.ParseCompletenessMode(p.Completeness); err != nil {
		return err
	}

	if p.ReexportIntervalSecs < 0 || p.TrackTTLSecs < 0 || p.JanitorIntervalSecs < 0 {
		return fmt.Errorf("pipeline intervals must be >= 0")
	}
	if p.ExportAttempts <= 0 {
		p.ExportAttempts = 3
	}
	if p.ExportRetryBackoffMs <= 0 {
		p.ExportRetryBackoffMs = 100
	}
	if p.RegistryCacheTTLSecs <= 0 {
		p.RegistryCacheTTLSecs = 3600
	}
	return nil
}

// ValidateStation validates the station configuration
func (c *Config) ValidateStation() error {
	// Validate Latitude
	if c.Station.Latitude < -90 || c.Station.Latitude > 90 {
		return fmt.Errorf("invalid station latitude: %f", c.Station.Latitude)
	}

	// Validate Longitude
	if c.Station.Longitude < -180 || c.Station.Longitude > 180 {
		return fmt.Errorf("invalid station longitude: %f", c.Station.Longitude)
	}

	// Elevation can be negative, so we'll just check if it's within a reasonable range, e.g. -2000 to 30000 feet.
	if c.Station.ElevationFeet < -2000 || c.Station.ElevationFeet > 30000 {
		return fmt.Errorf("station elevation out of typical range: %d ft", c.Station.ElevationFeet)
	}

	return nil
}

// HasStation reports whether a receiver location is configured
func (c *Config) HasStation() bool {
	return c.Station.Latitude != 0 || c.Station.Longitude != 0
}

// ValidateStorage validates the sink configuration
func (c *Config) ValidateStorage() error {
	s := &c.Storage

	if s.SQLite.Enabled {
		if s.SQLite.BasePath == "" {
			return fmt.Errorf("base_path is required when sqlite storage is enabled")
		}
		if s.SQLite.CollectorKey == "" {
			s.SQLite.CollectorKey = defaultCollectorKey()
		}
		if s.SQLite.MetricsIntervalSecs < 0 {
			return fmt.Errorf("invalid metrics interval: %d", s.SQLite.MetricsIntervalSecs)
		}
	}

	if s.Postgres.Enabled {
		if s.Postgres.Host == "" || s.Postgres.Database == "" {
			return fmt.Errorf("host and database are required when postgres storage is enabled")
		}
		if s.Postgres.Port == 0 {
			s.Postgres.Port = 5432
		}
	}

	if s.ClickHouse.Enabled {
		if s.ClickHouse.Host == "" {
			return fmt.Errorf("host is required when clickhouse storage is enabled")
		}
		if s.ClickHouse.Port == 0 {
			s.ClickHouse.Port = 9000
		}
		if s.ClickHouse.Database == "" {
			s.ClickHouse.Database = "default"
		}
	}

	if s.NATS.Enabled {
		if s.NATS.URL == "" {
			return fmt.Errorf("url is required when nats publishing is enabled")
		}
		if s.NATS.Subject == "" {
			s.NATS.Subject = "squitter"
		}
	}
	return nil
}

// CollectorKey returns the receiver identifier shared by every sink
func (c *Config) CollectorKey() string {
	if c.Storage.SQLite.CollectorKey != "" {
		return c.Storage.SQLite.CollectorKey
	}
	return defaultCollectorKey()
}

// SQLitePath returns the daily database file for the given day
func (c *Config) SQLitePath(day time.Time) string {
	return filepath.Join(c.Storage.SQLite.BasePath, fmt.Sprintf("squitter-%s.db", day.Format("2006-01-02")))
}

func defaultCollectorKey() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "squitter"
}

// Gate returns the completeness gate described by the pipeline section
func (p PipelineConfig) Gate() track.Gate {
	mode, _ := track.ParseCompletenessMode(p.Completeness)
	return track.Gate{
		Mode:             mode,
		ReexportInterval: seconds(p.ReexportIntervalSecs),
	}
}

// TrackTTL returns how long an idle track is kept
func (p PipelineConfig) TrackTTL() time.Duration {
	return seconds(p.TrackTTLSecs)
}

// JanitorInterval returns the expiry sweep interval
func (p PipelineConfig) JanitorInterval() time.Duration {
	return seconds(p.JanitorIntervalSecs)
}

// RetryBackoff returns the base delay between export attempts
func (p PipelineConfig) RetryBackoff() time.Duration {
	return time.Duration(p.ExportRetryBackoffMs) * time.Millisecond
}

// RegistryCacheTTL returns how long an exported callsign suppresses duplicates
func (p PipelineConfig) RegistryCacheTTL() time.Duration {
	return seconds(p.RegistryCacheTTLSecs)
}

// ReconnectInterval returns the wait between TCP reconnect attempts
func (s SourceConfig) ReconnectInterval() time.Duration {
	return seconds(s.ReconnectIntervalSecs)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
