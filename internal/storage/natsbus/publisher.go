// Package natsbus publishes exported track snapshots as JSON on a NATS subject.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yegors/squitter/internal/track"
	"github.com/yegors/squitter/pkg/logger"
)

// Config holds the publisher settings
type Config struct {
	URL     string
	Subject string // snapshots go to <Subject>.tracks, registry entries to <Subject>.registry
}

// RegistryEntry is the payload published for an ICAO/callsign pair
type RegistryEntry struct {
	ICAO      string    `json:"icao"`
	Callsign  string    `json:"callsign"`
	Timestamp time.Time `json:"timestamp"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// Publisher is a sink that forwards snapshots to NATS
type Publisher struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	logger  *logger.Logger
}

// Connect dials NATS and returns a publisher
func Connect(cfg Config, log *logger.Logger) (*Publisher, error) {
	pubLogger := log.Named("nats-pub")

	conn, err := nats.Connect(cfg.URL,
		nats.Name("squitter-publisher"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				pubLogger.Warn("Disconnected from NATS", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			pubLogger.Info("Reconnected to NATS", logger.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	pubLogger.Info("Connected to NATS",
		logger.String("url", cfg.URL),
		logger.String("subject", cfg.Subject))

	return &Publisher{
		conn:    conn,
		pub:     conn,
		subject: cfg.Subject,
		logger:  pubLogger,
	}, nil
}

// Name identifies the sink in logs
func (p *Publisher) Name() string {
	return "nats"
}

// TracksSubject is the subject snapshots are published on
func (p *Publisher) TracksSubject() string {
	return p.subject + ".tracks"
}

// RegistrySubject is the subject registry entries are published on
func (p *Publisher) RegistrySubject() string {
	return p.subject + ".registry"
}

// SaveTrack publishes a snapshot
func (p *Publisher) SaveTrack(ctx context.Context, t track.Track) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal track: %w", err)
	}
	if err := p.pub.Publish(p.TracksSubject(), data); err != nil {
		return fmt.Errorf("publish track: %w", err)
	}
	return nil
}

// SaveRegistry publishes an ICAO/callsign pair
func (p *Publisher) SaveRegistry(ctx context.Context, icao, callsign string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(RegistryEntry{ICAO: icao, Callsign: callsign, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal registry entry: %w", err)
	}
	if err := p.pub.Publish(p.RegistrySubject(), data); err != nil {
		return fmt.Errorf("publish registry entry: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
