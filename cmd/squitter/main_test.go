package main

import (
	"strings"
	"testing"

	"github.com/yegors/squitter/internal/config"
	"github.com/yegors/squitter/pkg/logger"
)

func TestNewSource(t *testing.T) {
	tests := []struct {
		source config.SourceConfig
		want   string
	}{
		{config.SourceConfig{Type: config.SourceStdin}, "stdin"},
		{config.SourceConfig{Type: config.SourceTCP, Address: "localhost:30002"}, "tcp"},
		{config.SourceConfig{Type: config.SourceNATS, NATSURL: "nats://localhost:4222", NATSSubject: "adsb.raw"}, "nats"},
		{config.SourceConfig{Type: config.SourceReplay, ReplayPath: "capture.txt"}, "replay"},
	}

	for _, tt := range tests {
		cfg := &config.Config{Source: tt.source}
		src, err := newSource(cfg, strings.NewReader(""), logger.NewNop())
		if err != nil {
			t.Fatalf("newSource(%s): %v", tt.want, err)
		}
		if src.Name() != tt.want {
			t.Errorf("Name = %q, want %q", src.Name(), tt.want)
		}
	}

	if _, err := newSource(&config.Config{Source: config.SourceConfig{Type: "rtlsdr"}}, nil, logger.NewNop()); err == nil {
		t.Error("expected error for unknown source type")
	}
}

func TestOpenSinksNoneEnabled(t *testing.T) {
	sinks, db, closers, err := openSinks(t.Context(), &config.Config{}, logger.NewNop())
	if err != nil {
		t.Fatalf("openSinks: %v", err)
	}
	if len(sinks) != 0 || db != nil || len(closers) != 0 {
		t.Errorf("got %d sinks, db=%v, %d closers", len(sinks), db, len(closers))
	}
}

func TestOpenSinksSQLite(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.SQLite.Enabled = true
	cfg.Storage.SQLite.BasePath = t.TempDir()
	cfg.Storage.SQLite.CollectorKey = "rx1"

	sinks, db, closers, err := openSinks(t.Context(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("openSinks: %v", err)
	}
	defer closeAll(closers, logger.NewNop())

	if len(sinks) != 1 || sinks[0].Name() != "sqlite" || db == nil {
		t.Errorf("sinks = %v, db = %v", len(sinks), db)
	}
}
