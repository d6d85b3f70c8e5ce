package logger

import (
	"errors"
	"testing"
)

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New(Config{Level: "loud", Format: "console"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New(Config{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNamedLoggerAcceptsFields(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		log, err := New(Config{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("New(%s): %v", format, err)
		}
		child := log.Named("pipeline").With(String("shard", "0"))
		child.Debug("frame dropped", Int("count", 1), Error(errors.New("boom")))
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNop().Named("test")
	log.Info("discarded", Bool("ok", true))
	if err := log.Sync(); err != nil {
		t.Fatalf("Sync on nop logger: %v", err)
	}
}
