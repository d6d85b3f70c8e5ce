package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yegors/squitter/internal/track"
	"github.com/yegors/squitter/pkg/logger"
)

// memorySink records writes and can fail a fixed number of calls
type memorySink struct {
	name string

	mu            sync.Mutex
	tracks        []track.Track
	registry      map[string]string
	trackCalls    int
	registryCalls int
	failTracks    int
	failRegistry  int
}

func newMemorySink(name string) *memorySink {
	return &memorySink{name: name, registry: make(map[string]string)}
}

func (m *memorySink) Name() string { return m.name }

func (m *memorySink) SaveTrack(ctx context.Context, t track.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackCalls++
	if m.failTracks > 0 {
		m.failTracks--
		return errors.New("database is locked")
	}
	m.tracks = append(m.tracks, t)
	return nil
}

func (m *memorySink) SaveRegistry(ctx context.Context, icao, callsign string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registryCalls++
	if m.failRegistry > 0 {
		m.failRegistry--
		return errors.New("database is locked")
	}
	m.registry[icao] = callsign
	return nil
}

func (m *memorySink) trackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

func newTestExporter(ttl time.Duration, sinks ...Sink) *Exporter {
	return NewExporter(sinks, ExporterConfig{Attempts: 3, Backoff: time.Millisecond, RegistryTTL: ttl}, logger.NewNop())
}

func TestExporterRetriesTrackAndRegistryIndependently(t *testing.T) {
	sink := newMemorySink("sqlite")
	sink.failTracks = 2
	sink.failRegistry = 1

	exp := newTestExporter(0, sink)
	if err := exp.Export(context.Background(), track.Track{ICAO: "4840D6", Callsign: "KLM1023"}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if sink.trackCalls != 3 || sink.registryCalls != 2 {
		t.Errorf("calls = %d/%d, want 3/2", sink.trackCalls, sink.registryCalls)
	}
	if sink.trackCount() != 1 || sink.registry["4840D6"] != "KLM1023" {
		t.Errorf("sink state = %d tracks, registry %v", sink.trackCount(), sink.registry)
	}
}

func TestExporterGivesUpAfterAttempts(t *testing.T) {
	sink := newMemorySink("postgres")
	sink.failTracks = 5

	exp := newTestExporter(0, sink)
	err := exp.Export(context.Background(), track.Track{ICAO: "4840D6", Callsign: "KLM1023"})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if sink.trackCalls != 3 {
		t.Errorf("track calls = %d, want 3", sink.trackCalls)
	}
	// The registry write does not depend on the track write.
	if sink.registry["4840D6"] != "KLM1023" {
		t.Errorf("registry = %v", sink.registry)
	}
}

func TestExporterSkipsRegistryWithoutCallsign(t *testing.T) {
	sink := newMemorySink("sqlite")
	exp := newTestExporter(0, sink)

	if err := exp.Export(context.Background(), track.Track{ICAO: "40621D"}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if sink.registryCalls != 0 {
		t.Errorf("registry calls = %d, want 0", sink.registryCalls)
	}
}

func TestExporterDeduplicatesRegistry(t *testing.T) {
	first := newMemorySink("sqlite")
	second := newMemorySink("clickhouse")
	exp := newTestExporter(time.Minute, first, second)

	tr := track.Track{ICAO: "4840D6", Callsign: "KLM1023"}
	for i := 0; i < 3; i++ {
		if err := exp.Export(context.Background(), tr); err != nil {
			t.Fatalf("Export: %v", err)
		}
	}
	if first.registryCalls != 1 || second.registryCalls != 1 {
		t.Errorf("registry calls = %d/%d, want 1/1", first.registryCalls, second.registryCalls)
	}
	if first.trackCount() != 3 {
		t.Errorf("tracks saved = %d, want 3", first.trackCount())
	}

	tr.Callsign = "KLM1024"
	exp.Export(context.Background(), tr)
	if first.registryCalls != 2 {
		t.Errorf("changed callsign not written, calls = %d", first.registryCalls)
	}
}

func TestExporterStopsOnCancelledContext(t *testing.T) {
	sink := newMemorySink("sqlite")
	sink.failTracks = 10

	exp := NewExporter([]Sink{sink}, ExporterConfig{Attempts: 3, Backoff: time.Hour}, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exp.Export(ctx, track.Track{ICAO: "4840D6"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if sink.trackCalls != 1 {
		t.Errorf("track calls = %d, want 1", sink.trackCalls)
	}
}

func TestExporterSinks(t *testing.T) {
	exp := newTestExporter(0, newMemorySink("sqlite"), newMemorySink("nats"))
	names := exp.Sinks()
	if len(names) != 2 || names[0] != "sqlite" || names[1] != "nats" {
		t.Errorf("Sinks = %v", names)
	}
}
