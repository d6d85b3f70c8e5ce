package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yegors/squitter/internal/modes"
	"github.com/yegors/squitter/internal/track"
	"github.com/yegors/squitter/internal/websocket"
	"github.com/yegors/squitter/pkg/logger"
)

const (
	frameIdent   = "8D4840D6202CC371C32CE0576098"
	frameEven    = "8D40621D58C382D690C8AC2863A7"
	frameOdd     = "8D40621D58C386435CC412692AD6"
	frameSurface = "8D4840D630000000000000000000"
	frameDF11    = "5D4840D6202CC371C32CE0576098"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingServer struct {
	mu       sync.Mutex
	messages []*websocket.Message
}

func (r *recordingServer) Broadcast(m *websocket.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recordingServer) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Type)
	}
	return out
}

func newTestService(t *testing.T, cfg Config, sinks ...Sink) (*Service, *recordingServer) {
	t.Helper()
	ws := &recordingServer{}
	exp := NewExporter(sinks, ExporterConfig{Attempts: 3, Backoff: time.Millisecond}, logger.NewNop())
	return NewService(cfg, track.NewStore(), exp, ws, logger.NewNop()), ws
}

func classify(t *testing.T, raw string) (modes.Frame, modes.Header) {
	t.Helper()
	f, h, err := modes.ClassifyHex(raw)
	if err != nil {
		t.Fatalf("ClassifyHex(%s): %v", raw, err)
	}
	return f, h
}

func TestServiceEndToEnd(t *testing.T) {
	sink := newMemorySink("memory")
	svc, ws := newTestService(t, Config{Shards: 3}, sink)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx := context.Background()
	frames := []struct {
		raw string
		at  time.Time
	}{
		{frameIdent, t0},
		{frameOdd, t0},
		{frameEven, t0.Add(time.Second)},
		{frameSurface, t0.Add(2 * time.Second)},
	}
	for _, fr := range frames {
		if err := svc.Submit(ctx, fr.raw, fr.at); err != nil {
			t.Fatalf("Submit(%s): %v", fr.raw, err)
		}
	}
	if err := svc.Submit(ctx, "not-a-frame", t0); !errors.Is(err, modes.ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}
	if err := svc.Submit(ctx, frameDF11, t0); !errors.Is(err, modes.ErrUnsupportedFrame) {
		t.Errorf("expected ErrUnsupportedFrame, got %v", err)
	}

	svc.Stop()

	stats := svc.GetStats()
	if stats.Received != 6 || stats.Dropped != 2 || stats.Ignored != 1 || stats.Processed != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Tracks != 2 {
		t.Errorf("tracks = %d, want 2 (surface frames never create tracks)", stats.Tracks)
	}

	pos, ok := svc.Store().Get("40621D")
	if !ok || !pos.HasPosition() {
		t.Fatalf("40621D has no position: %+v", pos)
	}
	if *pos.Latitude < 52.2571 || *pos.Latitude > 52.2573 {
		t.Errorf("latitude = %f, want ~52.2572", *pos.Latitude)
	}

	// Strict gate: one export per track on its first successful field.
	if got := sink.trackCount(); got != 2 {
		t.Errorf("sink saved %d tracks, want 2", got)
	}
	if stats.Exported != 2 {
		t.Errorf("exported = %d, want 2", stats.Exported)
	}
	if cs, ok := sink.registry["4840D6"]; !ok || cs != "KLM1023" {
		t.Errorf("registry = %v", sink.registry)
	}

	complete := 0
	for _, typ := range ws.types() {
		if typ == websocket.MessageTypeTrackComplete {
			complete++
		}
	}
	if complete != 2 {
		t.Errorf("broadcast %d track_complete messages, want 2", complete)
	}
	if err := svc.Submit(ctx, frameIdent, t0); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after Stop = %v, want ErrStopped", err)
	}
}

func TestServiceProcessReportsErrors(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	f, h := classify(t, frameEven)
	snap, err := svc.Process(f, h, t0)
	if !errors.Is(err, modes.ErrNotReady) {
		t.Errorf("single position frame: expected ErrNotReady, got %v", err)
	}
	if snap.Altitude == nil || *snap.Altitude != 38000 {
		t.Errorf("altitude = %v, want 38000", snap.Altitude)
	}

	// Empty callsign: the track is created but nothing changes.
	f, h = classify(t, "8D4840D620000000000000000000")
	snap, err = svc.Process(f, h, t0)
	if !errors.Is(err, modes.ErrDecodeFailure) {
		t.Errorf("expected ErrDecodeFailure, got %v", err)
	}
	if snap.ICAO != "4840D6" || snap.Callsign != "" || snap.Messages != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if stats := svc.GetStats(); stats.DecodeErrors != 1 {
		t.Errorf("decode errors = %d, want 1", stats.DecodeErrors)
	}

	// Unknown velocity subtype: NACv is still stored.
	f, h = classify(t, "8D48502098080000000000000000")
	snap, err = svc.Process(f, h, t0)
	if !errors.Is(err, modes.ErrDecodeFailure) {
		t.Errorf("expected ErrDecodeFailure, got %v", err)
	}
	if !snap.NACv.IsSet() || snap.NACv.Value != 2 {
		t.Errorf("NACv = %+v, want 2", snap.NACv)
	}
	if snap.HorizontalVelocity != nil {
		t.Errorf("speed = %v, want unset", *snap.HorizontalVelocity)
	}
}

func TestServiceExportQueueFull(t *testing.T) {
	svc, _ := newTestService(t, Config{
		ExportQueueSize: 1,
		Gate:            track.Gate{Mode: track.CompletenessRelaxed},
	})

	// Not started: the export queue is never drained.
	for i, raw := range []string{frameIdent, frameEven} {
		f, h := classify(t, raw)
		svc.Process(f, h, t0.Add(time.Duration(i)*time.Second))
	}

	stats := svc.GetStats()
	if stats.ExportDropped != 1 {
		t.Errorf("export dropped = %d, want 1", stats.ExportDropped)
	}
}

func TestServiceReexport(t *testing.T) {
	svc, _ := newTestService(t, Config{
		ExportQueueSize: 10,
		Gate:            track.Gate{Mode: track.CompletenessStrict, ReexportInterval: 30 * time.Second},
	})

	f, h := classify(t, frameIdent)
	svc.Process(f, h, t0)
	svc.Process(f, h, t0.Add(10*time.Second))
	svc.Process(f, h, t0.Add(40*time.Second))

	if got := len(svc.exportCh); got != 2 {
		t.Errorf("queued exports = %d, want 2", got)
	}
}

func TestServiceExpireTracks(t *testing.T) {
	svc, _ := newTestService(t, Config{TrackTTL: time.Minute})

	f, h := classify(t, frameIdent)
	svc.Process(f, h, t0)
	f, h = classify(t, frameEven)
	svc.Process(f, h, t0.Add(50*time.Second))

	expired := svc.ExpireTracks(t0.Add(90 * time.Second))
	if len(expired) != 1 || expired[0].ICAO != "4840D6" {
		t.Fatalf("expired = %+v", expired)
	}
	if svc.Store().Len() != 1 {
		t.Errorf("remaining tracks = %d, want 1", svc.Store().Len())
	}

	var removed int
	for len(svc.broadcast) > 0 {
		if msg := <-svc.broadcast; msg.Type == websocket.MessageTypeTrackRemoved {
			removed++
			if msg.Data["icao"] != "4840D6" {
				t.Errorf("removed icao = %v", msg.Data["icao"])
			}
		}
	}
	if removed != 1 {
		t.Errorf("track_removed messages = %d, want 1", removed)
	}
}

func TestShardForIsStable(t *testing.T) {
	svc, _ := newTestService(t, Config{Shards: 8})
	first := svc.shardFor("4840D6")
	for i := 0; i < 10; i++ {
		if svc.shardFor("4840D6") != first {
			t.Fatal("shard assignment changed")
		}
	}
	if first < 0 || first >= 8 {
		t.Errorf("shard %d out of range", first)
	}
}

func TestNewTrackView(t *testing.T) {
	lat, lon, alt, hdg := 52.2572, 3.9194, 38000, 90.0
	tr := track.Track{
		ICAO:               "40621D",
		Latitude:           &lat,
		Longitude:          &lon,
		Altitude:           &alt,
		GroundTrackHeading: &hdg,
		PositionTime:       t0,
	}

	view := NewTrackView(tr, &Station{Latitude: 52.2572, Longitude: 3.9194})
	if view.FlightLevel == nil || *view.FlightLevel != 380 {
		t.Errorf("flight level = %v", view.FlightLevel)
	}
	if view.DistanceNM == nil || *view.DistanceNM != 0 {
		t.Errorf("distance = %v, want 0", view.DistanceNM)
	}
	if view.MagneticTrack == nil {
		t.Error("magnetic track not derived")
	}

	bare := NewTrackView(track.Track{ICAO: "40621D"}, nil)
	if bare.DistanceNM != nil || bare.MagneticTrack != nil || bare.FlightLevel != nil {
		t.Errorf("bare view = %+v", bare)
	}
}
