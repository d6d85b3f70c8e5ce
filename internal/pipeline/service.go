// Package pipeline routes raw frames to per-aircraft tracks and hands
// complete tracks to the exporter.
//
// Frames are classified on the caller's goroutine, then sharded by ICAO
// address. Each shard is a single goroutine, so frames for one aircraft are
// merged in arrival order while distinct aircraft are merged in parallel.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/yegors/squitter/internal/modes"
	"github.com/yegors/squitter/internal/track"
	"github.com/yegors/squitter/internal/websocket"
	"github.com/yegors/squitter/pkg/logger"
)

// ErrStopped is returned by Submit after Stop
var ErrStopped = errors.New("pipeline stopped")

// WebSocketServer defines the interface for a WebSocket server
type WebSocketServer interface {
	Broadcast(message *websocket.Message)
}

// Config holds the pipeline settings
type Config struct {
	Shards          int
	ShardQueueSize  int
	ExportQueueSize int
	Gate            track.Gate
	TrackTTL        time.Duration // zero keeps tracks forever
	JanitorInterval time.Duration
	Station         *Station
}

// Stats is a point in time view of the pipeline counters
type Stats struct {
	Received       uint64   `json:"received"`
	Dropped        uint64   `json:"dropped"`
	Ignored        uint64   `json:"ignored"`
	Processed      uint64   `json:"processed"`
	DecodeErrors   uint64   `json:"decode_errors"`
	Ambiguous      uint64   `json:"ambiguous"`
	Exported       uint64   `json:"exported"`
	ExportFailures uint64   `json:"export_failures"`
	ExportDropped  uint64   `json:"export_dropped"`
	Expired        uint64   `json:"expired"`
	Tracks         int      `json:"tracks"`
	Sinks          []string `json:"sinks"`
}

type counters struct {
	received       atomic.Uint64
	dropped        atomic.Uint64
	ignored        atomic.Uint64
	processed      atomic.Uint64
	decodeErrors   atomic.Uint64
	ambiguous      atomic.Uint64
	exported       atomic.Uint64
	exportFailures atomic.Uint64
	exportDropped  atomic.Uint64
	expired        atomic.Uint64
}

type job struct {
	frame   modes.Frame
	header  modes.Header
	arrival time.Time
}

// Service is the track update pipeline
type Service struct {
	cfg      Config
	store    *track.Store
	exporter *Exporter
	wsServer WebSocketServer
	logger   *logger.Logger

	mu      sync.RWMutex
	started bool
	stopped bool

	shards    []chan job
	shardWG   sync.WaitGroup
	exportCh  chan track.Track
	exportWG  sync.WaitGroup
	broadcast chan *websocket.Message
	stopCh    chan struct{}
	wg        sync.WaitGroup

	stats counters
}

// NewService creates a pipeline around an existing store. exporter and
// wsServer may be nil.
func NewService(cfg Config, store *track.Store, exporter *Exporter, wsServer WebSocketServer, log *logger.Logger) *Service {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.ShardQueueSize <= 0 {
		cfg.ShardQueueSize = 1024
	}
	if cfg.ExportQueueSize <= 0 {
		cfg.ExportQueueSize = 1024
	}
	if cfg.Gate.Mode == "" {
		cfg.Gate.Mode = track.CompletenessStrict
	}
	if cfg.TrackTTL > 0 && cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = cfg.TrackTTL / 4
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		exporter: exporter,
		wsServer: wsServer,
		logger:   log.Named("pipeline"),
		shards:   make([]chan job, cfg.Shards),
		exportCh: make(chan track.Track, cfg.ExportQueueSize),
		stopCh:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = make(chan job, cfg.ShardQueueSize)
	}
	if wsServer != nil {
		s.broadcast = make(chan *websocket.Message, 100)
	}
	return s
}

// Store returns the track store the pipeline writes to
func (s *Service) Store() *track.Store {
	return s.store
}

// Station returns the receiver location, or nil when none is configured
func (s *Service) Station() *Station {
	return s.cfg.Station
}

// Start launches the shard, export, broadcast and janitor workers
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("pipeline already started")
	}
	s.started = true

	s.logger.Info("Starting pipeline",
		logger.Int("shards", s.cfg.Shards),
		logger.String("completeness", string(s.cfg.Gate.Mode)),
		logger.Duration("reexport_interval", s.cfg.Gate.ReexportInterval),
		logger.Duration("track_ttl", s.cfg.TrackTTL))

	for i, ch := range s.shards {
		s.shardWG.Add(1)
		go s.runShard(i, ch)
	}

	s.exportWG.Add(1)
	go s.exportLoop()

	if s.broadcast != nil {
		s.wg.Add(1)
		go s.broadcastLoop()
	}

	if s.cfg.TrackTTL > 0 {
		s.wg.Add(1)
		go s.janitorLoop(ctx)
	}
	return nil
}

// Stop drains the shard mailboxes, then the export queue, then stops the
// remaining workers
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	for _, ch := range s.shards {
		close(ch)
	}
	s.mu.Unlock()

	s.logger.Info("Stopping pipeline")
	if !started {
		return
	}

	s.shardWG.Wait()
	close(s.exportCh)
	s.exportWG.Wait()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Pipeline stopped", logger.Int("tracks", s.store.Len()))
}

// Submit validates a raw frame and queues it on its aircraft's shard. It
// blocks while the shard mailbox is full. Dropped frames return their
// validation error; ignored typecodes return nil without creating a track.
func (s *Service) Submit(ctx context.Context, raw string, arrival time.Time) error {
	s.stats.received.Add(1)

	f, h, err := modes.ClassifyHex(raw)
	if err != nil {
		s.stats.dropped.Add(1)
		s.logger.Debug("Dropped frame", logger.String("frame", raw), logger.Error(err))
		return err
	}
	if !h.Kind.Decodable() {
		s.stats.ignored.Add(1)
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}

	select {
	case s.shards[s.shardFor(h.ICAO)] <- job{frame: f, header: h, arrival: arrival}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit is Submit for frame sources. Rejected frames are already counted, so
// only a stopped pipeline or a cancelled context is reported.
func (s *Service) Emit(ctx context.Context, raw string, arrival time.Time) error {
	err := s.Submit(ctx, raw, arrival)
	if err != nil && modes.IsDropped(err) {
		return nil
	}
	return err
}

func (s *Service) shardFor(icao string) int {
	return int(xxhash.Sum64String(icao) % uint64(len(s.shards)))
}

func (s *Service) runShard(id int, ch <-chan job) {
	defer s.shardWG.Done()
	for j := range ch {
		s.Process(j.frame, j.header, j.arrival)
	}
	s.logger.Debug("Shard drained", logger.Int("shard", id))
}

// Process merges one classified frame into its track synchronously. Callers
// must not process frames for the same ICAO concurrently; Submit guarantees
// that through sharding.
func (s *Service) Process(f modes.Frame, h modes.Header, arrival time.Time) (track.Track, error) {
	if !h.Kind.Decodable() {
		s.stats.ignored.Add(1)
		return track.Track{}, nil
	}
	s.stats.processed.Add(1)

	msg, decodeErr := modes.DecodeWithHeader(f, h)

	var (
		changed   bool
		applyErr  error
		export    bool
		completed bool
	)
	snap, created := s.store.Update(h.ICAO, arrival, func(t *track.Track) bool {
		if msg == nil {
			t.Messages++
			return false
		}
		wasComplete := t.Complete
		changed, applyErr = t.Apply(msg, arrival)
		export = s.cfg.Gate.Evaluate(t, arrival)
		completed = t.Complete && !wasComplete
		return changed
	})

	if created {
		s.logger.Debug("New track", logger.String("icao", h.ICAO))
	}

	err := decodeErr
	if err == nil {
		err = applyErr
	}
	s.logResult(h, err)

	if changed {
		s.publish(websocket.MessageTypeTrackUpdate, snap)
	}
	if completed {
		s.publish(websocket.MessageTypeTrackComplete, snap)
	}
	if export {
		s.enqueueExport(snap)
	}
	return snap, err
}

func (s *Service) logResult(h modes.Header, err error) {
	switch {
	case err == nil:
	case errors.Is(err, modes.ErrPositionAmbiguous):
		s.stats.ambiguous.Add(1)
		s.logger.Debug("Position pair straddles a zone boundary",
			logger.String("icao", h.ICAO), logger.Error(err))
	case errors.Is(err, modes.ErrNotReady) && !errors.Is(err, modes.ErrDecodeFailure) && !errors.Is(err, modes.ErrQualityFieldOutOfRange):
		// Waiting for the other half of the pair
	default:
		s.stats.decodeErrors.Add(1)
		s.logger.Debug("Failed to decode frame",
			logger.String("icao", h.ICAO),
			logger.String("kind", h.Kind.String()),
			logger.Error(err))
	}
}

func (s *Service) enqueueExport(t track.Track) {
	select {
	case s.exportCh <- t:
	default:
		s.stats.exportDropped.Add(1)
		s.logger.Warn("Export queue full, dropping snapshot", logger.String("icao", t.ICAO))
	}
}

func (s *Service) exportLoop() {
	defer s.exportWG.Done()

	// Independent of the run context so Stop can drain pending exports
	ctx := context.Background()
	for t := range s.exportCh {
		if s.exporter == nil {
			s.stats.exported.Add(1)
			continue
		}
		if err := s.exporter.Export(ctx, t); err != nil {
			s.stats.exportFailures.Add(1)
			continue
		}
		s.stats.exported.Add(1)
	}
}

func (s *Service) publish(messageType string, t track.Track) {
	if s.broadcast == nil {
		return
	}

	data := map[string]any{
		"icao":  t.ICAO,
		"track": NewTrackView(t, s.cfg.Station),
	}
	if t.Altitude != nil {
		data["altitude"] = *t.Altitude
	}

	select {
	case s.broadcast <- &websocket.Message{Type: messageType, Data: data}:
	default:
		s.logger.Warn("Broadcast channel full, dropping changes")
	}
}

func (s *Service) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.broadcast:
			s.wsServer.Broadcast(msg)
		case <-s.stopCh:
			for {
				select {
				case msg := <-s.broadcast:
					s.wsServer.Broadcast(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) janitorLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.ExpireTracks(now)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ExpireTracks removes tracks idle for longer than the configured TTL and
// announces them as removed
func (s *Service) ExpireTracks(now time.Time) []track.Track {
	if s.cfg.TrackTTL <= 0 {
		return nil
	}
	expired := s.store.Expire(now.Add(-s.cfg.TrackTTL))
	if len(expired) == 0 {
		return nil
	}
	s.stats.expired.Add(uint64(len(expired)))

	for _, t := range expired {
		if s.broadcast == nil {
			break
		}
		select {
		case s.broadcast <- &websocket.Message{
			Type: websocket.MessageTypeTrackRemoved,
			Data: map[string]any{"icao": t.ICAO},
		}:
		default:
			s.logger.Warn("Broadcast channel full, dropping changes")
		}
	}

	s.logger.Debug("Expired idle tracks",
		logger.Int("count", len(expired)),
		logger.Int("remaining", s.store.Len()))
	return expired
}

// GetStats returns the current counters
func (s *Service) GetStats() Stats {
	stats := Stats{
		Received:       s.stats.received.Load(),
		Dropped:        s.stats.dropped.Load(),
		Ignored:        s.stats.ignored.Load(),
		Processed:      s.stats.processed.Load(),
		DecodeErrors:   s.stats.decodeErrors.Load(),
		Ambiguous:      s.stats.ambiguous.Load(),
		Exported:       s.stats.exported.Load(),
		ExportFailures: s.stats.exportFailures.Load(),
		ExportDropped:  s.stats.exportDropped.Load(),
		Expired:        s.stats.expired.Load(),
		Tracks:         s.store.Len(),
		Sinks:          []string{},
	}
	if s.exporter != nil {
		stats.Sinks = s.exporter.Sinks()
	}
	return stats
}
