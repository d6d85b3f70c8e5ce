package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/multierr"

	"github.com/yegors/squitter/internal/track"
	"github.com/yegors/squitter/pkg/logger"
)

// Sink persists exported track snapshots
type Sink interface {
	Name() string
	SaveTrack(ctx context.Context, t track.Track) error
	SaveRegistry(ctx context.Context, icao, callsign string) error
}

// ExporterConfig controls retries and registry de-duplication
type ExporterConfig struct {
	Attempts    int
	Backoff     time.Duration // doubled after every failed attempt
	RegistryTTL time.Duration // zero disables de-duplication
}

// Exporter fans snapshots out to every sink. Track records and registry
// entries are retried independently.
type Exporter struct {
	sinks    []Sink
	cfg      ExporterConfig
	registry *cache.Cache
	logger   *logger.Logger
}

// NewExporter creates an exporter for the given sinks
func NewExporter(sinks []Sink, cfg ExporterConfig, log *logger.Logger) *Exporter {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}

	e := &Exporter{
		sinks:  sinks,
		cfg:    cfg,
		logger: log.Named("exporter"),
	}
	if cfg.RegistryTTL > 0 {
		e.registry = cache.New(cfg.RegistryTTL, 2*cfg.RegistryTTL)
	}
	return e
}

// Sinks returns the configured sink names
func (e *Exporter) Sinks() []string {
	names := make([]string, 0, len(e.sinks))
	for _, s := range e.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Export writes the snapshot to every sink. The returned error combines the
// failures of all sinks; it is only used for logging and counters.
func (e *Exporter) Export(ctx context.Context, t track.Track) error {
	var errs error
	for _, sink := range e.sinks {
		errs = multierr.Append(errs, e.exportTo(ctx, sink, t))
	}
	return errs
}

func (e *Exporter) exportTo(ctx context.Context, sink Sink, t track.Track) error {
	var errs error

	err := e.retry(ctx, sink.Name(), "track", t.ICAO, func(ctx context.Context) error {
		return sink.SaveTrack(ctx, t)
	})
	if err != nil {
		e.logger.Error("Failed to save track",
			logger.String("sink", sink.Name()),
			logger.String("icao", t.ICAO),
			logger.Error(err))
		errs = multierr.Append(errs, err)
	} else {
		e.logger.Debug("Saved track",
			logger.String("sink", sink.Name()),
			logger.String("icao", t.ICAO))
	}

	if t.Callsign == "" || e.registered(sink.Name(), t.ICAO, t.Callsign) {
		return errs
	}

	err = e.retry(ctx, sink.Name(), "registry", t.ICAO, func(ctx context.Context) error {
		return sink.SaveRegistry(ctx, t.ICAO, t.Callsign)
	})
	if err != nil {
		e.logger.Error("Failed to save registry entry",
			logger.String("sink", sink.Name()),
			logger.String("icao", t.ICAO),
			logger.String("callsign", t.Callsign),
			logger.Error(err))
		return multierr.Append(errs, err)
	}
	e.remember(sink.Name(), t.ICAO, t.Callsign)
	return errs
}

// retry runs op up to the configured number of attempts, sleeping
// backoff, 2*backoff, ... between them
func (e *Exporter) retry(ctx context.Context, sink, record, icao string, op func(ctx context.Context) error) error {
	var err error
	for i := 0; i < e.cfg.Attempts; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if i == e.cfg.Attempts-1 {
			break
		}

		e.logger.Warn("Failed to save, retrying...",
			logger.String("sink", sink),
			logger.String("record", record),
			logger.String("icao", icao),
			logger.Int("attempt", i+1),
			logger.Error(err))

		timer := time.NewTimer(e.cfg.Backoff * time.Duration(1<<i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s %s: %w", sink, record, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s %s failed after %d attempts: %w", sink, record, e.cfg.Attempts, err)
}

func registryKey(sink, icao, callsign string) string {
	return sink + "|" + icao + "|" + callsign
}

func (e *Exporter) registered(sink, icao, callsign string) bool {
	if e.registry == nil {
		return false
	}
	_, found := e.registry.Get(registryKey(sink, icao, callsign))
	return found
}

func (e *Exporter) remember(sink, icao, callsign string) {
	if e.registry == nil {
		return
	}
	e.registry.SetDefault(registryKey(sink, icao, callsign), struct{}{})
}
