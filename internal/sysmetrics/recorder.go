// Package sysmetrics samples the process CPU time and peak memory and stores
// the samples next to the decoded tracks.
package sysmetrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yegors/squitter/pkg/logger"
)

// ErrUnsupported is returned by Sample where getrusage is unavailable
var ErrUnsupported = errors.New("resource usage not supported on this platform")

// Usage is one resource usage sample
type Usage struct {
	Timestamp time.Time `json:"timestamp"`
	UserCPU   float64   `json:"user_cpu"` // seconds
	SysCPU    float64   `json:"sys_cpu"`  // seconds
	MaxRSS    int64     `json:"max_rss"`  // kilobytes
}

// Store persists samples
type Store interface {
	SaveSystemMetrics(ctx context.Context, ts time.Time, userCPU, sysCPU float64, maxRSS int64) error
}

// Recorder writes a sample to the store on a fixed interval
type Recorder struct {
	store    Store
	interval time.Duration
	sample   func() (Usage, error)
	logger   *logger.Logger

	mu   sync.RWMutex
	last Usage

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRecorder creates a recorder. A nil store keeps samples in memory only.
func NewRecorder(store Store, interval time.Duration, log *logger.Logger) *Recorder {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Recorder{
		store:    store,
		interval: interval,
		sample:   Sample,
		logger:   log.Named("sysmetrics"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling until Stop or ctx is cancelled
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := r.Record(ctx); err != nil {
					if errors.Is(err, ErrUnsupported) {
						r.logger.Info("Resource usage sampling unavailable, stopping")
						return
					}
					r.logger.Warn("Failed to record system metrics", logger.Error(err))
				}
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sampling loop
func (r *Recorder) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Record takes one sample and stores it
func (r *Recorder) Record(ctx context.Context) error {
	u, err := r.sample()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.last = u
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	return r.store.SaveSystemMetrics(ctx, u.Timestamp, u.UserCPU, u.SysCPU, u.MaxRSS)
}

// Last returns the most recent sample, zero before the first one
func (r *Recorder) Last() Usage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
