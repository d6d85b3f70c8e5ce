// Package simulation replays recorded captures through the pipeline as if
// they were arriving from a live receiver.
package simulation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/squitter/internal/source"
	"github.com/yegors/squitter/pkg/logger"
)

// Record is one captured frame
type Record struct {
	At    time.Time
	Frame string
}

// ParseRecord reads a capture line of the form "<unix-ms> <frame>". The frame
// may be bare hex or any AVR form. A line without a timestamp is accepted and
// returns a zero At.
func ParseRecord(line string) (Record, bool) {
	fields := strings.Fields(line)
	switch len(fields) {
	case 1:
		raw, ok := source.ParseAVRLine(fields[0])
		if !ok {
			return Record{}, false
		}
		return Record{Frame: raw}, true
	case 2:
		ms, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return Record{}, false
		}
		raw, ok := source.ParseAVRLine(fields[1])
		if !ok {
			return Record{}, false
		}
		return Record{At: time.UnixMilli(ms), Frame: raw}, true
	default:
		return Record{}, false
	}
}

// Replay is a frame source backed by a capture file
type Replay struct {
	path   string
	speed  float64
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *logger.Logger
}

// NewReplay creates a replay of the capture at path. speed scales the gaps
// between records; zero or less replays as fast as possible.
func NewReplay(path string, speed float64, log *logger.Logger) *Replay {
	return &Replay{
		path:   path,
		speed:  speed,
		now:    time.Now,
		sleep:  sleepContext,
		logger: log.Named("simulation"),
	}
}

// Name identifies the source in logs
func (r *Replay) Name() string {
	return "replay"
}

// Run replays the capture file once
func (r *Replay) Run(ctx context.Context, emit source.EmitFunc) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	r.logger.Info("Starting replay",
		logger.String("path", r.path),
		logger.Float64("speed", r.speed))

	n, err := r.replay(ctx, f, emit)
	if err != nil {
		return err
	}
	r.logger.Info("Replay finished", logger.Int("frames", n))
	return nil
}

// replay emits every record in rd. Arrival times keep the recorded spacing,
// rebased onto the wall clock at the start of the replay, so the pairing
// window sees the original gaps regardless of speed.
func (r *Replay) replay(ctx context.Context, rd io.Reader, emit source.EmitFunc) (int, error) {
	var (
		start     = r.now()
		first     time.Time
		prev      time.Time
		emitted   int
		lineCount int
	)

	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		lineCount++
		rec, ok := ParseRecord(scanner.Text())
		if !ok {
			continue
		}

		if rec.At.IsZero() {
			rec.At = prev
		}
		if first.IsZero() && !rec.At.IsZero() {
			first = rec.At
			prev = rec.At
		}

		if r.speed > 0 && rec.At.After(prev) {
			gap := time.Duration(float64(rec.At.Sub(prev)) / r.speed)
			if err := r.sleep(ctx, gap); err != nil {
				return emitted, err
			}
		}
		if !rec.At.IsZero() {
			prev = rec.At
		}

		arrival := start
		if !first.IsZero() {
			arrival = start.Add(rec.At.Sub(first))
		}
		if err := emit(ctx, rec.Frame, arrival); err != nil {
			return emitted, err
		}
		emitted++
	}
	if err := scanner.Err(); err != nil {
		return emitted, fmt.Errorf("read capture line %d: %w", lineCount, err)
	}
	return emitted, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
