// Package source reads raw 1090ES frames from a receiver feed and hands them
// to the pipeline one line at a time.
package source

import (
	"bufio"
	"context"
	"encoding/hex"
	"io"
	"strings"
	"time"
)

// EmitFunc receives one raw frame. A non-nil error stops the source.
type EmitFunc func(ctx context.Context, raw string, arrival time.Time) error

// Source is a frame feed
type Source interface {
	Name() string
	Run(ctx context.Context, emit EmitFunc) error
}

// avrTimestampLen is the 48-bit MLAT counter carried by "@" lines
const avrTimestampLen = 12

// ParseAVRLine extracts the hex payload from one line of dump1090 AVR output.
// Accepted forms are "*<hex>;", "@<timestamp><hex>;" and bare hex. Anything
// else, including blank lines and "#" comments, reports false.
func ParseAVRLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}

	switch line[0] {
	case '*':
		line = strings.TrimSuffix(line[1:], ";")
	case '@':
		line = strings.TrimSuffix(line[1:], ";")
		if len(line) <= avrTimestampLen {
			return "", false
		}
		line = line[avrTimestampLen:]
	}

	if line == "" || len(line)%2 != 0 {
		return "", false
	}
	if _, err := hex.DecodeString(line); err != nil {
		return "", false
	}
	return strings.ToUpper(line), true
}

// ReadLines scans r until EOF, emitting every AVR frame stamped with the
// local arrival time
func ReadLines(ctx context.Context, r io.Reader, emit EmitFunc) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, ok := ParseAVRLine(scanner.Text())
		if !ok {
			continue
		}
		if err := emit(ctx, raw, time.Now()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
