package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/yegors/squitter/pkg/logger"
)

// DefaultRawPort is the dump1090 raw output port
const DefaultRawPort = 30002

// TCPSource connects to a dump1090 style raw feed and reconnects whenever the
// connection drops
type TCPSource struct {
	addr      string
	reconnect time.Duration
	dialer    net.Dialer
	logger    *logger.Logger
}

// NewTCPSource creates a TCP source for addr (host:port)
func NewTCPSource(addr string, reconnect time.Duration, log *logger.Logger) *TCPSource {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &TCPSource{
		addr:      addr,
		reconnect: reconnect,
		dialer:    net.Dialer{Timeout: 10 * time.Second},
		logger:    log.Named("source-tcp"),
	}
}

// Name identifies the source in logs
func (s *TCPSource) Name() string {
	return "tcp"
}

// Run keeps a connection open until ctx is cancelled or emit fails
func (s *TCPSource) Run(ctx context.Context, emit EmitFunc) error {
	for {
		err := s.session(ctx, emit)
		if ctx.Err() != nil {
			return nil
		}

		var emitErr *emitError
		if errors.As(err, &emitErr) {
			return emitErr.err
		}
		if err != nil {
			s.logger.Warn("Feed connection lost",
				logger.String("addr", s.addr),
				logger.Error(err),
				logger.Duration("retry_in", s.reconnect))
		} else {
			s.logger.Info("Feed closed by remote", logger.String("addr", s.addr))
		}

		select {
		case <-time.After(s.reconnect):
		case <-ctx.Done():
			return nil
		}
	}
}

type emitError struct{ err error }

func (e *emitError) Error() string { return e.err.Error() }

func (s *TCPSource) session(ctx context.Context, emit EmitFunc) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	defer conn.Close()

	s.logger.Info("Connected to feed", logger.String("addr", s.addr))

	// Unblock the reader on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	return ReadLines(ctx, conn, func(ctx context.Context, raw string, arrival time.Time) error {
		if err := emit(ctx, raw, arrival); err != nil {
			return &emitError{err: err}
		}
		return nil
	})
}
