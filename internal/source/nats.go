package source

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yegors/squitter/pkg/logger"
)

// NATSSource subscribes to a subject carrying AVR lines. A message may hold
// several newline separated frames.
type NATSSource struct {
	url     string
	subject string
	logger  *logger.Logger
}

// NewNATSSource creates a subscriber for subject on the server at url
func NewNATSSource(url, subject string, log *logger.Logger) *NATSSource {
	return &NATSSource{
		url:     url,
		subject: subject,
		logger:  log.Named("source-nats"),
	}
}

// Name identifies the source in logs
func (s *NATSSource) Name() string {
	return "nats"
}

// Run subscribes until ctx is cancelled or emit fails
func (s *NATSSource) Run(ctx context.Context, emit EmitFunc) error {
	conn, err := nats.Connect(s.url,
		nats.Name("squitter-source"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("Disconnected from NATS", logger.Error(err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	msgs := make(chan *nats.Msg, 1024)
	sub, err := conn.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	defer sub.Unsubscribe()

	s.logger.Info("Subscribed to frames",
		logger.String("url", s.url),
		logger.String("subject", s.subject))

	for {
		select {
		case msg := <-msgs:
			if err := s.handle(ctx, msg.Data, emit); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *NATSSource) handle(ctx context.Context, payload []byte, emit EmitFunc) error {
	return ReadLines(ctx, bytes.NewReader(payload), emit)
}
