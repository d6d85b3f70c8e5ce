package source

import (
	"context"
	"io"

	"github.com/yegors/squitter/pkg/logger"
)

// ReaderSource feeds frames from a stream such as stdin. It returns once the
// stream is exhausted.
type ReaderSource struct {
	name   string
	r      io.Reader
	logger *logger.Logger
}

// NewReaderSource creates a source over r
func NewReaderSource(name string, r io.Reader, log *logger.Logger) *ReaderSource {
	return &ReaderSource{
		name:   name,
		r:      r,
		logger: log.Named("source-" + name),
	}
}

// Name identifies the source in logs
func (s *ReaderSource) Name() string {
	return s.name
}

// Run reads until EOF or cancellation
func (s *ReaderSource) Run(ctx context.Context, emit EmitFunc) error {
	s.logger.Info("Reading frames")
	if err := ReadLines(ctx, s.r, emit); err != nil {
		return err
	}
	s.logger.Info("Input exhausted")
	return nil
}
