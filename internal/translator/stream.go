package translator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"paig-gateway/internal/apperr"
	"paig-gateway/internal/models"
)

const maxLineSize = 1 << 20

// UsageFinalizer records the final output count for a usage log entry.
type UsageFinalizer interface {
	FinalizeUsage(ctx context.Context, id string, tokensOutput int) error
}

// StreamConfig stamps every chunk a Stream emits and names the log to finalize.
type StreamConfig struct {
	ID      string
	Model   string
	Created time.Time
	LogID   string
	Usage   UsageFinalizer
	Logger  zerolog.Logger
}

// Stream pulls canonical chunks from an upstream body one at a time. It is
// not safe for concurrent Recv calls.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	framer  Framer
	cfg     StreamConfig
	log     zerolog.Logger

	state State
	index int
	err   error

	finalizeOnce sync.Once
	closeOnce    sync.Once
}

// NewStream wraps body. ctx bounds the final usage write.
func NewStream(ctx context.Context, body io.ReadCloser, framer Framer, cfg StreamConfig) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if cfg.ID == "" {
		cfg.ID = NewCompletionID()
	}
	if cfg.Created.IsZero() {
		cfg.Created = time.Now().UTC()
	}

	return &Stream{
		ctx:     ctx,
		body:    body,
		scanner: scanner,
		framer:  framer,
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "translator").Str("completion_id", cfg.ID).Logger(),
	}
}

// ID is the completion id stamped on every chunk.
func (s *Stream) ID() string { return s.cfg.ID }

// OutputTokens reports the count accumulated so far.
func (s *Stream) OutputTokens() int { return s.state.OutputTokens }

// Recv returns the next chunk. io.EOF marks the graceful end of the stream,
// after which the usage log has been finalized. Any other error means the
// upstream failed and the usage log was left unfinalized.
func (s *Stream) Recv() (models.Chunk, error) {
	if s.err != nil {
		return models.Chunk{}, s.err
	}

	for !s.state.Done && s.scanner.Scan() {
		next, chunk, err := s.framer.Step(s.state, s.scanner.Text())
		if err != nil {
			if errors.Is(err, ErrMalformedEvent) {
				s.log.Warn().Err(err).Msg("skipping upstream event")
				continue
			}
			return models.Chunk{}, s.fail(err)
		}
		s.state = next
		if chunk != nil {
			return s.stamp(*chunk), nil
		}
	}

	if !s.state.Done {
		if err := s.scanner.Err(); err != nil {
			return models.Chunk{}, s.fail(err)
		}
	}

	s.finish()
	return models.Chunk{}, s.err
}

func (s *Stream) stamp(c models.Chunk) models.Chunk {
	c.ID = s.cfg.ID
	c.Model = s.cfg.Model
	c.Created = s.cfg.Created
	c.Index = s.index
	c.Fingerprint = SystemFingerprint
	s.index++
	return c
}

func (s *Stream) fail(cause error) error {
	s.log.Error().Err(cause).
		Str("usage_log_id", s.cfg.LogID).
		Int("tokens_output", s.state.OutputTokens).
		Msg("upstream stream failed, usage log left open")
	s.err = apperr.Transport(fmt.Sprintf("upstream stream interrupted: %v", cause)).WithCause(cause)
	s.Close()
	return s.err
}

func (s *Stream) finish() {
	s.finalizeOnce.Do(func() {
		s.err = io.EOF
		s.Close()
		if s.cfg.Usage == nil || s.cfg.LogID == "" {
			return
		}
		if err := s.cfg.Usage.FinalizeUsage(s.ctx, s.cfg.LogID, s.state.OutputTokens); err != nil {
			s.log.Error().Err(err).Str("usage_log_id", s.cfg.LogID).Msg("finalize usage log")
		}
	})
}

// Close releases the upstream body without finalizing usage. It is safe to
// call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}
