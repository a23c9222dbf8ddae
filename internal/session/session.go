package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danmuck/echoctl/internal/membuf"
	"github.com/danmuck/echoctl/internal/tracedump"
	"github.com/danmuck/echoctl/internal/transfer"
	"github.com/rs/zerolog/log"
)

// HandleSource hands out transfer handles.
type HandleSource interface {
	NewHandle() (*transfer.Handle, error)
}

// Session owns one transfer handle bound to a single target.
type Session struct {
	cfg    Config
	handle *transfer.Handle
	trace  transfer.DebugFunc
	target string
}

// New acquires a handle from src. No network activity happens until Connect.
func New(src HandleSource, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	h, err := src.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	s := &Session{
		cfg:    cfg,
		handle: h,
	}
	if cfg.Debug {
		s.trace = tracedump.Func(cfg.TraceOutput)
	}
	return s, nil
}

// Target returns the bound target, empty before a successful Connect.
func (s *Session) Target() string {
	return s.target
}

func (s *Session) Connected() bool {
	return s.target != ""
}

// Connect establishes the connection to target without issuing a request.
// It succeeds at most once per Session.
func (s *Session) Connect(ctx context.Context, target string) error {
	if s.handle == nil {
		return ErrClosed
	}
	if s.target != "" {
		return ErrAlreadyConnected
	}

	s.handle.SetURL(target)
	s.handle.SetConnectOnly(true)
	if err := s.perform(ctx); err != nil {
		return err
	}

	s.target = target
	log.Debug().Str("target", target).Msg("session connected")
	return nil
}

// Post sends message as a POST body over the bound connection and returns
// the reply body. The reply may be at most one byte longer than message.
func (s *Session) Post(ctx context.Context, message string) (string, error) {
	if s.handle == nil {
		return "", ErrClosed
	}
	if s.target == "" {
		return "", ErrNotConnected
	}

	// Reset clears every option, tracing included; only the connection survives.
	s.handle.Reset()
	s.handle.SetURL(s.target)
	s.handle.SetPost(true)

	headers := transfer.NewHeaderList()
	defer headers.Free()
	if err := headers.Append("Content-Length: " + strconv.Itoa(len(message))); err != nil {
		return "", fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	headers.Apply(s.handle)

	input, err := membuf.NewReader([]byte(message))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	defer input.Close()
	s.handle.SetReadData(input)

	output, err := membuf.NewWriter(len(message))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	defer output.Close()
	s.handle.SetWriteData(output)

	if err := s.perform(ctx); err != nil {
		return "", err
	}

	reply, err := output.Contents()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUsage, err)
	}
	log.Debug().
		Str("target", s.target).
		Int("sent_bytes", len(message)).
		Int("reply_bytes", len(reply)).
		Msg("session post complete")
	return string(reply), nil
}

// Close releases the handle and its connection. Further calls fail with
// ErrClosed.
func (s *Session) Close() error {
	if s.handle == nil {
		return nil
	}
	s.handle.Cleanup()
	s.handle = nil
	return nil
}

func (s *Session) perform(ctx context.Context) error {
	s.applyTracing()
	if err := s.handle.Perform(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (s *Session) applyTracing() {
	if s.cfg.Verbose {
		s.handle.SetVerbose(true)
	}
	if s.trace != nil {
		s.handle.SetDebugFunc(s.trace)
	}
}
