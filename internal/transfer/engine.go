// Package transfer is a small blocking HTTP/1.1 transfer engine.
//
// The API follows an easy-handle model:
// - Init/Cleanup bracket all engine use in a process
// - a Handle carries options, one live connection, and Perform
// - Reset restores option defaults while the live connection survives
//
// A Handle is not safe for concurrent use. The Engine is.
package transfer

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrHandleUnavailable = errors.New("transfer: no handle available")
	ErrEngineClosed      = errors.New("transfer: engine cleaned up")
	ErrHandleClosed      = errors.New("transfer: handle cleaned up")
)

// Engine hands out handles and tracks which ones are still alive.
type Engine struct {
	cfg     Config
	rootCAs *x509.CertPool

	mu     sync.Mutex
	live   map[*Handle]struct{}
	closed bool
}

// Init validates cfg and prepares the engine. It is the process-wide
// initialization step and must precede any NewHandle call.
func Init(cfg Config) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:  cfg,
		live: make(map[*Handle]struct{}),
	}
	if cfg.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTLSCABundle, err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("%w: %s", ErrTLSCABundle, cfg.TLS.CAFile)
		}
		e.rootCAs = pool
	}
	log.Debug().
		Dur("connect_timeout", cfg.ConnectTimeout).
		Dur("transfer_timeout", cfg.TransferTimeout).
		Int("max_handles", cfg.MaxHandles).
		Msg("transfer engine initialized")
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// NewHandle returns a fresh handle with default options.
func (e *Engine) NewHandle() (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("%w: %w", ErrHandleUnavailable, ErrEngineClosed)
	}
	if len(e.live) >= e.cfg.MaxHandles {
		return nil, fmt.Errorf("%w: %d handles in use", ErrHandleUnavailable, len(e.live))
	}
	h := &Handle{engine: e}
	e.live[h] = struct{}{}
	return h, nil
}

// LiveHandles reports how many handles have not been cleaned up.
func (e *Engine) LiveHandles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Cleanup closes every live handle and refuses further NewHandle calls. It
// may run while handles are transferring on other goroutines: those
// transfers fail with CodeAbortedByCallback and Cleanup returns once they
// have.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	handles := make([]*Handle, 0, len(e.live))
	for h := range e.live {
		handles = append(handles, h)
	}
	e.live = make(map[*Handle]struct{})
	e.mu.Unlock()

	// Interrupt first so in-flight transfers on other goroutines return
	// promptly, then wait for each one and tear it down.
	for _, h := range handles {
		h.interrupt()
	}
	for _, h := range handles {
		h.shutdown()
	}
	log.Debug().Int("closed_handles", len(handles)).Msg("transfer engine cleaned up")
}

func (e *Engine) release(h *Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.live, h)
}
