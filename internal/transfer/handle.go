package transfer

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type options struct {
	url         string
	connectOnly bool
	post        bool
	headers     *HeaderList
	readData    io.Reader
	writeData   io.Writer
	verbose     bool
	debug       DebugFunc
}

// Handle is one transfer configuration plus at most one live connection.
type Handle struct {
	engine *Engine
	opts   options

	// mu is held for the whole of Perform and Cleanup and guards the
	// connection state below.
	mu      sync.Mutex
	conn    net.Conn
	br      *bufio.Reader
	connKey string
	closed  bool

	abortMu sync.Mutex
	abort   context.CancelFunc
	aborted bool
}

func (h *Handle) SetURL(raw string)         { h.opts.url = raw }
func (h *Handle) SetConnectOnly(on bool)    { h.opts.connectOnly = on }
func (h *Handle) SetPost(on bool)           { h.opts.post = on }
func (h *Handle) SetReadData(r io.Reader)   { h.opts.readData = r }
func (h *Handle) SetWriteData(w io.Writer)  { h.opts.writeData = w }
func (h *Handle) SetVerbose(on bool)        { h.opts.verbose = on }
func (h *Handle) SetDebugFunc(fn DebugFunc) { h.opts.debug = fn }

// SetHTTPHeader installs extra request headers. The list must stay alive
// until Perform returns; nil removes any installed list.
func (h *Handle) SetHTTPHeader(l *HeaderList) { h.opts.headers = l }

// Reset restores every option to its default. The live connection is kept
// so the next Perform against the same target reuses it.
func (h *Handle) Reset() {
	h.opts = options{}
}

// Connected reports whether the handle holds a live connection.
func (h *Handle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Perform runs one blocking transfer with the current options. In
// connect-only mode it stops after the connection is established.
func (h *Handle) Perform(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return newError(CodeBadFunctionArgument, ErrHandleClosed)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t, terr := parseTarget(h.opts.url)
	if terr != nil {
		return terr
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !h.armAbort(cancel) {
		return newError(CodeAbortedByCallback, ErrEngineClosed)
	}
	defer h.armAbort(nil)

	if h.engine.cfg.TransferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.engine.cfg.TransferTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := h.ensureConn(ctx, t); err != nil {
		return err
	}
	if h.opts.connectOnly {
		h.infof("Connect only mode, connection to %s left intact", t.addr())
		return nil
	}

	stop := h.watchContext(ctx)
	err := h.exchange(ctx, t)
	stop()
	if err != nil {
		h.dropConn()
		log.Debug().
			Str("target", t.raw).
			Int("code", int(err.Code)).
			Err(err.Err).
			Msg("transfer failed")
		return err
	}
	log.Debug().
		Str("target", t.raw).
		Dur("duration", time.Since(start)).
		Msg("transfer complete")
	return nil
}

// Cleanup closes the live connection and returns the handle to its engine.
// The handle is unusable afterwards.
func (h *Handle) Cleanup() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.dropConn()
	h.closed = true
	h.opts = options{}
	h.mu.Unlock()
	h.engine.release(h)
}

// armAbort installs the cancel func of the running Perform. It reports
// false once the engine has aborted the handle.
func (h *Handle) armAbort(cancel context.CancelFunc) bool {
	h.abortMu.Lock()
	defer h.abortMu.Unlock()
	if h.aborted {
		return false
	}
	h.abort = cancel
	return true
}

// interrupt cancels a transfer running on another goroutine and refuses
// any later one. It does not wait.
func (h *Handle) interrupt() {
	h.abortMu.Lock()
	defer h.abortMu.Unlock()
	h.aborted = true
	if h.abort != nil {
		h.abort()
	}
}

// shutdown waits for a running Perform to return, then closes the
// connection and marks the handle unusable.
func (h *Handle) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropConn()
	h.closed = true
}

// watchContext arms the connection deadline from ctx and interrupts blocked
// I/O on cancellation. The returned func clears both.
func (h *Handle) watchContext(ctx context.Context) func() {
	conn := h.conn
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = conn.SetDeadline(time.Time{})
	}
}

// dropConn closes the live connection. h.mu must be held.
func (h *Handle) dropConn() {
	if h.conn == nil {
		return
	}
	h.infof("Closing connection to %s", h.connKey)
	_ = h.conn.Close()
	h.conn = nil
	h.br = nil
	h.connKey = ""
}
