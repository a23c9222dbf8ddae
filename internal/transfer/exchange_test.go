package transfer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/echoctl/internal/membuf"
	"github.com/danmuck/echoctl/internal/testutil/testlog"
	"github.com/danmuck/echoctl/internal/testutil/tlstest"
)

type echoServer struct {
	srv         *httptest.Server
	conns       atomic.Int32
	lastChunked atomic.Bool
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	es := &echoServer{}
	es.srv = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		es.lastChunked.Store(len(r.TransferEncoding) > 0 && r.TransferEncoding[0] == "chunked")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	es.srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			es.conns.Add(1)
		}
	}
	return es
}

func (es *echoServer) start(t *testing.T) string {
	t.Helper()
	es.srv.Start()
	t.Cleanup(es.srv.Close)
	return "tcp://" + es.srv.Listener.Addr().String()
}

// rawServer accepts connections and hands each one to reply.
func rawServer(t *testing.T, reply func(conn net.Conn, r *bufio.Reader)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				reply(conn, bufio.NewReader(conn))
			}()
		}
	}()
	return "tcp://" + ln.Addr().String()
}

func drainRequest(r *bufio.Reader) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, req.Body)
}

func post(t *testing.T, h *Handle, url string, body string, sink io.Writer) error {
	t.Helper()
	h.Reset()
	h.SetURL(url)
	h.SetPost(true)
	l := NewHeaderList()
	defer l.Free()
	if err := l.Append("Content-Length: " + strconv.Itoa(len(body))); err != nil {
		t.Fatalf("append header: %v", err)
	}
	l.Apply(h)
	h.SetReadData(strings.NewReader(body))
	h.SetWriteData(sink)
	return h.Perform(context.Background())
}

func TestConnectOnlyThenPostsReuseConnection(t *testing.T) {
	testlog.Start(t)
	es := newEchoServer(t)
	url := es.start(t)
	e := newEngine(t, DefaultConfig())
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	h.SetURL(url)
	h.SetConnectOnly(true)
	if err := h.Perform(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !h.Connected() {
		t.Fatalf("expected live connection after connect-only perform")
	}

	for _, msg := range []string{"hello", "hello again"} {
		var sink bytes.Buffer
		if err := post(t, h, url, msg, &sink); err != nil {
			t.Fatalf("post %q: %v", msg, err)
		}
		if sink.String() != msg {
			t.Fatalf("unexpected echo: got %q want %q", sink.String(), msg)
		}
	}
	if got := es.conns.Load(); got != 1 {
		t.Fatalf("expected one reused connection, got %d", got)
	}
	if es.lastChunked.Load() {
		t.Fatalf("content-length request must not be chunked")
	}
}

func TestPostWithoutContentLengthIsChunked(t *testing.T) {
	testlog.Start(t)
	es := newEchoServer(t)
	url := es.start(t)
	e := newEngine(t, DefaultConfig())
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	var sink bytes.Buffer
	h.SetURL(url)
	h.SetPost(true)
	h.SetReadData(strings.NewReader("streamed body"))
	h.SetWriteData(&sink)
	if err := h.Perform(context.Background()); err != nil {
		t.Fatalf("perform: %v", err)
	}
	if sink.String() != "streamed body" {
		t.Fatalf("unexpected echo: %q", sink.String())
	}
	if !es.lastChunked.Load() {
		t.Fatalf("expected chunked request body")
	}
}

func TestResetClearsOptionsButKeepsConnection(t *testing.T) {
	testlog.Start(t)
	es := newEchoServer(t)
	url := es.start(t)
	e := newEngine(t, DefaultConfig())
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	h.SetURL(url)
	h.SetConnectOnly(true)
	h.SetVerbose(true)
	h.SetDebugFunc(func(InfoType, []byte) {})
	if err := h.Perform(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.Reset()

	if h.opts.url != "" || h.opts.connectOnly || h.opts.post || h.opts.verbose ||
		h.opts.debug != nil || h.opts.headers != nil || h.opts.readData != nil || h.opts.writeData != nil {
		t.Fatalf("reset left options behind: %+v", h.opts)
	}
	if !h.Connected() {
		t.Fatalf("reset must keep the live connection")
	}
	if err := h.Perform(context.Background()); err == nil {
		t.Fatalf("expected perform without url to fail")
	} else if code, _ := CodeOf(err); code != CodeURLMalformat {
		t.Fatalf("expected CodeURLMalformat, got %v", code)
	}
}

func TestDebugFuncOnlyFiresWhenVerbose(t *testing.T) {
	testlog.Start(t)
	es := newEchoServer(t)
	url := es.start(t)
	e := newEngine(t, DefaultConfig())
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	seen := map[InfoType][]byte{}
	record := func(kind InfoType, data []byte) {
		seen[kind] = append(seen[kind], data...)
	}

	h.SetURL(url)
	h.SetDebugFunc(record)
	h.SetConnectOnly(true)
	if err := h.Perform(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(seen) != 0 {
		t.Fatalf("debug func fired without verbose: %v", seen)
	}

	h.Reset()
	h.SetURL(url)
	h.SetPost(true)
	l := NewHeaderList()
	_ = l.Append("Content-Length: 5")
	l.Apply(h)
	h.SetReadData(strings.NewReader("hello"))
	h.SetWriteData(io.Discard)
	h.SetVerbose(true)
	h.SetDebugFunc(record)
	if err := h.Perform(context.Background()); err != nil {
		t.Fatalf("post: %v", err)
	}
	if !bytes.Contains(seen[InfoHeaderOut], []byte("POST / HTTP/1.1\r\n")) ||
		!bytes.Contains(seen[InfoHeaderOut], []byte("Content-Length: 5\r\n")) {
		t.Fatalf("unexpected header out: %q", seen[InfoHeaderOut])
	}
	if string(seen[InfoDataOut]) != "hello" || string(seen[InfoDataIn]) != "hello" {
		t.Fatalf("unexpected data trace out=%q in=%q", seen[InfoDataOut], seen[InfoDataIn])
	}
	if !bytes.HasPrefix(seen[InfoHeaderIn], []byte("HTTP/1.1 200 OK\r\n")) {
		t.Fatalf("unexpected header in: %q", seen[InfoHeaderIn])
	}
	if !bytes.Contains(seen[InfoText], []byte("Re-using existing connection")) {
		t.Fatalf("expected reuse info text, got %q", seen[InfoText])
	}
}

func TestVerboseWithoutDebugFuncWritesStderr(t *testing.T) {
	testlog.Start(t)
	es := newEchoServer(t)
	url := es.start(t)
	var stderr bytes.Buffer
	cfg := DefaultConfig()
	cfg.Stderr = &stderr
	cfg.UserAgent = "echoctl-test"
	e := newEngine(t, cfg)
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	h.SetVerbose(true)
	h.SetURL(url)
	if err := h.Perform(context.Background()); err != nil {
		t.Fatalf("get: %v", err)
	}
	out := stderr.String()
	for _, want := range []string{"* Connected to 127.0.0.1", "> GET / HTTP/1.1", "> User-Agent: echoctl-test", "< HTTP/1.1 200 OK"} {
		if !strings.Contains(out, want) {
			t.Fatalf("verbose output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSinkOverflowFails(t *testing.T) {
	testlog.Start(t)
	url := rawServer(t, func(conn net.Conn, r *bufio.Reader) {
		drainRequest(r)
		_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 12\r\n\r\nhello world!")
	})
	e := newEngine(t, DefaultConfig())
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	sink, err := membuf.NewWriter(5)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer sink.Close()

	err = post(t, h, url, "hello", sink)
	if code, _ := CodeOf(err); code != CodeWriteError {
		t.Fatalf("expected CodeWriteError, got %v", err)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected short write cause, got %v", errors.Unwrap(err))
	}
	if h.Connected() {
		t.Fatalf("connection must be dropped after a failed transfer")
	}
}

func TestResponseFraming(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name  string
		reply string
		want  string
		keep  bool
	}{
		{
			name:  "chunked",
			reply: "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n",
			want:  "hello world",
			keep:  true,
		},
		{
			name:  "close delimited",
			reply: "HTTP/1.1 200 OK\r\n\r\nuntil close",
			want:  "until close",
		},
		{
			name:  "connection close",
			reply: "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok",
			want:  "ok",
		},
		{
			name:  "interim continue",
			reply: "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\ndone",
			want:  "done",
			keep:  true,
		},
		{
			name:  "no content",
			reply: "HTTP/1.1 204 No Content\r\n\r\n",
			want:  "",
			keep:  true,
		},
		{
			name:  "http 1.0",
			reply: "HTTP/1.0 200 OK\r\nContent-Length: 3\r\n\r\nold",
			want:  "old",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := rawServer(t, func(conn net.Conn, r *bufio.Reader) {
				drainRequest(r)
				_, _ = io.WriteString(conn, tc.reply)
				if tc.keep {
					// hold the connection open until the client hangs up
					_, _ = io.Copy(io.Discard, r)
				}
			})
			e := newEngine(t, DefaultConfig())
			h, err := e.NewHandle()
			if err != nil {
				t.Fatalf("new handle: %v", err)
			}
			defer h.Cleanup()

			var sink bytes.Buffer
			if err := post(t, h, url, "ping", &sink); err != nil {
				t.Fatalf("post: %v", err)
			}
			if sink.String() != tc.want {
				t.Fatalf("unexpected body: got %q want %q", sink.String(), tc.want)
			}
			if h.Connected() != tc.keep {
				t.Fatalf("keep-alive mismatch: connected=%v want %v", h.Connected(), tc.keep)
			}
		})
	}
}

func TestTransferErrorCodes(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name  string
		reply func(conn net.Conn, r *bufio.Reader)
		code  Code
	}{
		{
			name: "got nothing",
			reply: func(conn net.Conn, r *bufio.Reader) {
				drainRequest(r)
			},
			code: CodeGotNothing,
		},
		{
			name: "weird reply",
			reply: func(conn net.Conn, r *bufio.Reader) {
				drainRequest(r)
				_, _ = io.WriteString(conn, "SSH-2.0-OpenSSH\r\n\r\n")
			},
			code: CodeWeirdServerReply,
		},
		{
			name: "partial body",
			reply: func(conn net.Conn, r *bufio.Reader) {
				drainRequest(r)
				_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc")
			},
			code: CodePartialFile,
		},
		{
			name: "truncated chunk",
			reply: func(conn net.Conn, r *bufio.Reader) {
				drainRequest(r)
				_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\na\r\nabc")
			},
			code: CodePartialFile,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := rawServer(t, tc.reply)
			e := newEngine(t, DefaultConfig())
			h, err := e.NewHandle()
			if err != nil {
				t.Fatalf("new handle: %v", err)
			}
			defer h.Cleanup()

			err = post(t, h, url, "ping", io.Discard)
			if code, _ := CodeOf(err); code != tc.code {
				t.Fatalf("expected %v, got %v (%v)", tc.code, code, errors.Unwrap(err))
			}
		})
	}
}

func TestURLErrors(t *testing.T) {
	testlog.Start(t)
	e := newEngine(t, DefaultConfig())
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	cases := map[string]Code{
		"":                    CodeURLMalformat,
		"ftp://127.0.0.1:21":  CodeUnsupportedProtocol,
		"tcp://:9000":         CodeURLMalformat,
		"http://[::1":         CodeURLMalformat,
		"gopher://example/1/": CodeUnsupportedProtocol,
	}
	for raw, want := range cases {
		h.Reset()
		h.SetURL(raw)
		h.SetConnectOnly(true)
		if code, _ := CodeOf(h.Perform(context.Background())); code != want {
			t.Fatalf("url %q: expected %v, got %v", raw, want, code)
		}
	}
}

func TestCouldntConnect(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	e := newEngine(t, DefaultConfig())
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	h.SetURL("tcp://" + addr)
	h.SetConnectOnly(true)
	err = h.Perform(context.Background())
	if code, _ := CodeOf(err); code != CodeCouldntConnect {
		t.Fatalf("expected CodeCouldntConnect, got %v", err)
	}
	if err.Error() != "Couldn't connect to server" {
		t.Fatalf("unexpected status text: %q", err.Error())
	}
}

func TestTransferTimeout(t *testing.T) {
	testlog.Start(t)
	url := rawServer(t, func(conn net.Conn, r *bufio.Reader) {
		_, _ = io.Copy(io.Discard, r)
	})
	cfg := DefaultConfig()
	cfg.TransferTimeout = 100 * time.Millisecond
	e := newEngine(t, cfg)
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	err = post(t, h, url, "ping", io.Discard)
	if code, _ := CodeOf(err); code != CodeOperationTimedout {
		t.Fatalf("expected CodeOperationTimedout, got %v", err)
	}
}

func TestContextCancelAborts(t *testing.T) {
	testlog.Start(t)
	url := rawServer(t, func(conn net.Conn, r *bufio.Reader) {
		_, _ = io.Copy(io.Discard, r)
	})
	e := newEngine(t, DefaultConfig())
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	h.SetURL(url)
	h.SetPost(true)
	h.SetReadData(strings.NewReader("ping"))
	err = h.Perform(ctx)
	if code, _ := CodeOf(err); code != CodeAbortedByCallback {
		t.Fatalf("expected CodeAbortedByCallback, got %v", err)
	}
}

func TestTLSPost(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "echoctl-test-ca")

	es := newEchoServer(t)
	es.srv.TLS = ca.ServerTLSConfig(t, []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	es.srv.StartTLS()
	t.Cleanup(es.srv.Close)
	url := "https://" + es.srv.Listener.Addr().String()

	cfg := DefaultConfig()
	cfg.TLS.CAFile = ca.CAFile()
	e := newEngine(t, cfg)
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	h.SetURL(url)
	h.SetConnectOnly(true)
	if err := h.Perform(context.Background()); err != nil {
		t.Fatalf("tls connect: %v", err)
	}
	var sink bytes.Buffer
	if err := post(t, h, url, "secret", &sink); err != nil {
		t.Fatalf("tls post: %v", err)
	}
	if sink.String() != "secret" {
		t.Fatalf("unexpected echo: %q", sink.String())
	}
	if es.conns.Load() != 1 {
		t.Fatalf("expected tls connection reuse, got %d conns", es.conns.Load())
	}

	untrusted := newEngine(t, DefaultConfig())
	h2, err := untrusted.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h2.Cleanup()
	h2.SetURL(url)
	h2.SetConnectOnly(true)
	if code, _ := CodeOf(h2.Perform(context.Background())); code != CodeSSLConnectError {
		t.Fatalf("expected CodeSSLConnectError without trusted ca, got %v", code)
	}
}

func TestEngineCleanupAbortsInFlightTransfer(t *testing.T) {
	testlog.Start(t)
	received := make(chan struct{})
	release := make(chan struct{})
	url := rawServer(t, func(conn net.Conn, r *bufio.Reader) {
		drainRequest(r)
		close(received)
		<-release
	})
	t.Cleanup(func() { close(release) })

	e := newEngine(t, DefaultConfig())
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		h.SetURL(url)
		h.SetPost(true)
		h.SetReadData(strings.NewReader("x"))
		h.SetWriteData(io.Discard)
		done <- h.Perform(context.Background())
	}()

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatalf("server never received the request")
	}
	e.Cleanup()

	select {
	case err := <-done:
		if code, _ := CodeOf(err); code != CodeAbortedByCallback {
			t.Fatalf("expected CodeAbortedByCallback, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cleanup did not interrupt the transfer")
	}
	if h.Connected() {
		t.Fatalf("handle kept its connection after engine cleanup")
	}
	if got := e.LiveHandles(); got != 0 {
		t.Fatalf("expected no live handles, got %d", got)
	}
	if code, _ := CodeOf(h.Perform(context.Background())); code != CodeBadFunctionArgument {
		t.Fatalf("expected closed handle to refuse Perform, got %v", code)
	}
	h.Cleanup()
}

func TestTLSHandshakeTracedAsSSLData(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "echoctl-test-ca")

	es := newEchoServer(t)
	es.srv.TLS = ca.ServerTLSConfig(t, []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	es.srv.StartTLS()
	t.Cleanup(es.srv.Close)
	url := "https://" + es.srv.Listener.Addr().String()

	cfg := DefaultConfig()
	cfg.TLS.CAFile = ca.CAFile()
	e := newEngine(t, cfg)
	h, err := e.NewHandle()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	defer h.Cleanup()

	seen := map[InfoType]int{}
	record := func(kind InfoType, _ []byte) { seen[kind]++ }

	h.SetURL(url)
	h.SetConnectOnly(true)
	h.SetVerbose(true)
	h.SetDebugFunc(record)
	if err := h.Perform(context.Background()); err != nil {
		t.Fatalf("tls connect: %v", err)
	}
	if seen[InfoSSLDataOut] == 0 || seen[InfoSSLDataIn] == 0 {
		t.Fatalf("expected handshake records traced, got %v", seen)
	}

	clear(seen)
	h.Reset()
	h.SetURL(url)
	h.SetPost(true)
	l := NewHeaderList()
	defer l.Free()
	if err := l.Append("Content-Length: 6"); err != nil {
		t.Fatalf("append header: %v", err)
	}
	l.Apply(h)
	h.SetReadData(strings.NewReader("secret"))
	h.SetWriteData(io.Discard)
	h.SetVerbose(true)
	h.SetDebugFunc(record)
	if err := h.Perform(context.Background()); err != nil {
		t.Fatalf("tls post: %v", err)
	}
	if seen[InfoSSLDataOut] != 0 || seen[InfoSSLDataIn] != 0 {
		t.Fatalf("application data must not be traced as ssl data: %v", seen)
	}
	if seen[InfoDataOut] == 0 || seen[InfoDataIn] == 0 {
		t.Fatalf("expected plain data events, got %v", seen)
	}
}
