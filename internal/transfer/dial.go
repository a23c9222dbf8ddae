package transfer

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
)

type target struct {
	raw        string
	scheme     string
	host       string
	port       string
	useTLS     bool
	hostHeader string
	requestURI string
}

func (t target) addr() string {
	return net.JoinHostPort(t.host, t.port)
}

func (t target) key() string {
	return t.scheme + "://" + t.addr()
}

// parseTarget accepts tcp:// and http:// (plain) and https:// and tls://
// (TLS) URLs. A URL without a scheme is treated as http.
func parseTarget(raw string) (target, *Error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return target{}, newError(CodeURLMalformat, fmt.Errorf("empty url"))
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, newError(CodeURLMalformat, err)
	}

	t := target{raw: raw, scheme: strings.ToLower(u.Scheme)}
	switch t.scheme {
	case "tcp", "http":
		t.port = "80"
	case "https", "tls":
		t.port = "443"
		t.useTLS = true
	default:
		return target{}, newError(CodeUnsupportedProtocol, fmt.Errorf("scheme %q", u.Scheme))
	}
	t.host = u.Hostname()
	if t.host == "" {
		return target{}, newError(CodeURLMalformat, fmt.Errorf("missing host in %q", raw))
	}
	if p := u.Port(); p != "" {
		t.port = p
	}
	t.hostHeader = u.Host
	t.requestURI = u.RequestURI()
	return t, nil
}

// ensureConn reuses the live connection when it already points at t and
// dials a new one otherwise.
func (h *Handle) ensureConn(ctx context.Context, t target) *Error {
	if h.conn != nil && h.connKey == t.key() {
		h.infof("Re-using existing connection to %s", t.addr())
		return nil
	}
	h.dropConn()

	h.infof("Trying %s...", t.addr())
	conn, err := h.dial(ctx, t)
	if err != nil {
		return err
	}
	h.conn = conn
	h.br = bufio.NewReader(conn)
	h.connKey = t.key()
	h.infof("Connected to %s (%s) port %s", t.host, conn.RemoteAddr(), t.port)
	return nil
}

func (h *Handle) dial(ctx context.Context, t target) (net.Conn, *Error) {
	cfg := h.engine.cfg
	dialCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	rawConn, err := dialer.DialContext(dialCtx, "tcp", t.addr())
	if err != nil {
		return nil, classify(dialCtx, err, CodeCouldntConnect)
	}
	if !t.useTLS {
		return rawConn, nil
	}

	traced := &sslTraceConn{Conn: rawConn, h: h, active: true}
	conn := tls.Client(traced, h.clientTLSConfig(t))
	err = conn.HandshakeContext(dialCtx)
	traced.active = false
	if err != nil {
		_ = rawConn.Close()
		terr := classify(dialCtx, err, CodeSSLConnectError)
		if terr.Code == CodeOperationTimedout || terr.Code == CodeAbortedByCallback {
			return nil, terr
		}
		return nil, newError(CodeSSLConnectError, err)
	}
	state := conn.ConnectionState()
	h.infof("SSL connection using %s / %s", tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
	return conn, nil
}

func (h *Handle) clientTLSConfig(t target) *tls.Config {
	cfg := h.engine.cfg
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		RootCAs:            h.engine.rootCAs,
		ServerName:         t.host,
	}
	if cfg.TLS.ServerName != "" {
		tlsCfg.ServerName = cfg.TLS.ServerName
	}
	return tlsCfg
}

// sslTraceConn reports raw TLS records as SSL data while active. It is
// switched off once the handshake ends; application data is traced in
// plain form by the exchange.
type sslTraceConn struct {
	net.Conn
	h      *Handle
	active bool
}

func (c *sslTraceConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if c.active && n > 0 {
		c.h.debug(InfoSSLDataIn, p[:n])
	}
	return n, err
}

func (c *sslTraceConn) Write(p []byte) (int, error) {
	if c.active {
		c.h.debug(InfoSSLDataOut, p)
	}
	return c.Conn.Write(p)
}
