package transfer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
)

const bodyChunkSize = 16 * 1024

// response is the framing data the engine needs to delimit a reply body.
type response struct {
	proto  string
	status int
	header textproto.MIMEHeader
}

// exchange writes one request on the live connection and copies the reply
// body into the write sink.
func (h *Handle) exchange(ctx context.Context, t target) *Error {
	if err := h.writeRequest(ctx, t); err != nil {
		return err
	}
	resp, err := h.readResponseHead(ctx)
	if err != nil {
		return err
	}
	keepAlive, err := h.readBody(ctx, resp)
	if err != nil {
		return err
	}
	if !keepAlive {
		h.dropConn()
	}
	return nil
}

func (h *Handle) writeRequest(ctx context.Context, t target) *Error {
	method := "GET"
	if h.opts.post {
		method = "POST"
	}

	user := h.opts.headers.Lines()
	userNames := make(map[string]bool, len(user))
	contentLength := int64(-1)
	chunked := false
	for _, line := range user {
		name, value, _ := strings.Cut(line, ":")
		name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		userNames[name] = true
		switch name {
		case "Content-Length":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return newError(CodeBadFunctionArgument, fmt.Errorf("bad content-length %q", value))
			}
			contentLength = n
		case "Transfer-Encoding":
			chunked = strings.EqualFold(value, "chunked")
		}
	}
	if h.opts.post && contentLength < 0 && !userNames["Transfer-Encoding"] {
		chunked = true
	}

	var head bytes.Buffer
	fmt.Fprintf(&head, "%s %s HTTP/1.1\r\n", method, t.requestURI)
	if !userNames["Host"] {
		fmt.Fprintf(&head, "Host: %s\r\n", t.hostHeader)
	}
	if ua := h.engine.cfg.UserAgent; ua != "" && !userNames["User-Agent"] {
		fmt.Fprintf(&head, "User-Agent: %s\r\n", ua)
	}
	if !userNames["Accept"] {
		head.WriteString("Accept: */*\r\n")
	}
	for _, line := range user {
		// "Name:" with no value removes a default header without sending one.
		if _, value, _ := strings.Cut(line, ":"); strings.TrimSpace(value) == "" {
			continue
		}
		head.WriteString(line)
		head.WriteString("\r\n")
	}
	if h.opts.post && chunked && !userNames["Transfer-Encoding"] {
		head.WriteString("Transfer-Encoding: chunked\r\n")
	}
	head.WriteString("\r\n")

	w := bufio.NewWriter(h.conn)
	h.debug(InfoHeaderOut, head.Bytes())
	if _, err := w.Write(head.Bytes()); err != nil {
		return classify(ctx, err, CodeSendError)
	}

	if h.opts.post {
		if err := h.writeBody(ctx, w, contentLength, chunked); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return classify(ctx, err, CodeSendError)
	}
	return nil
}

func (h *Handle) writeBody(ctx context.Context, w *bufio.Writer, contentLength int64, chunked bool) *Error {
	src := &sourceReader{r: h.opts.readData}
	if src.r == nil {
		src.r = bytes.NewReader(nil)
	}
	traced := &tracingWriter{h: h, kind: InfoDataOut}

	if chunked {
		cw := httputil.NewChunkedWriter(w)
		traced.w = cw
		if _, err := io.Copy(traced, src); err != nil {
			return h.bodyWriteError(ctx, src, err)
		}
		if err := cw.Close(); err != nil {
			return classify(ctx, err, CodeSendError)
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			return classify(ctx, err, CodeSendError)
		}
		return nil
	}

	traced.w = w
	n, err := io.CopyN(traced, src, contentLength)
	if err != nil {
		if errors.Is(err, io.EOF) && src.err == nil {
			return newError(CodeReadError, fmt.Errorf("body source ended after %d of %d bytes", n, contentLength))
		}
		return h.bodyWriteError(ctx, src, err)
	}
	return nil
}

func (h *Handle) bodyWriteError(ctx context.Context, src *sourceReader, err error) *Error {
	if src.err != nil {
		return newError(CodeReadError, src.err)
	}
	return classify(ctx, err, CodeSendError)
}

func (h *Handle) readResponseHead(ctx context.Context) (response, *Error) {
	tp := textproto.NewReader(h.br)
	for {
		statusLine, err := tp.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return response{}, newError(CodeGotNothing, err)
			}
			return response{}, classify(ctx, err, CodeRecvError)
		}
		h.debug(InfoHeaderIn, []byte(statusLine+"\r\n"))

		resp, perr := parseStatusLine(statusLine)
		if perr != nil {
			return response{}, newError(CodeWeirdServerReply, perr)
		}
		resp.header = make(textproto.MIMEHeader)
		for {
			line, err := tp.ReadLine()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return response{}, classify(ctx, err, CodeRecvError)
			}
			h.debug(InfoHeaderIn, []byte(line+"\r\n"))
			if line == "" {
				break
			}
			name, value, ok := strings.Cut(line, ":")
			if !ok {
				return response{}, newError(CodeWeirdServerReply, fmt.Errorf("malformed header line %q", line))
			}
			resp.header.Add(textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name)), strings.TrimSpace(value))
		}

		// Interim 1xx replies carry no body; the final status follows.
		if resp.status >= 100 && resp.status < 200 && resp.status != 101 {
			continue
		}
		return resp, nil
	}
}

func parseStatusLine(line string) (response, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return response{}, fmt.Errorf("malformed status line %q", line)
	}
	code, _, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 {
		return response{}, fmt.Errorf("malformed status code in %q", line)
	}
	return response{proto: proto, status: status}, nil
}

// readBody copies the reply body to the write sink and reports whether the
// connection may carry another request.
func (h *Handle) readBody(ctx context.Context, resp response) (bool, *Error) {
	keepAlive := resp.proto == "HTTP/1.1"
	conn := strings.ToLower(resp.header.Get("Connection"))
	switch {
	case strings.Contains(conn, "close"):
		keepAlive = false
	case strings.Contains(conn, "keep-alive"):
		keepAlive = true
	}

	var body io.Reader
	expected := int64(-1)
	chunked := false
	switch {
	case resp.status == 204 || resp.status == 304:
		return keepAlive, nil
	case strings.EqualFold(resp.header.Get("Transfer-Encoding"), "chunked"):
		body = httputil.NewChunkedReader(h.br)
		chunked = true
	case resp.header.Get("Content-Length") != "":
		n, err := strconv.ParseInt(resp.header.Get("Content-Length"), 10, 64)
		if err != nil || n < 0 {
			return false, newError(CodeWeirdServerReply, fmt.Errorf("bad content-length %q", resp.header.Get("Content-Length")))
		}
		expected = n
		body = io.LimitReader(h.br, n)
	default:
		// Close-delimited body.
		body = h.br
		keepAlive = false
	}

	sink := h.opts.writeData
	if sink == nil {
		sink = io.Discard
	}
	buf := make([]byte, bodyChunkSize)
	var received int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			received += int64(n)
			h.debug(InfoDataIn, buf[:n])
			written, werr := sink.Write(buf[:n])
			if werr == nil && written < n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return false, newError(CodeWriteError, werr)
			}
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if errors.Is(rerr, io.ErrUnexpectedEOF) {
			return false, newError(CodePartialFile, rerr)
		}
		return false, classify(ctx, rerr, CodeRecvError)
	}
	if expected >= 0 && received < expected {
		return false, newError(CodePartialFile, fmt.Errorf("received %d of %d bytes", received, expected))
	}
	if chunked {
		if err := h.skipTrailer(ctx); err != nil {
			return false, err
		}
	}
	return keepAlive, nil
}

// skipTrailer consumes the trailer section that ends a chunked body so the
// next response on the connection starts at its status line.
func (h *Handle) skipTrailer(ctx context.Context) *Error {
	tp := textproto.NewReader(h.br)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return newError(CodePartialFile, io.ErrUnexpectedEOF)
			}
			return classify(ctx, err, CodeRecvError)
		}
		h.debug(InfoHeaderIn, []byte(line+"\r\n"))
		if line == "" {
			return nil
		}
	}
}

// sourceReader remembers read failures of the body source so they are not
// mistaken for send failures.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}

type tracingWriter struct {
	h    *Handle
	kind InfoType
	w    io.Writer
}

func (t *tracingWriter) Write(p []byte) (int, error) {
	t.h.debug(t.kind, p)
	return t.w.Write(p)
}
