package transfer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
)

// Code is the outcome of one Perform call.
type Code int

const (
	CodeOK Code = iota
	CodeUnsupportedProtocol
	CodeURLMalformat
	CodeCouldntResolveHost
	CodeCouldntConnect
	CodeWeirdServerReply
	CodePartialFile
	CodeWriteError
	CodeReadError
	CodeOperationTimedout
	CodeBadFunctionArgument
	CodeAbortedByCallback
	CodeGotNothing
	CodeSSLConnectError
	CodeSendError
	CodeRecvError
)

var codeText = map[Code]string{
	CodeOK:                  "No error",
	CodeUnsupportedProtocol: "Unsupported protocol",
	CodeURLMalformat:        "URL using bad/illegal format or missing URL",
	CodeCouldntResolveHost:  "Couldn't resolve host name",
	CodeCouldntConnect:      "Couldn't connect to server",
	CodeWeirdServerReply:    "Weird server reply",
	CodePartialFile:         "Transferred a partial file",
	CodeWriteError:          "Failed writing received data to disk/application",
	CodeReadError:           "Failed to open/read local data from file/application",
	CodeOperationTimedout:   "Timeout was reached",
	CodeBadFunctionArgument: "A transfer function was given a bad argument",
	CodeAbortedByCallback:   "Operation was aborted by an application callback",
	CodeGotNothing:          "Server returned nothing (no headers, no data)",
	CodeSSLConnectError:     "SSL connect error",
	CodeSendError:           "Failed sending data to the peer",
	CodeRecvError:           "Failure when receiving data from the peer",
}

// String returns the human-readable status text for c.
func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown error (%d)", int(c))
}

// Error is a failed transfer. Its message is the status text of Code; the
// underlying cause is available through errors.Unwrap.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	return e.Code.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the transfer code from err, CodeOK for nil.
func CodeOf(err error) (Code, bool) {
	if err == nil {
		return CodeOK, true
	}
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Code, true
	}
	return CodeOK, false
}

// classify maps a failure from one transfer phase to a Code. fallback is the
// code used when nothing more specific applies.
func classify(ctx context.Context, err error, fallback Code) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return newError(CodeOperationTimedout, ctxErr)
		}
		return newError(CodeAbortedByCallback, ctxErr)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return newError(CodeCouldntResolveHost, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(CodeOperationTimedout, err)
	}
	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) {
		return newError(CodeSSLConnectError, err)
	}
	return newError(fallback, err)
}
