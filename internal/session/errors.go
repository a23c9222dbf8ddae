package session

import (
	"errors"
	"fmt"
)

// Failure classes. Every error returned by this package wraps exactly one.
var (
	ErrAllocation = errors.New("session: allocation failed")
	ErrUsage      = errors.New("session: usage error")
	ErrTransport  = errors.New("session: transport failed")
	ErrEngine     = errors.New("session: engine failed")
)

var (
	ErrAlreadyConnected = fmt.Errorf("%w: already connected", ErrUsage)
	ErrNotConnected     = fmt.Errorf("%w: not connected yet", ErrUsage)
	ErrClosed           = fmt.Errorf("%w: session closed", ErrUsage)
)
