package transfer

import (
	"errors"
	"fmt"
	"strings"
)

// MaxHeaderListBytes bounds the total size of one HeaderList.
const MaxHeaderListBytes = 16 * 1024

var (
	ErrHeaderAlloc   = errors.New("transfer: failed to append to header list")
	ErrInvalidHeader = errors.New("transfer: invalid header line")
)

// HeaderList is an append-only list of raw request header lines. A list is
// owned by whoever created it and is released as a whole with Free.
type HeaderList struct {
	lines []string
	size  int
}

func NewHeaderList() *HeaderList {
	return &HeaderList{}
}

// Append adds one "Name: value" line. A failed append leaves earlier
// entries untouched.
func (l *HeaderList) Append(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("%w: %q contains line breaks", ErrInvalidHeader, line)
	}
	name, _, ok := strings.Cut(line, ":")
	if !ok || strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: %q", ErrInvalidHeader, line)
	}
	if l.size+len(line) > MaxHeaderListBytes {
		return fmt.Errorf("%w: list would exceed %d bytes", ErrHeaderAlloc, MaxHeaderListBytes)
	}
	l.lines = append(l.lines, line)
	l.size += len(line)
	return nil
}

func (l *HeaderList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.lines)
}

// Lines returns a copy of the entries in insertion order.
func (l *HeaderList) Lines() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Apply installs the list as the header set of h. An empty list installs no
// list at all.
func (l *HeaderList) Apply(h *Handle) {
	if l.Len() == 0 {
		h.SetHTTPHeader(nil)
		return
	}
	h.SetHTTPHeader(l)
}

// Free releases every entry at once.
func (l *HeaderList) Free() {
	if l == nil {
		return
	}
	l.lines = nil
	l.size = 0
}
