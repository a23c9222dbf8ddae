package transfer

import (
	"bytes"
	"fmt"
)

// InfoType tags the data handed to a DebugFunc.
type InfoType int

const (
	InfoText InfoType = iota
	InfoHeaderIn
	InfoHeaderOut
	InfoDataIn
	InfoDataOut
	InfoSSLDataIn
	InfoSSLDataOut
)

func (t InfoType) String() string {
	switch t {
	case InfoText:
		return "text"
	case InfoHeaderIn:
		return "header_in"
	case InfoHeaderOut:
		return "header_out"
	case InfoDataIn:
		return "data_in"
	case InfoDataOut:
		return "data_out"
	case InfoSSLDataIn:
		return "ssl_data_in"
	case InfoSSLDataOut:
		return "ssl_data_out"
	default:
		return fmt.Sprintf("info(%d)", int(t))
	}
}

// DebugFunc observes traffic of a verbose transfer. data is only valid for
// the duration of the call.
type DebugFunc func(kind InfoType, data []byte)

// debug routes one trace event. Nothing is emitted unless verbose is on; the
// callback replaces the default stderr rendering when installed.
func (h *Handle) debug(kind InfoType, data []byte) {
	if !h.opts.verbose || len(data) == 0 {
		return
	}
	if h.opts.debug != nil {
		h.opts.debug(kind, data)
		return
	}
	w := h.engine.cfg.Stderr
	switch kind {
	case InfoText:
		fmt.Fprintf(w, "* %s", data)
	case InfoHeaderOut, InfoHeaderIn:
		prefix := "> "
		if kind == InfoHeaderIn {
			prefix = "< "
		}
		for _, line := range bytes.Split(bytes.TrimRight(data, "\r\n"), []byte("\r\n")) {
			fmt.Fprintf(w, "%s%s\n", prefix, line)
		}
	}
}

func (h *Handle) infof(format string, args ...any) {
	if !h.opts.verbose {
		return
	}
	h.debug(InfoText, []byte(fmt.Sprintf(format, args...)+"\n"))
}
