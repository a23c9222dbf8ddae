// Package tracedump renders transfer traffic as offset-addressed hex and
// ASCII dumps.
package tracedump

import (
	"bufio"
	"fmt"
	"io"

	"github.com/danmuck/echoctl/internal/transfer"
)

const width = 0x10

var labels = map[transfer.InfoType]string{
	transfer.InfoHeaderOut:  "=> Send header",
	transfer.InfoDataOut:    "=> Send data",
	transfer.InfoSSLDataOut: "=> Send SSL data",
	transfer.InfoHeaderIn:   "<= Recv header",
	transfer.InfoDataIn:     "<= Recv data",
	transfer.InfoSSLDataIn:  "<= Recv SSL data",
}

// Dump writes label and a 16-bytes-per-row dump of data to w.
func Dump(w io.Writer, label string, data []byte) error {
	bw := bufio.NewWriter(w)
	size := len(data)
	fmt.Fprintf(bw, "%s, %10.10d bytes (0x%8.8x)\n", label, size, size)

	for i := 0; i < size; i += width {
		fmt.Fprintf(bw, "%4.4x: ", i)

		for c := 0; c < width; c++ {
			if i+c < size {
				fmt.Fprintf(bw, "%02x ", data[i+c])
			} else {
				bw.WriteString("   ")
			}
		}

		for c := 0; c < width && i+c < size; c++ {
			b := data[i+c]
			if b < 0x20 || b >= 0x80 {
				b = '.'
			}
			bw.WriteByte(b)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Func returns a debug callback that prints info text verbatim and dumps
// every header and data chunk to w.
func Func(w io.Writer) transfer.DebugFunc {
	return func(kind transfer.InfoType, data []byte) {
		if kind == transfer.InfoText {
			fmt.Fprintf(w, "== Info: %s", data)
			return
		}
		label, ok := labels[kind]
		if !ok {
			return
		}
		_ = Dump(w, label, data)
	}
}
