// Package debug provides taps that record the raw TPM commands and responses
// exchanged with a device.
package debug

import (
	"fmt"
	"io"
	"strings"
)

// Tap is an interface providing TPM communication tapping
// capabilities. [Tx] and [Rx] provide access to [io.Writer]s
// that correspond to all (serialized) transmitted and received
// TPM commands and responses, respectively.
type Tap interface {
	Tx() io.Writer
	Rx() io.Writer
}

// FlushFunc is the type of function returned when creating a tap that
// buffers its output. It must be called before the underlying [io.Writer]
// is closed.
type FlushFunc func() error

// Format is the output format of a tap.
type Format string

const (
	// FormatText writes one hex encoded line per command or response.
	FormatText Format = "text"
	// FormatBinary writes the raw commands and responses.
	FormatBinary Format = "bin"
	// FormatPcap writes commands and responses as TCP packets in a pcap
	// file.
	FormatPcap Format = "pcap"
	// FormatPcapng writes commands and responses as TCP packets in a PcapNG
	// file.
	FormatPcapng Format = "pcapng"
)

// New returns a tap writing to w in the given format. The returned
// [FlushFunc] is never nil.
func New(format Format, w io.Writer) (Tap, FlushFunc, error) {
	noop := func() error { return nil }
	switch Format(strings.ToLower(string(format))) {
	case FormatText, "":
		return NewTextTap(w, w), noop, nil
	case FormatBinary:
		return NewBinTap(w), noop, nil
	case FormatPcap:
		t, err := NewPcapTap(w)
		if err != nil {
			return nil, nil, err
		}
		return t, noop, nil
	case FormatPcapng:
		return NewPcapngTap(w)
	default:
		return nil, nil, fmt.Errorf("unsupported tap format %q", format)
	}
}
