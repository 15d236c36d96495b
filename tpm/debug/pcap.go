package debug

import (
	"fmt"
	"io"

	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

const snapLen = uint32(65536)

// NewPcapTap creates a new TPM tap that writes the outgoing and incoming TPM
// communication to w in pcap format. The file header is written
// immediately.
func NewPcapTap(w io.Writer) (Tap, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed writing pcap header: %w", err)
	}
	return newStreamTap(pw), nil
}
