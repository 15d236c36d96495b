package debug

import (
	"fmt"
	"io"
	"runtime"

	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

var ngSectionInfo = pcapgo.NgSectionInfo{
	Application: "go.step.sm/tpmobject",
	Hardware:    runtime.GOARCH,
	OS:          runtime.GOOS,
}

var ngInterface = pcapgo.NgInterface{
	Name:                "tpm",
	Description:         "TPM Command Channel",
	OS:                  runtime.GOOS,
	LinkType:            layers.LinkTypeEthernet,
	SnapLength:          0, // unlimited
	TimestampResolution: 9,
}

// NewPcapngTap creates a new TPM tap that writes the outgoing and incoming
// TPM communication to w in PcapNG format. The returned [FlushFunc] must be
// called before w is closed.
func NewPcapngTap(w io.Writer) (Tap, FlushFunc, error) {
	pw, err := pcapgo.NewNgWriterInterface(w, ngInterface, pcapgo.NgWriterOptions{
		SectionInfo: ngSectionInfo,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed creating PcapNG writer: %w", err)
	}
	flush := func() error {
		if err := pw.Flush(); err != nil {
			return fmt.Errorf("failed to flush PcapNG writer: %w", err)
		}
		return nil
	}
	return newStreamTap(pw), flush, nil
}
