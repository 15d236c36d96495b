package debug

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Commands are captured as a TCP stream between a client and the mssim
// command port.
const (
	clientPort = layers.TCPPort(50001)
	serverPort = layers.TCPPort(2321)
)

var ethernetLayer = &layers.Ethernet{
	SrcMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	DstMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	EthernetType: layers.EthernetTypeIPv4,
}

var ipLayer = &layers.IPv4{
	Version:  4,
	TTL:      64,
	Flags:    layers.IPv4DontFragment,
	Protocol: layers.IPProtocolTCP,
	SrcIP:    net.IP{127, 0, 0, 1},
	DstIP:    net.IP{127, 0, 0, 1},
}

var serializeOptions = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// stream keeps the TCP sequence numbers of both directions. It is shared by
// the Rx and Tx writers of a tap.
type stream struct {
	mu     sync.Mutex
	w      packetWriter
	inSeq  uint32
	outSeq uint32
}

type streamTap struct {
	in, out *streamWriter
}

func newStreamTap(w packetWriter) *streamTap {
	s := &stream{w: w}
	return &streamTap{
		in:  &streamWriter{s: s, in: true},
		out: &streamWriter{s: s},
	}
}

func (t *streamTap) Rx() io.Writer {
	return t.in
}

func (t *streamTap) Tx() io.Writer {
	return t.out
}

type streamWriter struct {
	s  *stream
	in bool
}

func (w *streamWriter) Write(data []byte) (int, error) {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(data, w.in); err != nil {
		return 0, err
	}

	if w.in {
		s.inSeq += uint32(len(data))
	} else {
		s.outSeq += uint32(len(data))
	}

	return len(data), nil
}

func (s *stream) write(data []byte, in bool) error {
	tcpLayer := &layers.TCP{Window: 16}
	if in {
		tcpLayer.SrcPort = serverPort
		tcpLayer.DstPort = clientPort
		tcpLayer.ACK = true
		tcpLayer.Seq = s.inSeq
		tcpLayer.Ack = s.outSeq
		tcpLayer.PSH = true
	} else {
		tcpLayer.SrcPort = clientPort
		tcpLayer.DstPort = serverPort
		tcpLayer.Seq = s.outSeq
	}

	if err := tcpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
		return fmt.Errorf("failed setting network layer: %w", err)
	}
	buffer := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buffer, serializeOptions,
		ethernetLayer,
		ipLayer,
		tcpLayer,
		gopacket.Payload(data),
	); err != nil {
		return fmt.Errorf("failed serializing layers: %w", err)
	}

	packet := buffer.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(packet),
		Length:        len(packet),
	}
	if err := s.w.WritePacket(ci, packet); err != nil {
		return fmt.Errorf("failed writing packet data: %w", err)
	}

	return nil
}
