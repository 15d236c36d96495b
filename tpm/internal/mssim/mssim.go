// Package mssim implements a connection to the Microsoft TPM 2.0 reference
// simulator (and swtpm in --tcp mode) over its TCP command and platform
// ports.
package mssim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"go.step.sm/tpmobject/uri"
)

// Simulator commands. See the TPM 2.0 reference implementation,
// TpmTcpProtocol.h.
const (
	signalPowerOn uint32 = 1
	signalNVOn    uint32 = 11
	sendCommand   uint32 = 8
	sessionEnd    uint32 = 20
)

const (
	// DefaultHost is used when the URI has no host.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the command port used when the URI has no port. The
	// platform port is the next one.
	DefaultPort = 2321
)

var errResponsePending = errors.New("response of the previous command has not been read")

type config struct {
	commandAddress  string
	platformAddress string

	// powerOn sends TPM_SIGNAL_POWER_ON and TPM_SIGNAL_NV_ON on the
	// platform port before the first command.
	powerOn  bool
	locality uint8
}

// New opens a connection to the simulator described by u, e.g.
// "mssim:host=127.0.0.1;port=2321;platform=true". Setting platform=true
// powers the simulator on, otherwise that is assumed to happen out of band.
func New(u *uri.URI) (io.ReadWriteCloser, error) {
	host := DefaultHost
	port := DefaultPort
	if h := u.Get("host"); h != "" {
		host = h
	}
	if p := u.Get("port"); p != "" {
		var err error
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("failed parsing %q as integer: %w", p, err)
		}
	}
	if port <= 0 || port >= 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	c := config{
		commandAddress:  net.JoinHostPort(host, strconv.Itoa(port)),
		platformAddress: net.JoinHostPort(host, strconv.Itoa(port+1)),
		powerOn:         u.GetBool("platform"),
	}

	rwc, err := open(c)
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to TPM: %w", err)
	}
	return rwc, nil
}

// conn sends a command on every Write and buffers its response until it
// is consumed by Read.
type conn struct {
	mu       sync.Mutex
	cmd      net.Conn
	locality uint8
	rsp      bytes.Buffer
}

func open(c config) (*conn, error) {
	if c.powerOn {
		if err := powerOn(c.platformAddress); err != nil {
			return nil, err
		}
	}

	cmd, err := net.Dial("tcp", c.commandAddress)
	if err != nil {
		return nil, err
	}
	return &conn{cmd: cmd, locality: c.locality}, nil
}

func powerOn(address string) error {
	p, err := net.Dial("tcp", address)
	if err != nil {
		return err
	}
	defer p.Close()

	for _, signal := range []uint32{signalPowerOn, signalNVOn} {
		if err := binary.Write(p, binary.BigEndian, signal); err != nil {
			return fmt.Errorf("failed sending platform command %d: %w", signal, err)
		}
		if err := readAck(p); err != nil {
			return fmt.Errorf("failed sending platform command %d: %w", signal, err)
		}
	}

	return binary.Write(p, binary.BigEndian, sessionEnd)
}

func readAck(r io.Reader) error {
	var rc uint32
	if err := binary.Read(r, binary.BigEndian, &rc); err != nil {
		return err
	}
	if rc != 0 {
		return fmt.Errorf("simulator returned error 0x%x", rc)
	}
	return nil
}

// Write sends a TPM command and reads its response.
func (c *conn) Write(cmd []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rsp.Len() > 0 {
		return 0, errResponsePending
	}

	var b bytes.Buffer
	_ = binary.Write(&b, binary.BigEndian, sendCommand)
	b.WriteByte(c.locality)
	_ = binary.Write(&b, binary.BigEndian, uint32(len(cmd)))
	b.Write(cmd)
	if _, err := c.cmd.Write(b.Bytes()); err != nil {
		return 0, err
	}

	var size uint32
	if err := binary.Read(c.cmd, binary.BigEndian, &size); err != nil {
		return 0, fmt.Errorf("failed reading response size: %w", err)
	}
	if _, err := io.CopyN(&c.rsp, c.cmd, int64(size)); err != nil {
		c.rsp.Reset()
		return 0, fmt.Errorf("failed reading response: %w", err)
	}
	if err := readAck(c.cmd); err != nil {
		c.rsp.Reset()
		return 0, err
	}

	return len(cmd), nil
}

// Read returns the response of the last command.
func (c *conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rsp.Read(p)
}

// Close ends the session and closes the command connection.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := binary.Write(c.cmd, binary.BigEndian, sessionEnd)
	return errors.Join(err, c.cmd.Close())
}
