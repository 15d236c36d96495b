// Package interceptor copies the traffic of a TPM connection to a
// [debug.Tap].
package interceptor

import (
	"io"

	"github.com/google/go-tpm/tpm2/transport"

	"go.step.sm/tpmobject/tpm/debug"
)

// RWC wraps an [io.ReadWriteCloser] connected to a TPM. Commands written to
// it are copied to the Tx writer of the tap and responses read from it are
// copied to the Rx writer. Tap errors are ignored.
type RWC struct {
	rx, tx  io.Writer
	wrapped io.ReadWriteCloser
}

// FromTap returns an interceptor for rwc. It returns rwc if tap is nil.
func FromTap(tap debug.Tap, rwc io.ReadWriteCloser) io.ReadWriteCloser {
	if tap == nil {
		return rwc
	}
	return &RWC{
		rx:      tap.Rx(),
		tx:      tap.Tx(),
		wrapped: rwc,
	}
}

// Unwrap returns the intercepted [io.ReadWriteCloser].
func (c *RWC) Unwrap() io.ReadWriteCloser {
	return c.wrapped
}

func (c *RWC) Read(data []byte) (int, error) {
	n, err := c.wrapped.Read(data)
	if n > 0 {
		_, _ = c.rx.Write(data[:n])
	}
	return n, err
}

func (c *RWC) Write(data []byte) (int, error) {
	n, err := c.wrapped.Write(data)
	if n > 0 {
		_, _ = c.tx.Write(data[:n])
	}
	return n, err
}

func (c *RWC) Close() error {
	return c.wrapped.Close()
}

// Transport wraps a [transport.TPM]. Each command and its response are
// copied to the tap.
type Transport struct {
	rx, tx  io.Writer
	wrapped transport.TPM
}

// FromTapTransport returns an interceptor for t. It returns t if tap is nil.
func FromTapTransport(tap debug.Tap, t transport.TPM) transport.TPM {
	if tap == nil {
		return t
	}
	return &Transport{
		rx:      tap.Rx(),
		tx:      tap.Tx(),
		wrapped: t,
	}
}

// Send implements [transport.TPM].
func (t *Transport) Send(input []byte) ([]byte, error) {
	_, _ = t.tx.Write(input)
	output, err := t.wrapped.Send(input)
	if len(output) > 0 {
		_, _ = t.rx.Write(output)
	}
	return output, err
}

var (
	_ io.ReadWriteCloser = (*RWC)(nil)
	_ transport.TPM      = (*Transport)(nil)
)
