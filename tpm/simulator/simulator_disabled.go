//go:build !tpmsimulator

package simulator

import (
	"context"
	"errors"
	"io"
)

// ErrUnavailable is returned by Open when the binary was built without the
// tpmsimulator tag.
var ErrUnavailable = errors.New("no simulator available")

type Simulator struct {
	seed *int64
}

func New(opts ...Option) *Simulator {
	s := &Simulator{}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

func (s *Simulator) Open(context.Context) error {
	return ErrUnavailable
}

func (s *Simulator) Close() error {
	return nil
}

func (s *Simulator) Read([]byte) (int, error) {
	return 0, ErrUnavailable
}

func (s *Simulator) Write([]byte) (int, error) {
	return 0, ErrUnavailable
}

var _ io.ReadWriteCloser = (*Simulator)(nil)
