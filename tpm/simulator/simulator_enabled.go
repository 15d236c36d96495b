//go:build tpmsimulator

package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"

	gotpm "github.com/google/go-tpm-tools/simulator"
)

// ErrUnavailable is never returned when the simulator is compiled in.
var ErrUnavailable = errors.New("no simulator available")

type Simulator struct {
	seed    *int64
	wrapped *gotpm.Simulator
}

func New(opts ...Option) *Simulator {
	s := &Simulator{}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Open starts the simulator. It is a no-op if the simulator is running.
func (s *Simulator) Open(context.Context) error {
	if s.wrapped != nil && !s.wrapped.IsClosed() {
		return nil
	}

	var (
		sim *gotpm.Simulator
		err error
	)
	if s.seed != nil {
		sim, err = gotpm.GetWithFixedSeedInsecure(*s.seed)
	} else {
		sim, err = gotpm.Get()
	}
	if err != nil {
		return fmt.Errorf("failed starting TPM simulator: %w", err)
	}

	s.wrapped = sim
	return nil
}

func (s *Simulator) Close() error {
	if s.wrapped == nil || s.wrapped.IsClosed() {
		return nil
	}

	if err := s.wrapped.Close(); err != nil {
		return fmt.Errorf("failed closing TPM simulator: %w", err)
	}

	s.wrapped = nil
	return nil
}

func (s *Simulator) Read(p []byte) (int, error) {
	if s.wrapped == nil {
		return 0, io.ErrClosedPipe
	}
	return s.wrapped.Read(p)
}

func (s *Simulator) Write(p []byte) (int, error) {
	if s.wrapped == nil {
		return 0, io.ErrClosedPipe
	}
	return s.wrapped.Write(p)
}

var _ io.ReadWriteCloser = (*Simulator)(nil)
