package debug

import (
	"io"
	"sync"
)

type binTap struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBinTap returns a tap that writes commands and responses, unmodified, to
// the same writer.
func NewBinTap(w io.Writer) Tap {
	return &binTap{w: w}
}

func (t *binTap) Rx() io.Writer {
	return t
}

func (t *binTap) Tx() io.Writer {
	return t
}

func (t *binTap) Write(data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.w.Write(data)
}
