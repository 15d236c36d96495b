package debug

import (
	"fmt"
	"io"
)

type textTap struct {
	rx, tx *direction
}

// NewTextTap returns a tap that writes responses to reads and commands to
// writes, one hex encoded line each.
func NewTextTap(reads, writes io.Writer) Tap {
	return &textTap{
		rx: &direction{reads, "<-"},
		tx: &direction{writes, "->"},
	}
}

func (t *textTap) Rx() io.Writer {
	return t.rx
}

func (t *textTap) Tx() io.Writer {
	return t.tx
}

type direction struct {
	w      io.Writer
	prefix string
}

func (d *direction) Write(data []byte) (int, error) {
	return fmt.Fprintf(d.w, "%s %x\n", d.prefix, data)
}
