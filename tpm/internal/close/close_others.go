//go:build !windows

package closer

import (
	"io"

	"github.com/google/go-tpm/tpmutil"

	"go.step.sm/tpmobject/tpm/internal/interceptor"
)

func closeRWC(rwc io.ReadWriteCloser) error {
	if ic, ok := rwc.(*interceptor.RWC); ok {
		rwc = ic.Unwrap()
	}
	if _, ok := rwc.(*tpmutil.EmulatorReadWriteCloser); ok {
		return nil // EmulatorReadWriteCloser closes the socket after every command
	}
	return rwc.Close()
}
