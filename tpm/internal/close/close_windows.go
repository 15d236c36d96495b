//go:build windows

package closer

import (
	"io"

	"go.step.sm/tpmobject/tpm/internal/interceptor"
)

func closeRWC(rwc io.ReadWriteCloser) error {
	if ic, ok := rwc.(*interceptor.RWC); ok {
		rwc = ic.Unwrap()
	}
	return rwc.Close()
}
