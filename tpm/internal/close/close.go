// Package closer closes TPM connections opened by the open package.
package closer

import (
	"io"
)

// RWC closes rwc, unwrapping interceptors first.
func RWC(rwc io.ReadWriteCloser) error {
	return closeRWC(rwc)
}
