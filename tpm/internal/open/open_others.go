//go:build !windows

package open

import (
	"errors"
	"io"

	"github.com/google/go-tpm/legacy/tpm2"
)

// defaultDevices are tried in order when no device name is given. The
// resource manager is preferred so transient objects do not leak between
// processes.
var defaultDevices = []string{"/dev/tpmrm0", "/dev/tpm0"}

func open(deviceName string) (io.ReadWriteCloser, error) {
	if deviceName != "" {
		return tpm2.OpenTPM(deviceName)
	}

	var errs []error
	for _, name := range defaultDevices {
		rwc, err := tpm2.OpenTPM(name)
		if err == nil {
			return rwc, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
