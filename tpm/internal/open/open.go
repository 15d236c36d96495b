// Package open opens a connection to a TPM given its device name.
package open

import (
	"fmt"
	"io"
	"strings"

	"go.step.sm/tpmobject/tpm/internal/mssim"
	"go.step.sm/tpmobject/tpm/internal/socket"
	"go.step.sm/tpmobject/uri"
)

// TPM opens the TPM identified by deviceName:
//
//   - "mssim:host=...;port=..." connects to a TPM simulator over TCP.
//   - the path of a UNIX socket connects to an emulator (e.g. swtpm).
//   - any other value is opened as a character device. An empty name
//     selects the platform default.
func TPM(deviceName string) (io.ReadWriteCloser, error) {
	if strings.HasPrefix(deviceName, "mssim:") {
		u, err := uri.ParseWithScheme("mssim", deviceName)
		if err != nil {
			return nil, fmt.Errorf("failed parsing %q: %w", deviceName, err)
		}
		return mssim.New(u)
	}

	if deviceName != "" {
		rwc, err := socket.New(deviceName)
		if err != nil && !socket.IsNotSocket(err) {
			return nil, err
		}
		if rwc != nil {
			return rwc, nil
		}
	}

	return open(deviceName)
}
