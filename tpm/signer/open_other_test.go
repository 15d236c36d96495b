//go:build !tpm && !tpmsimulator

package signer

import (
	"testing"

	"go.step.sm/tpmobject/tpm/device"
)

func openTPM(t *testing.T) *device.TPM {
	t.Helper()
	t.Skip("Use tags tpm or tpmsimulator")
	return nil
}
