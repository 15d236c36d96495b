//go:build tpm

package signer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.step.sm/tpmobject/tpm/device"
)

func openTPM(t *testing.T) *device.TPM {
	t.Helper()

	dev, err := device.New()
	require.NoError(t, err)
	require.NoError(t, dev.Open(context.Background()))
	t.Cleanup(func() {
		assert.NoError(t, dev.Close(context.Background()))
	})
	return dev
}
