package primary

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"go.step.sm/tpmobject/tpm/handle"
	"go.step.sm/tpmobject/tpm/internal/mock"
)

func TestSelectAlgorithm(t *testing.T) {
	tests := []struct {
		name string
		algs []tpm2.TPMAlgID
		want Algorithm
	}{
		{"ecc", []tpm2.TPMAlgID{tpm2.TPMAlgRSA, tpm2.TPMAlgSHA256, tpm2.TPMAlgECC}, ECCP256},
		{"ecc only", []tpm2.TPMAlgID{tpm2.TPMAlgECC}, ECCP256},
		{"rsa", []tpm2.TPMAlgID{tpm2.TPMAlgRSA, tpm2.TPMAlgSHA256}, RSA},
		{"ecdsa is not ecc", []tpm2.TPMAlgID{tpm2.TPMAlgECDSA}, RSA},
		{"empty", []tpm2.TPMAlgID{}, RSA},
		{"nil", nil, RSA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectAlgorithm(tt.algs))
		})
	}
}

func TestAlgorithm_String(t *testing.T) {
	assert.Equal(t, "rsa2048", RSA.String())
	assert.Equal(t, "ecc256", ECCP256.String())
	assert.Equal(t, "Algorithm(9)", Algorithm(9).String())
}

func TestTemplate(t *testing.T) {
	assertStorage := func(t *testing.T, tmpl tpm2.TPMTPublic) {
		t.Helper()
		attrs := tmpl.ObjectAttributes
		assert.Equal(t, tpm2.TPMAlgSHA256, tmpl.NameAlg)
		assert.True(t, attrs.FixedTPM)
		assert.True(t, attrs.FixedParent)
		assert.True(t, attrs.SensitiveDataOrigin)
		assert.True(t, attrs.UserWithAuth)
		assert.True(t, attrs.NoDA)
		assert.True(t, attrs.Restricted)
		assert.True(t, attrs.Decrypt)
		assert.False(t, attrs.SignEncrypt)
		assert.False(t, attrs.AdminWithPolicy)
	}

	t.Run("ecc", func(t *testing.T) {
		tmpl := Template(ECCP256)
		assertStorage(t, tmpl)
		require.Equal(t, tpm2.TPMAlgECC, tmpl.Type)

		params, err := tmpl.Parameters.ECCDetail()
		require.NoError(t, err)
		assert.Equal(t, tpm2.TPMECCNistP256, params.CurveID)
		assert.Equal(t, tpm2.TPMAlgNull, params.Scheme.Scheme)
		assert.Equal(t, tpm2.TPMAlgNull, params.KDF.Scheme)
		assert.Equal(t, tpm2.TPMAlgAES, params.Symmetric.Algorithm)

		unique, err := tmpl.Unique.ECC()
		require.NoError(t, err)
		assert.Empty(t, unique.X.Buffer)
		assert.Empty(t, unique.Y.Buffer)
	})

	t.Run("rsa", func(t *testing.T) {
		tmpl := Template(RSA)
		assertStorage(t, tmpl)
		require.Equal(t, tpm2.TPMAlgRSA, tmpl.Type)

		params, err := tmpl.Parameters.RSADetail()
		require.NoError(t, err)
		assert.Equal(t, tpm2.TPMKeyBits(2048), params.KeyBits)
		assert.Equal(t, uint32(0), params.Exponent)
		assert.Equal(t, tpm2.TPMAlgNull, params.Scheme.Scheme)
		assert.Equal(t, tpm2.TPMAlgAES, params.Symmetric.Algorithm)

		unique, err := tmpl.Unique.RSA()
		require.NoError(t, err)
		assert.Empty(t, unique.Buffer)
	})

	t.Run("unknown is rsa", func(t *testing.T) {
		assert.Equal(t, tpm2.TPMAlgRSA, Template(Algorithm(0)).Type)
	})
}

func TestProvisioner_Provision(t *testing.T) {
	ctx := context.Background()
	errDevice := errors.New("TPM_RC_HIERARCHY")
	rsp := &tpm2.CreatePrimaryResponse{
		ObjectHandle: 0x80000000,
		Name:         tpm2.TPM2BName{Buffer: []byte{0x00, 0x0b, 0x01}},
	}

	tests := []struct {
		name      string
		hierarchy handle.Handle
		alg       Algorithm
		rsp       *tpm2.CreatePrimaryResponse
		err       error
		want      *Primary
		assertion assert.ErrorAssertionFunc
	}{
		{"ok owner ecc", handle.Owner, ECCP256, rsp, nil, &Primary{
			Handle:    tpm2.NamedHandle{Handle: 0x80000000, Name: rsp.Name},
			Hierarchy: handle.Owner,
			Algorithm: ECCP256,
		}, assert.NoError},
		{"ok endorsement rsa", handle.Endorsement, RSA, rsp, nil, &Primary{
			Handle:    tpm2.NamedHandle{Handle: 0x80000000, Name: rsp.Name},
			Hierarchy: handle.Endorsement,
			Algorithm: RSA,
		}, assert.NoError},
		{"fail create", handle.Owner, RSA, nil, errDevice, nil, assert.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			dev := mock.NewDevice(ctrl)
			dev.EXPECT().CreatePrimary(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, cmd tpm2.CreatePrimary) (*tpm2.CreatePrimaryResponse, error) {
				ah, ok := cmd.PrimaryHandle.(tpm2.AuthHandle)
				require.True(t, ok)
				assert.Equal(t, tpm2.TPMHandle(tt.hierarchy), ah.Handle)

				got, err := cmd.InPublic.Contents()
				require.NoError(t, err)
				assert.Equal(t, Template(tt.alg).Type, got.Type)
				return tt.rsp, tt.err
			})

			got, err := New(dev).Provision(ctx, tt.hierarchy, tt.alg)
			tt.assertion(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, ErrDevice)
				assert.ErrorIs(t, err, tt.err)

				var pe *ProvisionError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, "create primary key", pe.Op)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProvisioner_ProvisionDefault(t *testing.T) {
	ctx := context.Background()
	rsp := &tpm2.CreatePrimaryResponse{ObjectHandle: 0x80000001}

	t.Run("ok queries before create", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dev := mock.NewDevice(ctrl)
		gomock.InOrder(
			dev.EXPECT().SupportedAlgorithms(ctx).Return([]tpm2.TPMAlgID{tpm2.TPMAlgRSA, tpm2.TPMAlgECC}, nil),
			dev.EXPECT().CreatePrimary(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, cmd tpm2.CreatePrimary) (*tpm2.CreatePrimaryResponse, error) {
				pub, err := cmd.InPublic.Contents()
				require.NoError(t, err)
				assert.Equal(t, tpm2.TPMAlgECC, pub.Type)
				return rsp, nil
			}),
		)

		got, err := New(dev).ProvisionDefault(ctx, handle.Owner)
		require.NoError(t, err)
		assert.Equal(t, ECCP256, got.Algorithm)
		assert.Equal(t, tpm2.TPMHandle(0x80000001), got.Handle.Handle)
		assert.Equal(t, handle.Owner, got.Hierarchy)
	})

	t.Run("ok rsa fallback", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dev := mock.NewDevice(ctrl)
		gomock.InOrder(
			dev.EXPECT().SupportedAlgorithms(ctx).Return(nil, nil),
			dev.EXPECT().CreatePrimary(ctx, gomock.Any()).Return(rsp, nil),
		)

		got, err := New(dev).ProvisionDefault(ctx, handle.Null)
		require.NoError(t, err)
		assert.Equal(t, RSA, got.Algorithm)
		assert.Equal(t, handle.Null, got.Hierarchy)
	})

	t.Run("fail query", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dev := mock.NewDevice(ctrl)
		dev.EXPECT().SupportedAlgorithms(ctx).Return(nil, errors.New("connection reset"))

		got, err := New(dev).ProvisionDefault(ctx, handle.Owner)
		assert.ErrorIs(t, err, ErrDevice)
		assert.EqualError(t, err, "failed to get supported algorithms: connection reset")
		assert.Nil(t, got)
	})
}
