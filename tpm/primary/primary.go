// Package primary creates the transient storage primary key used as the
// parent of keys that do not reference a persistent parent.
package primary

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/go-tpm/tpm2"

	"go.step.sm/tpmobject/tpm/handle"
)

// Algorithm is the key algorithm of a provisioned primary key.
type Algorithm int

const (
	// RSA selects an RSA 2048 primary key.
	RSA Algorithm = iota + 1
	// ECCP256 selects an ECC NIST P-256 primary key.
	ECCP256
)

func (a Algorithm) String() string {
	switch a {
	case RSA:
		return "rsa2048"
	case ECCP256:
		return "ecc256"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// ErrDevice is matched by every [ProvisionError].
var ErrDevice = errors.New("TPM device error")

// ProvisionError is returned when the TPM fails a command needed to create
// the primary key. The failure may be transient.
type ProvisionError struct {
	Op  string
	Err error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *ProvisionError) Unwrap() []error {
	return []error{ErrDevice, e.Err}
}

// Device is the subset of TPM commands used to provision a primary key.
type Device interface {
	SupportedAlgorithms(ctx context.Context) ([]tpm2.TPMAlgID, error)
	CreatePrimary(ctx context.Context, cmd tpm2.CreatePrimary) (*tpm2.CreatePrimaryResponse, error)
}

// Primary is a transient primary key created by a [Provisioner]. It is not
// flushed by this package.
type Primary struct {
	Handle    tpm2.NamedHandle
	Hierarchy handle.Handle
	Algorithm Algorithm
	Public    tpm2.TPM2BPublic
}

// SelectAlgorithm returns ECCP256 if algs contains TPM_ALG_ECC and RSA
// otherwise.
func SelectAlgorithm(algs []tpm2.TPMAlgID) Algorithm {
	if slices.Contains(algs, tpm2.TPMAlgECC) {
		return ECCP256
	}
	return RSA
}

// Template returns the public template used for the given algorithm. Both
// templates describe a restricted decryption (storage) key with an AES-128
// CFB symmetric scheme, a SHA-256 name and empty unique fields.
func Template(alg Algorithm) tpm2.TPMTPublic {
	if alg == ECCP256 {
		return eccTemplate()
	}
	return rsaTemplate()
}

var storageAttributes = tpm2.TPMAObject{
	FixedTPM:            true,
	FixedParent:         true,
	SensitiveDataOrigin: true,
	UserWithAuth:        true,
	NoDA:                true,
	Restricted:          true,
	Decrypt:             true,
}

func aes128CFB() tpm2.TPMTSymDefObject {
	return tpm2.TPMTSymDefObject{
		Algorithm: tpm2.TPMAlgAES,
		KeyBits: tpm2.NewTPMUSymKeyBits(
			tpm2.TPMAlgAES,
			tpm2.TPMKeyBits(128),
		),
		Mode: tpm2.NewTPMUSymMode(
			tpm2.TPMAlgAES,
			tpm2.TPMAlgCFB,
		),
	}
}

func eccTemplate() tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:             tpm2.TPMAlgECC,
		NameAlg:          tpm2.TPMAlgSHA256,
		ObjectAttributes: storageAttributes,
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgECC,
			&tpm2.TPMSECCParms{
				Symmetric: aes128CFB(),
				Scheme: tpm2.TPMTECCScheme{
					Scheme: tpm2.TPMAlgNull,
				},
				CurveID: tpm2.TPMECCNistP256,
				KDF: tpm2.TPMTKDFScheme{
					Scheme: tpm2.TPMAlgNull,
				},
			},
		),
		Unique: tpm2.NewTPMUPublicID(
			tpm2.TPMAlgECC,
			&tpm2.TPMSECCPoint{
				X: tpm2.TPM2BECCParameter{Buffer: []byte{}},
				Y: tpm2.TPM2BECCParameter{Buffer: []byte{}},
			},
		),
	}
}

func rsaTemplate() tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:             tpm2.TPMAlgRSA,
		NameAlg:          tpm2.TPMAlgSHA256,
		ObjectAttributes: storageAttributes,
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgRSA,
			&tpm2.TPMSRSAParms{
				Symmetric: aes128CFB(),
				Scheme: tpm2.TPMTRSAScheme{
					Scheme: tpm2.TPMAlgNull,
				},
				KeyBits:  2048,
				Exponent: 0,
			},
		),
		Unique: tpm2.NewTPMUPublicID(
			tpm2.TPMAlgRSA,
			&tpm2.TPM2BPublicKeyRSA{Buffer: []byte{}},
		),
	}
}

// Provisioner creates primary keys on a TPM.
type Provisioner struct {
	dev Device
}

// New returns a [Provisioner] that uses the given device.
func New(dev Device) *Provisioner {
	return &Provisioner{dev: dev}
}

// SelectAlgorithm queries the algorithms supported by the TPM and selects
// the algorithm of the primary key.
func (p *Provisioner) SelectAlgorithm(ctx context.Context) (Algorithm, error) {
	algs, err := p.dev.SupportedAlgorithms(ctx)
	if err != nil {
		return 0, &ProvisionError{Op: "get supported algorithms", Err: err}
	}
	return SelectAlgorithm(algs), nil
}

// Provision creates a primary key of the given algorithm under hierarchy
// using an empty hierarchy password.
func (p *Provisioner) Provision(ctx context.Context, hierarchy handle.Handle, alg Algorithm) (*Primary, error) {
	cmd := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMHandle(hierarchy),
			Auth:   tpm2.PasswordAuth(nil),
		},
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				UserAuth: tpm2.TPM2BAuth{
					Buffer: []byte(nil),
				},
			},
		},
		InPublic:    tpm2.New2B(Template(alg)),
		OutsideInfo: tpm2.TPM2BData{},
		CreationPCR: tpm2.TPMLPCRSelection{},
	}

	rsp, err := p.dev.CreatePrimary(ctx, cmd)
	if err != nil {
		return nil, &ProvisionError{Op: "create primary key", Err: err}
	}

	return &Primary{
		Handle: tpm2.NamedHandle{
			Handle: rsp.ObjectHandle,
			Name:   rsp.Name,
		},
		Hierarchy: hierarchy,
		Algorithm: alg,
		Public:    rsp.OutPublic,
	}, nil
}

// ProvisionDefault selects the algorithm supported by the TPM and creates a
// primary key with it under hierarchy.
func (p *Provisioner) ProvisionDefault(ctx context.Context, hierarchy handle.Handle) (*Primary, error) {
	alg, err := p.SelectAlgorithm(ctx)
	if err != nil {
		return nil, err
	}
	return p.Provision(ctx, hierarchy, alg)
}
