// Copyright 2023 Smallstep Labs, Inc
// Copyright 2023 David Woodhouse, @dwmw2
// Copyright 2023 @google/go-tpm-admin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package signer implements [crypto.Signer] with a resolved TPM object.
package signer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"go.step.sm/tpmobject/tpm/blob"
	"go.step.sm/tpmobject/tpm/handle"
	"go.step.sm/tpmobject/tpm/object"
)

// ErrClosed is returned by Sign after Close.
var ErrClosed = errors.New("signer is closed")

// Device is the TPM used by a [Signer].
type Device interface {
	transport.TPM
	FlushContext(ctx context.Context, h tpm2.TPMHandle) error
}

// Signer implements [crypto.Signer] using a key in the TPM.
type Signer struct {
	m         sync.Mutex
	dev       Device
	key       tpm2.NamedHandle
	auth      tpm2.Session
	publicKey crypto.PublicKey
	owned     bool
	closed    bool
}

// New returns a [Signer] for obj. Loadable keys are loaded under their
// parent, and an ephemeral parent is flushed once the key is loaded. Keys
// loaded by New, and objects loaded from a context file, are flushed by
// Close. Persistent keys are left in the TPM.
//
// The authorization of obj.Session is used for the key, or an empty
// password if obj has no session.
func New(ctx context.Context, dev Device, obj *object.LoadedObject) (*Signer, error) {
	switch {
	case dev == nil:
		return nil, errors.New("invalid TPM: dev cannot be nil")
	case obj == nil:
		return nil, errors.New("invalid object: obj cannot be nil")
	}

	keyAuth := tpm2.PasswordAuth(nil)
	if obj.Session != nil {
		a, err := obj.Session.Auth()
		if err != nil {
			return nil, err
		}
		keyAuth = a
	}

	s := &Signer{
		dev:  dev,
		auth: keyAuth,
	}

	var err error
	switch obj.Strategy {
	case object.StrategyLoadableKey:
		err = s.load(ctx, obj)
	case object.StrategyContextFile:
		s.key, s.owned = obj.TransportHandle, true
		err = s.readPublic()
	case object.StrategyHandle:
		s.key = obj.TransportHandle
		err = s.readPublic()
	default:
		return nil, fmt.Errorf("invalid object: unsupported strategy %s", obj.Strategy)
	}
	if err != nil {
		if cerr := s.Close(ctx); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	return s, nil
}

func (s *Signer) load(ctx context.Context, obj *object.LoadedObject) (err error) {
	if obj.Public == nil || obj.Private == nil {
		return errors.New("invalid object: key blobs are missing")
	}
	if obj.Ephemeral {
		defer func() {
			if ferr := s.dev.FlushContext(ctx, obj.TransportHandle.Handle); ferr != nil {
				err = errors.Join(err, fmt.Errorf("error flushing parent: %w", ferr))
			}
		}()
	}

	publicKey, err := obj.Public.Key()
	if err != nil {
		return fmt.Errorf("error decoding public key: %w", err)
	}

	rsp, err := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: obj.TransportHandle.Handle,
			Name:   obj.TransportHandle.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPrivate: obj.Private.TPM2B(),
		InPublic:  obj.Public.TPM2B(),
	}.Execute(s.dev)
	if err != nil {
		return fmt.Errorf("error loading key: %w", err)
	}

	s.key = tpm2.NamedHandle{Handle: rsp.ObjectHandle, Name: rsp.Name}
	s.owned = true
	s.publicKey = publicKey
	return nil
}

func (s *Signer) readPublic() error {
	rsp, err := tpm2.ReadPublic{ObjectHandle: s.key.Handle}.Execute(s.dev)
	if err != nil {
		return fmt.Errorf("error reading public area of %s: %w", handle.Handle(s.key.Handle), err)
	}
	area, err := rsp.OutPublic.Contents()
	if err != nil {
		return fmt.Errorf("error decoding public area: %w", err)
	}
	publicKey, err := blob.NewPublic(*area).Key()
	if err != nil {
		return fmt.Errorf("error decoding public key: %w", err)
	}
	s.publicKey = publicKey
	return nil
}

// Public implements the [crypto.Signer] interface.
func (s *Signer) Public() crypto.PublicKey {
	return s.publicKey
}

// Handle returns the handle of the key in the TPM.
func (s *Signer) Handle() tpm2.NamedHandle {
	return s.key
}

// Sign implements the [crypto.Signer] interface.
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if opts == nil {
		return nil, errors.New("invalid options: opts cannot be nil")
	}
	hashAlg, err := hashAlgorithm(opts.HashFunc())
	if err != nil {
		return nil, err
	}
	if n := opts.HashFunc().Size(); len(digest) != n {
		return nil, fmt.Errorf("invalid digest length %d, expected %d", len(digest), n)
	}

	switch s.publicKey.(type) {
	case *ecdsa.PublicKey:
		return s.signECDSA(digest, hashAlg)
	case *rsa.PublicKey:
		return s.signRSA(digest, hashAlg, opts)
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", s.publicKey)
	}
}

func (s *Signer) sign(digest []byte, scheme tpm2.TPMAlgID, hashAlg tpm2.TPMIAlgHash) (*tpm2.SignResponse, error) {
	return tpm2.Sign{
		KeyHandle: tpm2.AuthHandle{
			Handle: s.key.Handle,
			Name:   s.key.Name,
			Auth:   s.auth,
		},
		Digest: tpm2.TPM2BDigest{
			Buffer: digest,
		},
		InScheme: tpm2.TPMTSigScheme{
			Scheme: scheme,
			Details: tpm2.NewTPMUSigScheme(scheme, &tpm2.TPMSSchemeHash{
				HashAlg: hashAlg,
			}),
		},
		Validation: tpm2.TPMTTKHashCheck{
			Tag:       tpm2.TPMSTHashCheck,
			Hierarchy: tpm2.TPMRHNull,
		},
	}.Execute(s.dev)
}

func (s *Signer) signECDSA(digest []byte, hashAlg tpm2.TPMIAlgHash) ([]byte, error) {
	rsp, err := s.sign(digest, tpm2.TPMAlgECDSA, hashAlg)
	if err != nil {
		return nil, fmt.Errorf("error creating ECDSA signature: %w", err)
	}
	sig, err := rsp.Signature.Signature.ECDSA()
	if err != nil {
		return nil, fmt.Errorf("expected ECDSA signature, got %v: %w", rsp.Signature.SigAlg, err)
	}
	return asn1.Marshal(struct {
		R *big.Int
		S *big.Int
	}{
		new(big.Int).SetBytes(sig.SignatureR.Buffer),
		new(big.Int).SetBytes(sig.SignatureS.Buffer),
	})
}

func (s *Signer) signRSA(digest []byte, hashAlg tpm2.TPMIAlgHash, opts crypto.SignerOpts) ([]byte, error) {
	scheme := tpm2.TPMAlgRSASSA
	if pss, ok := opts.(*rsa.PSSOptions); ok {
		if pss.SaltLength != rsa.PSSSaltLengthAuto && pss.SaltLength != rsa.PSSSaltLengthEqualsHash && pss.SaltLength != len(digest) {
			return nil, fmt.Errorf("invalid PSS salt length %d, expected rsa.PSSSaltLengthAuto, rsa.PSSSaltLengthEqualsHash or %d", pss.SaltLength, len(digest))
		}
		scheme = tpm2.TPMAlgRSAPSS
	}

	rsp, err := s.sign(digest, scheme, hashAlg)
	if err != nil {
		return nil, fmt.Errorf("error creating RSA signature: %w", err)
	}

	var sig *tpm2.TPMSSignatureRSA
	if scheme == tpm2.TPMAlgRSAPSS {
		sig, err = rsp.Signature.Signature.RSAPSS()
	} else {
		sig, err = rsp.Signature.Signature.RSASSA()
	}
	if err != nil {
		return nil, fmt.Errorf("unexpected signature scheme %v: %w", rsp.Signature.SigAlg, err)
	}
	return sig.Sig.Buffer, nil
}

// Close flushes the key if it was loaded by this signer. It is safe to call
// Close more than once.
func (s *Signer) Close(ctx context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.owned {
		return nil
	}
	return s.dev.FlushContext(ctx, s.key.Handle)
}

func hashAlgorithm(h crypto.Hash) (tpm2.TPMIAlgHash, error) {
	switch h {
	case crypto.SHA1:
		return tpm2.TPMAlgSHA1, nil
	case crypto.SHA256:
		return tpm2.TPMAlgSHA256, nil
	case crypto.SHA384:
		return tpm2.TPMAlgSHA384, nil
	case crypto.SHA512:
		return tpm2.TPMAlgSHA512, nil
	default:
		return 0, fmt.Errorf("unsupported hash function %v", h)
	}
}
