package tss2

import (
	"encoding/pem"

	"go.step.sm/tpmobject/tpm/blob"
	"go.step.sm/tpmobject/tpm/handle"
)

// TPMOption is the type used to modify a [TPMKey].
type TPMOption func(*TPMKey)

// WithParent sets the [TPMKey] parent's handle
func WithParent(parent handle.Handle) TPMOption {
	return func(t *TPMKey) {
		t.Parent = parent
	}
}

// WithEmptyAuth sets whether the key can be used without an authorization
// value.
func WithEmptyAuth(emptyAuth bool) TPMOption {
	return func(t *TPMKey) {
		t.EmptyAuth = emptyAuth
	}
}

// New creates a new loadable [TPMKey] with the given public and private
// areas. The areas are given without their TPM2B size prefix. The key uses
// the owner hierarchy as its parent and an empty authorization value unless
// options say otherwise.
func New(pub, priv []byte, opts ...TPMOption) *TPMKey {
	key := &TPMKey{
		Type:       oidLoadableKey,
		EmptyAuth:  true,
		Parent:     handle.Owner,
		PublicKey:  addPrefixLength(pub),
		PrivateKey: addPrefixLength(priv),
	}
	for _, fn := range opts {
		fn(key)
	}
	return key
}

// FromBlobs creates a new loadable [TPMKey] from decoded blobs, such as the
// ones written by tpm2_create.
func FromBlobs(pub *blob.Public, priv *blob.Private, opts ...TPMOption) *TPMKey {
	key := &TPMKey{
		Type:       oidLoadableKey,
		EmptyAuth:  true,
		Parent:     handle.Owner,
		PublicKey:  blob.MarshalPublic(pub),
		PrivateKey: blob.MarshalPrivate(priv),
	}
	for _, fn := range opts {
		fn(key)
	}
	return key
}

// Encode encodes the [TPMKey] returns a [*pem.Block].
func (k *TPMKey) Encode() (*pem.Block, error) {
	b, err := MarshalPrivateKey(k)
	if err != nil {
		return nil, err
	}
	return &pem.Block{
		Type:  PEMType,
		Bytes: b,
	}, nil
}

// EncodeToMemory encodes the [TPMKey]  and returns an encoded PEM block.
func (k *TPMKey) EncodeToMemory() ([]byte, error) {
	block, err := k.Encode()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(block), nil
}

// Encode encodes the given public and private key and returns a [*pem.Block].
func Encode(pub, priv []byte, opts ...TPMOption) (*pem.Block, error) {
	return New(pub, priv, opts...).Encode()
}

// EncodeToMemory encodes the given public and private key and returns an
// encoded PEM block.
func EncodeToMemory(pub, priv []byte, opts ...TPMOption) ([]byte, error) {
	return New(pub, priv, opts...).EncodeToMemory()
}

func addPrefixLength(b []byte) []byte {
	s := len(b)
	return append([]byte{byte(s >> 8 & 0xFF), byte(s & 0xFF)}, b...)
}
