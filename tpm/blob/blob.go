// Package blob decodes and encodes the TPM2B_PUBLIC and TPM2B_PRIVATE
// structures returned by TPM2_Create and stored in key files.
package blob

import (
	"crypto"
	"errors"
	"fmt"

	legacy "github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpm2"
	"golang.org/x/crypto/cryptobyte"
)

// ErrMalformed is returned when a blob cannot be decoded.
var ErrMalformed = errors.New("malformed TPM2B blob")

// Public is a decoded TPM2B_PUBLIC.
type Public struct {
	raw  []byte
	area tpm2.TPMTPublic
}

// Private is a TPM2B_PRIVATE. Its contents are encrypted by the parent and
// are kept opaque.
type Private struct {
	raw []byte
}

// UnmarshalPublic decodes a marshaled TPM2B_PUBLIC. The size prefix must
// cover the TPMT_PUBLIC exactly.
func UnmarshalPublic(b []byte) (*Public, error) {
	content, err := unwrap(b)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty public area", ErrMalformed)
	}
	area, err := tpm2.Unmarshal[tpm2.TPMTPublic](content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if n := len(tpm2.Marshal(*area)); n != len(content) {
		return nil, fmt.Errorf("%w: public area has %d trailing bytes", ErrMalformed, len(content)-n)
	}
	return &Public{
		raw:  clone(b),
		area: *area,
	}, nil
}

// UnmarshalPrivate decodes a marshaled TPM2B_PRIVATE.
func UnmarshalPrivate(b []byte) (*Private, error) {
	content, err := unwrap(b)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty private area", ErrMalformed)
	}
	return &Private{raw: clone(b)}, nil
}

// NewPublic returns the [Public] for the given public area.
func NewPublic(area tpm2.TPMTPublic) *Public {
	return &Public{
		raw:  addPrefixLength(tpm2.Marshal(area)),
		area: area,
	}
}

// NewPrivate returns the [Private] for the given encrypted private area.
func NewPrivate(content []byte) *Private {
	return &Private{raw: addPrefixLength(content)}
}

// MarshalPublic returns the TPM2B_PUBLIC encoding of p.
func MarshalPublic(p *Public) []byte {
	return clone(p.raw)
}

// MarshalPrivate returns the TPM2B_PRIVATE encoding of p.
func MarshalPrivate(p *Private) []byte {
	return clone(p.raw)
}

// Bytes returns the TPM2B encoding, including the size prefix.
func (p *Public) Bytes() []byte { return clone(p.raw) }

// Area returns the decoded TPMT_PUBLIC.
func (p *Public) Area() tpm2.TPMTPublic { return p.area }

// Type returns the algorithm of the object.
func (p *Public) Type() tpm2.TPMAlgID { return p.area.Type }

// TPM2B returns the blob in the form used by TPM2_Load.
func (p *Public) TPM2B() tpm2.TPM2BPublic {
	return tpm2.BytesAs2B[tpm2.TPMTPublic](p.raw[2:])
}

// Key returns the public key described by the public area.
func (p *Public) Key() (crypto.PublicKey, error) {
	pub, err := legacy.DecodePublic(p.raw[2:])
	if err != nil {
		return nil, fmt.Errorf("failed decoding public area: %w", err)
	}
	key, err := pub.Key()
	if err != nil {
		return nil, fmt.Errorf("failed getting public key: %w", err)
	}
	return key, nil
}

// Bytes returns the TPM2B encoding, including the size prefix.
func (p *Private) Bytes() []byte { return clone(p.raw) }

// TPM2B returns the blob in the form used by TPM2_Load.
func (p *Private) TPM2B() tpm2.TPM2BPrivate {
	return tpm2.TPM2BPrivate{Buffer: clone(p.raw[2:])}
}

func unwrap(b []byte) ([]byte, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: missing size prefix", ErrMalformed)
	}
	input := cryptobyte.String(b)
	var content cryptobyte.String
	if !input.ReadUint16LengthPrefixed(&content) {
		return nil, fmt.Errorf("%w: size prefix %d exceeds %d available bytes", ErrMalformed, int(b[0])<<8|int(b[1]), len(b)-2)
	}
	if !input.Empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(input))
	}
	return content, nil
}

func addPrefixLength(b []byte) []byte {
	s := len(b)
	return append([]byte{byte(s >> 8 & 0xFF), byte(s & 0xFF)}, b...)
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
