// Package ctxfile reads and writes saved TPM object and session contexts in
// the file format used by tpm2-tools (tpm2_contextsave, tpm2_createprimary -c,
// tpm2_load -c, ...).
//
// All fields are big-endian:
//
//	magic        uint32 (0xBADCC0DE)
//	version      uint32 (1)
//	hierarchy    uint32
//	savedHandle  uint32
//	sequence     uint64
//	contextBlob  TPM2B_CONTEXT_DATA
package ctxfile

import (
	"errors"
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"golang.org/x/crypto/cryptobyte"
)

const (
	// Magic identifies a tpm2-tools context file.
	Magic uint32 = 0xBADCC0DE
	// Version is the only supported format version.
	Version uint32 = 1
)

var (
	// ErrNotContext is returned when the data does not start with the
	// context file magic.
	ErrNotContext = errors.New("not a TPM context file")
	// ErrMalformed is returned when a context file cannot be decoded.
	ErrMalformed = errors.New("malformed TPM context file")
)

// Parse decodes a context file into the structure expected by
// TPM2_ContextLoad.
func Parse(b []byte) (*tpm2.TPMSContext, error) {
	var (
		magic, version         uint32
		hierarchy, savedHandle uint32
		sequence               uint64
		blob                   cryptobyte.String
	)

	input := cryptobyte.String(b)
	if !input.ReadUint32(&magic) || magic != Magic {
		return nil, ErrNotContext
	}
	if !input.ReadUint32(&version) {
		return nil, fmt.Errorf("%w: missing version", ErrMalformed)
	}
	if version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, version)
	}
	if !input.ReadUint32(&hierarchy) || !input.ReadUint32(&savedHandle) || !input.ReadUint64(&sequence) {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformed)
	}
	if !input.ReadUint16LengthPrefixed(&blob) {
		return nil, fmt.Errorf("%w: truncated context blob", ErrMalformed)
	}
	if !input.Empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(input))
	}

	return &tpm2.TPMSContext{
		Sequence:    sequence,
		SavedHandle: tpm2.TPMIDHSaved(savedHandle),
		Hierarchy:   tpm2.TPMIRHHierarchy(hierarchy),
		ContextBlob: tpm2.TPM2BContextData{Buffer: append([]byte(nil), blob...)},
	}, nil
}

// Marshal encodes a saved context in the tpm2-tools format.
func Marshal(c *tpm2.TPMSContext) ([]byte, error) {
	if c == nil {
		return nil, errors.New("context cannot be nil")
	}

	var b cryptobyte.Builder
	b.AddUint32(Magic)
	b.AddUint32(Version)
	b.AddUint32(uint32(c.Hierarchy))
	b.AddUint32(uint32(c.SavedHandle))
	b.AddUint64(c.Sequence)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(c.ContextBlob.Buffer)
	})
	return b.Bytes()
}
