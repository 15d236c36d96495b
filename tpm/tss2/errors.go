package tss2

import (
	"errors"
	"fmt"
)

// Error kinds reported by [FormatError]. Use [errors.Is] to test for them.
var (
	ErrMalformed       = errors.New("malformed TSS2 key")
	ErrUnsupportedType = errors.New("unsupported TSS2 key type")
	ErrInvalidParent   = errors.New("invalid TSS2 parent")
	ErrBadBlob         = errors.New("invalid TSS2 key blob")
)

// BlobKind identifies one of the two blobs of a [TPMKey].
type BlobKind int

const (
	PublicBlob BlobKind = iota + 1
	PrivateBlob
)

func (k BlobKind) String() string {
	switch k {
	case PublicBlob:
		return "pubkey"
	case PrivateBlob:
		return "privkey"
	default:
		return fmt.Sprintf("BlobKind(%d)", int(k))
	}
}

// FormatError is returned when TSS2 key data cannot be decoded or does not
// describe a loadable key.
type FormatError struct {
	// Kind is one of ErrMalformed, ErrUnsupportedType, ErrInvalidParent or
	// ErrBadBlob.
	Kind error
	// Field names the offending DER field.
	Field string
	// Which is set for ErrBadBlob.
	Which BlobKind
	// Err is the underlying cause, if any.
	Err error
}

func (e *FormatError) Error() string {
	var msg string
	switch e.Kind {
	case ErrMalformed:
		msg = "malformed TSS2 " + e.Field
	case ErrBadBlob:
		msg = "invalid TSS2 " + e.Which.String()
	default:
		msg = e.Kind.Error()
		if e.Field != "" {
			msg += " " + e.Field
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func malformed(field string) error {
	return &FormatError{Kind: ErrMalformed, Field: field}
}
