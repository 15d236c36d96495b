// Package handle implements TPM 2.0 handle ranges and the parsing of raw
// handles and hierarchy names as accepted on the command line.
package handle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Handle is a TPM 2.0 handle. The most significant octet selects the handle
// type.
type Handle uint32

// Type is the handle type encoded in the most significant octet of a
// [Handle].
type Type uint8

// Handle types.
const (
	TypePCR           Type = 0x00
	TypeNVIndex       Type = 0x01
	TypeHMACSession   Type = 0x02
	TypePolicySession Type = 0x03
	TypePermanent     Type = 0x40
	TypeTransient     Type = 0x80
	TypePersistent    Type = 0x81
)

// Reserved and range handles.
const (
	Owner       Handle = 0x40000001
	Null        Handle = 0x40000007
	Lockout     Handle = 0x4000000A
	Endorsement Handle = 0x4000000B
	Platform    Handle = 0x4000000C

	PCRFirst       Handle = 0x00000000
	PCRLast        Handle = 0x0000001F
	NVIndexFirst   Handle = 0x01000000
	TransientFirst Handle = 0x80000000
	PersistentLast Handle = 0x81FFFFFF
)

const typeShift = 24

// ErrInvalid is returned when a string cannot be parsed as a handle.
var ErrInvalid = errors.New("invalid handle")

// Type returns the handle type.
func (h Handle) Type() Type {
	return Type(h >> typeShift)
}

// IsHierarchy reports whether h is one of the hierarchies that can hold a
// primary key: owner, endorsement, platform or null.
func (h Handle) IsHierarchy() bool {
	switch h {
	case Owner, Endorsement, Platform, Null:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether h is in the permanent range.
func (h Handle) IsPermanent() bool { return h.Type() == TypePermanent }

// IsPersistent reports whether h is in the persistent object range.
func (h Handle) IsPersistent() bool { return h.Type() == TypePersistent }

// IsTransient reports whether h is in the transient object range.
func (h Handle) IsTransient() bool { return h.Type() == TypeTransient }

// IsNV reports whether h is an NV index.
func (h Handle) IsNV() bool { return h.Type() == TypeNVIndex }

// IsPCR reports whether h is a PCR handle.
func (h Handle) IsPCR() bool { return h <= PCRLast }

// IsSession reports whether h is an HMAC or policy session handle.
func (h Handle) IsSession() bool {
	t := h.Type()
	return t == TypeHMACSession || t == TypePolicySession
}

func (h Handle) String() string {
	return fmt.Sprintf("0x%08x", uint32(h))
}

// Flags select the hierarchy names and index ranges accepted by [Parse].
type Flags uint32

const (
	FlagOwner Flags = 1 << iota
	FlagPlatform
	FlagEndorsement
	FlagNull
	FlagLockout
	FlagNV
	FlagPCR

	FlagNone       Flags = 0
	AllHierarchies       = FlagOwner | FlagPlatform | FlagEndorsement | FlagNull | FlagLockout
)

var hierarchies = []struct {
	name   string
	handle Handle
	flag   Flags
}{
	{"owner", Owner, FlagOwner},
	{"platform", Platform, FlagPlatform},
	{"endorsement", Endorsement, FlagEndorsement},
	{"null", Null, FlagNull},
	{"lockout", Lockout, FlagLockout},
}

var flagNames = map[string]Flags{
	"o": FlagOwner, "owner": FlagOwner,
	"p": FlagPlatform, "platform": FlagPlatform,
	"e": FlagEndorsement, "endorsement": FlagEndorsement,
	"n": FlagNull, "null": FlagNull,
	"l": FlagLockout, "lockout": FlagLockout,
	"all": AllHierarchies,
	"nv":  FlagNV,
	"pcr": FlagPCR,
}

// ParseFlags parses a comma separated list of flag names, e.g. "o,p,nv".
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		v, ok := flagNames[name]
		if !ok {
			return FlagNone, fmt.Errorf("unknown handle flag %q", name)
		}
		f |= v
	}
	return f, nil
}

// Parse parses s as a hierarchy name or a raw 32-bit handle.
//
// Any non-empty prefix of "owner", "platform", "endorsement", "null" or
// "lockout" selects that hierarchy, as long as the corresponding flag is set.
// Numbers are accepted in decimal, hexadecimal (0x) or octal (leading 0). With
// FlagNV an index below the NV range is offset into it, with FlagPCR the value
// must be a PCR index.
func Parse(s string, flags Flags) (Handle, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalid)
	}
	if flags&FlagNV != 0 && flags&FlagPCR != 0 {
		return 0, fmt.Errorf("%w: NV and PCR flags are mutually exclusive", ErrInvalid)
	}

	for _, h := range hierarchies {
		if strings.HasPrefix(h.name, s) {
			if flags&h.flag == 0 {
				return 0, fmt.Errorf("%w: hierarchy %q is not allowed", ErrInvalid, h.name)
			}
			return h.handle, nil
		}
	}

	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a hierarchy or a 32-bit value", ErrInvalid, s)
	}
	h := Handle(v)

	switch {
	case flags&FlagNV != 0:
		if !h.IsNV() {
			if h >= NVIndexFirst {
				return 0, fmt.Errorf("%w: %s is not an NV index", ErrInvalid, h)
			}
			h += NVIndexFirst
		}
	case flags&FlagPCR != 0:
		if !h.IsPCR() {
			return 0, fmt.Errorf("%w: %s is not a PCR index", ErrInvalid, h)
		}
	}

	return h, nil
}
