// Package auth establishes the authorization used to access a TPM object
// from a tpm2-tools style auth value:
//
//	""                 empty password
//	str:<password>     password
//	hex:<hex>          hex encoded password
//	file:<path>        password read from a file, "file:-" reads stdin
//	session:<path>     saved session context (tpm2_startauthsession -S)
//	pcr:<selection>    PCR policy, not supported
//	<password>         any other value is a password
package auth

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-tpm/tpm2"

	"go.step.sm/tpmobject/tpm/ctxfile"
	"go.step.sm/tpmobject/tpm/handle"
)

// MaxPasswordSize is the size of the largest digest, TPMU_HA.
const MaxPasswordSize = 64

var (
	// ErrUnsupported is returned for auth values that are recognized but
	// cannot be used.
	ErrUnsupported = errors.New("unsupported auth value")
	// ErrRestricted is returned when a session is given where only a
	// password is allowed.
	ErrRestricted = errors.New("only passwords are allowed")
	// ErrPasswordTooLong is returned for passwords over MaxPasswordSize
	// bytes.
	ErrPasswordTooLong = errors.New("password is too long")
	// ErrNotSession is returned when a saved context is not a session.
	ErrNotSession = errors.New("context is not a session")
)

// Error is returned when an authorization cannot be established. Form is
// the prefix of the auth value; passwords are never included.
type Error struct {
	Form string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed establishing %s authorization: %v", e.Form, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind is the kind of a [Session].
type Kind int

const (
	// Password is a plain password authorization.
	Password Kind = iota + 1
	// Saved is a session loaded from a saved context.
	Saved
)

func (k Kind) String() string {
	switch k {
	case Password:
		return "password"
	case Saved:
		return "session"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Device is the subset of TPM commands used to load saved sessions.
type Device interface {
	LoadContext(ctx context.Context, c *tpm2.TPMSContext) (tpm2.NamedHandle, error)
	FlushContext(ctx context.Context, h tpm2.TPMHandle) error
}

// Session is an established authorization. Saved sessions live in the TPM
// until Close is called.
type Session struct {
	Kind     Kind
	Password []byte
	Handle   tpm2.NamedHandle

	dev    Device
	closed bool
}

// Auth returns the session to use with go-tpm commands. Only password
// sessions can be used this way.
func (s *Session) Auth() (tpm2.Session, error) {
	if s.Kind != Password {
		return nil, fmt.Errorf("%w: %s cannot be used as a go-tpm session", ErrUnsupported, s.Kind)
	}
	return tpm2.PasswordAuth(s.Password), nil
}

// Close flushes a saved session from the TPM. It is safe to call Close more
// than once.
func (s *Session) Close(ctx context.Context) error {
	if s == nil || s.closed || s.Kind != Saved {
		return nil
	}
	s.closed = true
	return s.dev.FlushContext(ctx, s.Handle.Handle)
}

// Establisher establishes authorizations. The zero value reads files from
// the filesystem and stdin from os.Stdin.
type Establisher struct {
	ReadFile func(name string) ([]byte, error)
	Stdin    io.Reader
}

// Establish parses authValue and returns the session it describes. If restricted
// is true only password forms are accepted.
func Establish(ctx context.Context, dev Device, authValue string, restricted bool) (*Session, error) {
	return (&Establisher{}).Establish(ctx, dev, authValue, restricted)
}

// Establish parses authValue and returns the session it describes. If restricted
// is true only password forms are accepted.
func (e *Establisher) Establish(ctx context.Context, dev Device, authValue string, restricted bool) (*Session, error) {
	form, value, ok := strings.Cut(authValue, ":")
	if !ok {
		form, value = "password", authValue
	}

	var (
		pw  []byte
		err error
	)
	switch form {
	case "str":
		pw = []byte(value)
	case "hex":
		if pw, err = hex.DecodeString(value); err != nil {
			return nil, &Error{Form: form, Err: err}
		}
	case "file":
		if pw, err = e.readPassword(value); err != nil {
			return nil, &Error{Form: form, Err: err}
		}
	case "session":
		if restricted {
			return nil, &Error{Form: form, Err: ErrRestricted}
		}
		s, err := e.loadSession(ctx, dev, value)
		if err != nil {
			return nil, &Error{Form: form, Err: err}
		}
		return s, nil
	case "pcr":
		if restricted {
			return nil, &Error{Form: form, Err: ErrRestricted}
		}
		return nil, &Error{Form: form, Err: fmt.Errorf("%w: PCR policies", ErrUnsupported)}
	default:
		form, pw = "password", []byte(authValue)
	}

	if len(pw) > MaxPasswordSize {
		return nil, &Error{Form: form, Err: ErrPasswordTooLong}
	}
	return &Session{Kind: Password, Password: pw}, nil
}

func (e *Establisher) readFile(name string) ([]byte, error) {
	if e.ReadFile != nil {
		return e.ReadFile(name)
	}
	return os.ReadFile(name)
}

func (e *Establisher) readPassword(name string) ([]byte, error) {
	if name != "-" {
		return e.readFile(name)
	}

	r := e.Stdin
	if r == nil {
		r = os.Stdin
	}
	b, err := io.ReadAll(io.LimitReader(r, MaxPasswordSize+2))
	if err != nil {
		return nil, fmt.Errorf("failed reading password from stdin: %w", err)
	}
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r")), nil
}

func (e *Establisher) loadSession(ctx context.Context, dev Device, name string) (*Session, error) {
	b, err := e.readFile(name)
	if err != nil {
		return nil, err
	}
	c, err := ctxfile.Parse(b)
	if err != nil {
		return nil, err
	}
	if !handle.Handle(c.SavedHandle).IsSession() {
		return nil, fmt.Errorf("%w: saved handle %s", ErrNotSession, handle.Handle(c.SavedHandle))
	}
	if dev == nil {
		return nil, errors.New("a TPM is required to load a session")
	}

	nh, err := dev.LoadContext(ctx, c)
	if err != nil {
		return nil, err
	}
	return &Session{Kind: Saved, Handle: nh, dev: dev}, nil
}
