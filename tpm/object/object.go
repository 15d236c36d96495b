// Package object resolves the identifiers accepted by tpm2-tools for TPM
// objects (a saved context file, a TSS2 PRIVATE KEY file or a handle) into
// an object that can be used with the TPM.
package object

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-tpm/tpm2"

	"go.step.sm/tpmobject/tpm/auth"
	"go.step.sm/tpmobject/tpm/blob"
	"go.step.sm/tpmobject/tpm/handle"
	"go.step.sm/tpmobject/tpm/primary"
	"go.step.sm/tpmobject/tpm/tss2"
)

//go:generate mockgen -package mock -mock_names=Device=Device -destination ../internal/mock/device.go go.step.sm/tpmobject/tpm/object Device

// Device is the subset of TPM commands used by the [Resolver].
type Device interface {
	primary.Device
	auth.Device
	TranslateHandle(ctx context.Context, h tpm2.TPMHandle) (tpm2.NamedHandle, error)
}

// Strategy is the way an identifier was interpreted.
type Strategy int

const (
	// StrategyNone is used for errors that happen before any strategy is
	// tried.
	StrategyNone Strategy = iota
	// StrategyContextFile loads a tpm2-tools context file.
	StrategyContextFile
	// StrategyLoadableKey parses a TSS2 PRIVATE KEY file and resolves its
	// parent.
	StrategyLoadableKey
	// StrategyHandle parses a handle or hierarchy name.
	StrategyHandle
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyContextFile:
		return "context file"
	case StrategyLoadableKey:
		return "loadable key"
	case StrategyHandle:
		return "handle"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// LoadedObject is a resolved identifier.
//
// For context files Handle is [handle.TransientFirst] and TransportHandle
// is the loaded object. For loadable keys TransportHandle is the parent,
// which the caller uses to load Public and Private. For handles Path is
// empty.
type LoadedObject struct {
	Handle          handle.Handle
	TransportHandle tpm2.NamedHandle
	Path            string
	Strategy        Strategy

	// Session is the authorization established for the object. It is owned
	// by the caller, who must close it.
	Session *auth.Session

	Key     *tss2.TPMKey
	Public  *blob.Public
	Private *blob.Private

	// Ephemeral is set when the parent is a primary key created for this
	// object. It is not flushed by this package.
	Ephemeral bool
	Hierarchy handle.Handle
	Algorithm primary.Algorithm
}

var (
	// ErrEmptyIdentifier is returned when the identifier is empty.
	ErrEmptyIdentifier = errors.New("identifier cannot be empty")
	// ErrUnrecognized is returned when an identifier is neither a readable
	// file nor a handle.
	ErrUnrecognized = errors.New("cannot interpret identifier")
)

// Error is returned when an identifier cannot be resolved. Strategy and Step
// locate the failure. ContextErr records why a file was not loaded as a
// context file before it was parsed as a loadable key.
type Error struct {
	Identifier string
	Strategy   Strategy
	Step       string
	Err        error
	ContextErr error

	retryable bool
}

func (e *Error) Error() string {
	if e.Strategy == StrategyNone {
		return fmt.Sprintf("failed resolving %q: %s: %v", e.Identifier, e.Step, e.Err)
	}
	return fmt.Sprintf("failed resolving %q as %s: %s: %v", e.Identifier, e.Strategy, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure came from the TPM, in which case
// the whole resolution may be retried.
func (e *Error) Retryable() bool {
	return e.retryable
}
