package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable category of a registry failure.
type ErrorKind string

// Registry error kinds. Every kind is a caller-input or resource-state error;
// none is transient, so callers must not retry.
const (
	KindCounterOverflow        ErrorKind = "counter_overflow"
	KindInvalidEntityID        ErrorKind = "invalid_entity_id"
	KindEntityNotFound         ErrorKind = "entity_not_found"
	KindRequireDifferentParent ErrorKind = "require_different_parent"
	KindInsufficientCollateral ErrorKind = "insufficient_collateral"
	KindNotOwner               ErrorKind = "not_owner"
	KindSelfTransfer           ErrorKind = "self_transfer"
)

// RegistryError is returned by registry commands. Two RegistryErrors match
// under errors.Is when their kinds are equal, so the package-level sentinels
// can be used as targets.
type RegistryError struct {
	Kind     ErrorKind
	EntityID EntityID
	Account  AccountID
	Cause    error
}

func (e *RegistryError) Error() string {
	var msg string
	switch e.Kind {
	case KindCounterOverflow:
		msg = "entity identifier space exhausted"
	case KindInvalidEntityID:
		msg = fmt.Sprintf("invalid entity id %d", e.EntityID)
	case KindEntityNotFound:
		msg = fmt.Sprintf("entity %d not found", e.EntityID)
	case KindRequireDifferentParent:
		msg = fmt.Sprintf("entity %d cannot breed with itself", e.EntityID)
	case KindInsufficientCollateral:
		msg = fmt.Sprintf("account %d cannot cover the creation stake", e.Account)
	case KindNotOwner:
		msg = fmt.Sprintf("account %d does not own entity %d", e.Account, e.EntityID)
	case KindSelfTransfer:
		msg = fmt.Sprintf("account %d cannot transfer entity %d to itself", e.Account, e.EntityID)
	default:
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the collaborator error that caused the failure, if any.
func (e *RegistryError) Unwrap() error { return e.Cause }

// Is reports whether target is a RegistryError of the same kind.
func (e *RegistryError) Is(target error) bool {
	t, ok := target.(*RegistryError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrCounterOverflow        = &RegistryError{Kind: KindCounterOverflow}
	ErrInvalidEntityID        = &RegistryError{Kind: KindInvalidEntityID}
	ErrEntityNotFound         = &RegistryError{Kind: KindEntityNotFound}
	ErrRequireDifferentParent = &RegistryError{Kind: KindRequireDifferentParent}
	ErrInsufficientCollateral = &RegistryError{Kind: KindInsufficientCollateral}
	ErrNotOwner               = &RegistryError{Kind: KindNotOwner}
	ErrSelfTransfer           = &RegistryError{Kind: KindSelfTransfer}
)

// KindOf extracts the error kind, returning "" for foreign errors.
func KindOf(err error) ErrorKind {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
