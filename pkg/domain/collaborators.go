package domain

import (
	"context"
	"fmt"
)

// CollateralManager locks the creation stake against an account's free
// balance. Releasing a stake held by a live creature is the collaborator's
// own lifecycle.
type CollateralManager interface {
	Reserve(ctx context.Context, account AccountID, amount Balance) error
}

// CollateralReleaser is implemented by managers that can hand a reservation
// back. The registry uses it only when a commit fails after its stake was
// reserved.
type CollateralReleaser interface {
	Unreserve(ctx context.Context, account AccountID, amount Balance) error
}

// RandomnessSource supplies the environment inputs of attribute derivation:
// a beacon value for the current unit of work and a sequence number that
// strictly increases within it.
type RandomnessSource interface {
	Beacon() []byte
	Next() uint32
}

// EventKind tags the variant carried by an Event.
type EventKind string

// Event kinds emitted by the registry.
const (
	EventCreated     EventKind = "created"
	EventTransferred EventKind = "transferred"
)

// Event is a domain event emitted after a command commits. To is only set for
// EventTransferred.
type Event struct {
	Kind     EventKind `json:"kind"`
	Account  AccountID `json:"account"`
	To       AccountID `json:"to,omitempty"`
	EntityID EntityID  `json:"entity_id"`
}

// Created builds a Created(account, id) event.
func Created(account AccountID, id EntityID) Event {
	return Event{Kind: EventCreated, Account: account, EntityID: id}
}

// Transferred builds a Transferred(from, to, id) event.
func Transferred(from, to AccountID, id EntityID) Event {
	return Event{Kind: EventTransferred, Account: from, To: to, EntityID: id}
}

func (e Event) String() string {
	switch e.Kind {
	case EventTransferred:
		return fmt.Sprintf("Transferred(%d, %d, %d)", e.Account, e.To, e.EntityID)
	default:
		return fmt.Sprintf("Created(%d, %d)", e.Account, e.EntityID)
	}
}
