package core

import (
	"context"
	"fmt"

	"creaturecore/pkg/domain"
)

// OwnershipIntegrityRule enforces that every created or rebound creature has
// exactly one owner and appears in that owner's owned list.
func OwnershipIntegrityRule() domain.Rule {
	return ownershipIntegrityRule{}
}

type ownershipIntegrityRule struct{}

func (ownershipIntegrityRule) Name() string { return "ownership_integrity" }

func (ownershipIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := make(map[domain.EntityID]struct{})

	check := func(id domain.EntityID) {
		if _, done := checked[id]; done {
			return
		}
		checked[id] = struct{}{}
		if _, ok := view.FindEntity(id); !ok {
			res.Violations = append(res.Violations, ownershipViolation(id, fmt.Sprintf("owner recorded for missing entity %d", id)))
			return
		}
		owner, ok := view.FindOwner(id)
		if !ok {
			res.Violations = append(res.Violations, ownershipViolation(id, fmt.Sprintf("entity %d has no owner", id)))
			return
		}
		if !containsEntity(view.OwnedEntities(owner), id) {
			res.Violations = append(res.Violations, ownershipViolation(id, fmt.Sprintf("entity %d missing from owned list of account %d", id, owner)))
		}
	}

	for _, change := range changes {
		switch after := change.After.(type) {
		case domain.Entity:
			check(after.ID)
		case domain.Ownership:
			check(after.EntityID)
		}
	}
	return res, nil
}

func ownershipViolation(id domain.EntityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "ownership_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityOwnership,
		EntityID: id,
	}
}

func containsEntity(values []domain.EntityID, id domain.EntityID) bool {
	for _, v := range values {
		if v == id {
			return true
		}
	}
	return false
}
