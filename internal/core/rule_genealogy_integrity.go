package core

import (
	"context"
	"fmt"

	"creaturecore/pkg/domain"
)

// GenealogyIntegrityRule keeps the parent, children, sibling and partner
// indexes mutually consistent for every breeding staged in a transaction.
func GenealogyIntegrityRule() domain.Rule {
	return genealogyIntegrityRule{}
}

type genealogyIntegrityRule struct{}

func (genealogyIntegrityRule) Name() string { return "genealogy_integrity" }

func (genealogyIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityLineage || change.After == nil {
			continue
		}
		switch after := change.After.(type) {
		case domain.Lineage:
			evaluateLineage(&res, after, view)
		case domain.ParentPair:
			evaluatePartners(&res, after, view)
		}
	}
	return res, nil
}

func genealogyViolation(id domain.EntityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "genealogy_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityLineage,
		EntityID: id,
	}
}

func evaluateLineage(res *domain.Result, lineage domain.Lineage, view domain.TransactionView) {
	child := lineage.Child
	if _, ok := view.FindEntity(child); !ok {
		res.Violations = append(res.Violations, genealogyViolation(child, fmt.Sprintf("lineage recorded for missing entity %d", child)))
		return
	}
	pair, ok := view.FindParents(child)
	if !ok || pair != lineage.Parents {
		res.Violations = append(res.Violations, genealogyViolation(child, fmt.Sprintf("entity %d parent record does not match %s", child, lineage.Parents)))
		return
	}
	if pair.Father == pair.Mother {
		res.Violations = append(res.Violations, genealogyViolation(child, fmt.Sprintf("entity %d lists %d as both parents", child, pair.Father)))
	}
	for _, parent := range []domain.EntityID{pair.Father, pair.Mother} {
		if parent == child {
			res.Violations = append(res.Violations, genealogyViolation(child, fmt.Sprintf("entity %d references itself as a parent", child)))
		}
		if _, ok := view.FindEntity(parent); !ok {
			res.Violations = append(res.Violations, genealogyViolation(child, fmt.Sprintf("entity %d references missing parent %d", child, parent)))
		}
	}
	if !containsEntity(view.Children(pair), child) {
		res.Violations = append(res.Violations, genealogyViolation(child, fmt.Sprintf("entity %d missing from children of %s", child, pair)))
	}
	for _, sibling := range view.Siblings(child) {
		if sibling == child {
			res.Violations = append(res.Violations, genealogyViolation(child, fmt.Sprintf("entity %d lists itself as a sibling", child)))
		}
	}
}

func evaluatePartners(res *domain.Result, pair domain.ParentPair, view domain.TransactionView) {
	a, b := pair.Father, pair.Mother
	if a == b {
		res.Violations = append(res.Violations, genealogyViolation(a, fmt.Sprintf("entity %d partnered with itself", a)))
		return
	}
	for _, id := range []domain.EntityID{a, b} {
		if _, ok := view.FindEntity(id); !ok {
			res.Violations = append(res.Violations, genealogyViolation(id, fmt.Sprintf("partner record for missing entity %d", id)))
		}
	}
	if p, ok := view.FindPartner(a); !ok || p != b {
		res.Violations = append(res.Violations, genealogyViolation(a, fmt.Sprintf("entity %d partner is not %d", a, b)))
	}
	if p, ok := view.FindPartner(b); !ok || p != a {
		res.Violations = append(res.Violations, genealogyViolation(b, fmt.Sprintf("entity %d partner is not %d", b, a)))
	}
}
