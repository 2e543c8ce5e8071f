package core

import (
	"context"
	"fmt"

	"creaturecore/pkg/domain"
)

// IdentifierMonotonicRule requires the counter to stay above every identifier
// created in the transaction.
func IdentifierMonotonicRule() domain.Rule {
	return identifierMonotonicRule{}
}

type identifierMonotonicRule struct{}

func (identifierMonotonicRule) Name() string { return "identifier_monotonic" }

func (identifierMonotonicRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	counter := view.EntityCounter()
	for _, change := range changes {
		if change.Entity != domain.EntityCreature || change.Action != domain.ActionCreate {
			continue
		}
		entity, ok := change.After.(domain.Entity)
		if !ok {
			continue
		}
		if entity.ID >= counter {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "identifier_monotonic",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("entity %d not below counter %d", entity.ID, counter),
				Entity:   domain.EntityCreature,
				EntityID: entity.ID,
			})
		}
	}
	return res, nil
}
