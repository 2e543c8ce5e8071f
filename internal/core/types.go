package core

import "creaturecore/pkg/domain"

type (
	EntityID           = domain.EntityID
	AccountID          = domain.AccountID
	Balance            = domain.Balance
	AttributeVector    = domain.AttributeVector
	Entity             = domain.Entity
	ParentPair         = domain.ParentPair
	Lineage            = domain.Lineage
	Event              = domain.Event
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

// DefaultCreationStake is the collateral locked per created creature.
const DefaultCreationStake Balance = 5_000
