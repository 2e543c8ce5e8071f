package core

import "creaturecore/pkg/domain"

// Rule defines an evaluation executed within a transaction boundary.
type Rule = domain.Rule

// RulesEngine orchestrates rule evaluation.
type RulesEngine = domain.RulesEngine

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the registry invariant set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(OwnershipIntegrityRule())
	engine.Register(GenealogyIntegrityRule())
	engine.Register(IdentifierMonotonicRule())
	return engine
}
