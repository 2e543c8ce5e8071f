// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by creaturecore.
package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

// EntityID identifies a creature. Identifiers are allocated from a strictly
// increasing counter and never reused.
type EntityID uint32

// MaxEntityID is the representable maximum; the allocator refuses to issue it.
const MaxEntityID EntityID = math.MaxUint32

// AccountID identifies an account acting on or owning creatures.
type AccountID uint64

// Balance is an amount of the collateral currency.
type Balance uint64

// AttributeVectorSize is the fixed length of every attribute vector.
const AttributeVectorSize = 16

// AttributeVector is the derived "genetic" data of a creature.
type AttributeVector [AttributeVectorSize]byte

// String renders the vector as lowercase hex.
func (v AttributeVector) String() string {
	return hex.EncodeToString(v[:])
}

// MarshalJSON encodes the vector as a hex string.
func (v AttributeVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (v *AttributeVector) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode attribute vector: %w", err)
	}
	if len(raw) != AttributeVectorSize {
		return fmt.Errorf("attribute vector must be %d bytes, got %d", AttributeVectorSize, len(raw))
	}
	copy(v[:], raw)
	return nil
}

// EntityType identifies the kind of record touched by a Change.
type EntityType string

// Record kinds captured in Change records and persistence buckets.
const (
	// EntityCreature identifies a creature record in the entity store.
	EntityCreature EntityType = "creature"
	// EntityOwnership identifies an ownership binding.
	EntityOwnership EntityType = "ownership"
	// EntityLineage identifies a genealogy record produced by breeding.
	EntityLineage EntityType = "lineage"
)

// Entity is a stored creature. It is immutable once inserted.
type Entity struct {
	ID  EntityID        `json:"id"`
	DNA AttributeVector `json:"dna"`
}

// ParentPair is the ordered (father, mother) key of a breeding. (a,b) and
// (b,a) are distinct pairs.
type ParentPair struct {
	Father EntityID `json:"father"`
	Mother EntityID `json:"mother"`
}

// String renders the pair as "father:mother"; used as a map key in snapshots.
func (p ParentPair) String() string {
	return fmt.Sprintf("%d:%d", p.Father, p.Mother)
}

// MarshalText implements encoding.TextMarshaler so pairs can key JSON maps.
func (p ParentPair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the "father:mother" form.
func (p *ParentPair) UnmarshalText(text []byte) error {
	var father, mother uint32
	if _, err := fmt.Sscanf(string(text), "%d:%d", &father, &mother); err != nil {
		return fmt.Errorf("parse parent pair %q: %w", string(text), err)
	}
	p.Father = EntityID(father)
	p.Mother = EntityID(mother)
	return nil
}

// Lineage is the genealogy staged for a bred creature.
type Lineage struct {
	Child    EntityID   `json:"child"`
	Parents  ParentPair `json:"parents"`
	Siblings []EntityID `json:"siblings"`
}

// Ownership records an owner binding.
type Ownership struct {
	EntityID EntityID  `json:"entity_id"`
	Owner    AccountID `json:"owner"`
}

// Change describes a mutation staged within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions. Creatures are never deleted so there is no delete action.
const (
	// ActionCreate indicates a record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was rebound or overwritten.
	ActionUpdate Action = "update"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation describes a single rule finding.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID EntityID
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rules: %s: %s", v.Rule, v.Message)
		}
	}
	return "transaction blocked by rules"
}
