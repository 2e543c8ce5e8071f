package domain

import "context"

// Transaction exposes the registry mutations that a persistence implementation
// must support within an atomic scope. Writes are staged against a private
// copy of the state and become visible only when the transaction commits.
type Transaction interface {
	Snapshot() TransactionView

	// NextEntityID returns the current counter value without advancing it.
	NextEntityID() (EntityID, error)
	// InsertEntity stores a new creature and advances the counter past its id.
	InsertEntity(Entity) (Entity, error)
	// SetOwner binds id to owner and appends id to owner's owned list if absent.
	SetOwner(id EntityID, owner AccountID) error
	// SetPartners records a and b as each other's current breeding partner.
	SetPartners(a, b EntityID) error
	// RecordBirth records the parent link, appends the child to the pair's
	// children list and recomputes the child's siblings.
	RecordBirth(child EntityID, parents ParentPair) (Lineage, error)

	FindEntity(id EntityID) (Entity, bool)
	FindOwner(id EntityID) (AccountID, bool)

	// BeforeCommit registers a gate that runs after rule evaluation and
	// before the staged state is swapped in. Gates run in registration order;
	// the first failure aborts the transaction.
	BeforeCommit(gate func(ctx context.Context) error)
}

// TransactionView provides read-only access to snapshot data for rules and queries.
type TransactionView interface {
	EntityCounter() EntityID
	FindEntity(id EntityID) (Entity, bool)
	ListEntities() []Entity
	FindOwner(id EntityID) (AccountID, bool)
	OwnedEntities(account AccountID) []EntityID
	FindParents(child EntityID) (ParentPair, bool)
	Children(pair ParentPair) []EntityID
	Siblings(id EntityID) []EntityID
	FindPartner(id EntityID) (EntityID, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
