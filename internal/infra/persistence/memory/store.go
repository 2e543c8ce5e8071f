// Package memory provides an in-memory implementation of the registry
// persistence store used for tests, ephemeral environments and as the
// transactional core of the durable backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"creaturecore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Entity aliases domain.Entity for in-memory persistence operations.
	Entity = domain.Entity
	// EntityID aliases domain.EntityID.
	EntityID = domain.EntityID
	// AccountID aliases domain.AccountID.
	AccountID = domain.AccountID
	// ParentPair aliases domain.ParentPair.
	ParentPair = domain.ParentPair
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// memoryState is the arena of creatures plus the index maps over it. Index
// values are identifiers only; nothing holds a reference to another record.
type memoryState struct {
	counter  EntityID
	entities map[EntityID]Entity
	owners   map[EntityID]AccountID
	owned    map[AccountID][]EntityID
	parents  map[EntityID]ParentPair
	children map[ParentPair][]EntityID
	siblings map[EntityID][]EntityID
	partners map[EntityID]EntityID
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Counter  EntityID                  `json:"counter"`
	Entities map[EntityID]Entity       `json:"entities"`
	Owners   map[EntityID]AccountID    `json:"owners"`
	Owned    map[AccountID][]EntityID  `json:"owned"`
	Parents  map[EntityID]ParentPair   `json:"parents"`
	Children map[ParentPair][]EntityID `json:"children"`
	Siblings map[EntityID][]EntityID   `json:"siblings"`
	Partners map[EntityID]EntityID     `json:"partners"`
}

func newMemoryState() memoryState {
	return memoryState{
		entities: make(map[EntityID]Entity),
		owners:   make(map[EntityID]AccountID),
		owned:    make(map[AccountID][]EntityID),
		parents:  make(map[EntityID]ParentPair),
		children: make(map[ParentPair][]EntityID),
		siblings: make(map[EntityID][]EntityID),
		partners: make(map[EntityID]EntityID),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Counter:  cloned.counter,
		Entities: cloned.entities,
		Owners:   cloned.owners,
		Owned:    cloned.owned,
		Parents:  cloned.parents,
		Children: cloned.children,
		Siblings: cloned.siblings,
		Partners: cloned.partners,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		counter:  s.Counter,
		entities: s.Entities,
		owners:   s.Owners,
		owned:    s.Owned,
		parents:  s.Parents,
		children: s.Children,
		siblings: s.Siblings,
		partners: s.Partners,
	}.clone()
}

// migrateSnapshot normalizes an imported snapshot: missing maps become empty,
// index entries pointing at unknown creatures are dropped, and the counter is
// lifted above every stored identifier so no id can be issued twice.
//
//nolint:gocyclo // one pass per index
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Entities == nil {
		snapshot.Entities = map[EntityID]Entity{}
	}
	if snapshot.Owners == nil {
		snapshot.Owners = map[EntityID]AccountID{}
	}
	if snapshot.Owned == nil {
		snapshot.Owned = map[AccountID][]EntityID{}
	}
	if snapshot.Parents == nil {
		snapshot.Parents = map[EntityID]ParentPair{}
	}
	if snapshot.Children == nil {
		snapshot.Children = map[ParentPair][]EntityID{}
	}
	if snapshot.Siblings == nil {
		snapshot.Siblings = map[EntityID][]EntityID{}
	}
	if snapshot.Partners == nil {
		snapshot.Partners = map[EntityID]EntityID{}
	}

	exists := func(id EntityID) bool {
		_, ok := snapshot.Entities[id]
		return ok
	}

	for id, entity := range snapshot.Entities {
		if entity.ID != id {
			entity.ID = id
			snapshot.Entities[id] = entity
		}
		if id >= snapshot.Counter {
			if id == domain.MaxEntityID {
				snapshot.Counter = domain.MaxEntityID
			} else {
				snapshot.Counter = id + 1
			}
		}
	}
	for id := range snapshot.Owners {
		if !exists(id) {
			delete(snapshot.Owners, id)
		}
	}
	for account, ids := range snapshot.Owned {
		if filtered, changed := filterIDs(ids, exists); changed {
			if len(filtered) == 0 {
				delete(snapshot.Owned, account)
				continue
			}
			snapshot.Owned[account] = filtered
		}
	}
	for child, pair := range snapshot.Parents {
		if !exists(child) || !exists(pair.Father) || !exists(pair.Mother) {
			delete(snapshot.Parents, child)
		}
	}
	for pair, ids := range snapshot.Children {
		if !exists(pair.Father) || !exists(pair.Mother) {
			delete(snapshot.Children, pair)
			continue
		}
		if filtered, changed := filterIDs(ids, exists); changed {
			snapshot.Children[pair] = filtered
		}
	}
	for id, ids := range snapshot.Siblings {
		if !exists(id) {
			delete(snapshot.Siblings, id)
			continue
		}
		if filtered, changed := filterIDs(ids, exists); changed {
			snapshot.Siblings[id] = filtered
		}
	}
	for id, partner := range snapshot.Partners {
		if !exists(id) || !exists(partner) || id == partner {
			delete(snapshot.Partners, id)
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.counter = s.counter
	for k, v := range s.entities {
		cloned.entities[k] = v
	}
	for k, v := range s.owners {
		cloned.owners[k] = v
	}
	for k, v := range s.owned {
		cloned.owned[k] = cloneIDs(v)
	}
	for k, v := range s.parents {
		cloned.parents[k] = v
	}
	for k, v := range s.children {
		cloned.children[k] = cloneIDs(v)
	}
	for k, v := range s.siblings {
		cloned.siblings[k] = cloneIDs(v)
	}
	for k, v := range s.partners {
		cloned.partners[k] = v
	}
	return cloned
}

func cloneIDs(ids []EntityID) []EntityID {
	return append([]EntityID(nil), ids...)
}

func containsID(values []EntityID, id EntityID) bool {
	for _, existing := range values {
		if existing == id {
			return true
		}
	}
	return false
}

func filterIDs(values []EntityID, exists func(EntityID) bool) ([]EntityID, bool) {
	if len(values) == 0 {
		return nil, false
	}
	out := make([]EntityID, 0, len(values))
	seen := make(map[EntityID]struct{}, len(values))
	changed := false
	for _, v := range values {
		if _, ok := seen[v]; ok {
			changed = true
			continue
		}
		seen[v] = struct{}{}
		if !exists(v) {
			changed = true
			continue
		}
		out = append(out, v)
	}
	if !changed {
		return values, false
	}
	return out, true
}

// Store provides an in-memory transactional store for the registry.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	commit CommitHook
}

// CommitHook receives the staged state of a transaction after every gate has
// passed. A non-nil error aborts the commit.
type CommitHook func(ctx context.Context, staged Snapshot) error

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// OnCommit installs hook as the last step before a transaction is swapped in.
func (s *Store) OnCommit(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit = hook
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// transaction represents a mutation set applied to a private copy of the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	gates   []func(context.Context) error
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// EntityCounter returns the next identifier the allocator would issue.
func (v transactionView) EntityCounter() EntityID { return v.state.counter }

// FindEntity looks up a creature.
func (v transactionView) FindEntity(id EntityID) (Entity, bool) {
	e, ok := v.state.entities[id]
	return e, ok
}

// ListEntities returns all creatures ordered by identifier.
func (v transactionView) ListEntities() []Entity {
	out := make([]Entity, 0, len(v.state.entities))
	for _, e := range v.state.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindOwner returns the current owner of a creature.
func (v transactionView) FindOwner(id EntityID) (AccountID, bool) {
	owner, ok := v.state.owners[id]
	return owner, ok
}

// OwnedEntities returns the account's owned list in insertion order.
func (v transactionView) OwnedEntities(account AccountID) []EntityID {
	return cloneIDs(v.state.owned[account])
}

// FindParents returns the (father, mother) pair of a bred creature.
func (v transactionView) FindParents(child EntityID) (ParentPair, bool) {
	pair, ok := v.state.parents[child]
	return pair, ok
}

// Children returns the creatures bred from exactly this ordered pair.
func (v transactionView) Children(pair ParentPair) []EntityID {
	return cloneIDs(v.state.children[pair])
}

// Siblings returns the sibling list computed when id was bred.
func (v transactionView) Siblings(id EntityID) []EntityID {
	return cloneIDs(v.state.siblings[id])
}

// FindPartner returns the creature id was most recently bred with.
func (v transactionView) FindPartner(id EntityID) (EntityID, bool) {
	partner, ok := v.state.partners[id]
	return partner, ok
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy is swapped in only when fn, the rules engine, the BeforeCommit gates
// (in registration order) and finally the commit hook all accept it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	for _, gate := range tx.gates {
		if err := gate(ctx); err != nil {
			return result, err
		}
	}

	if s.commit != nil {
		if err := s.commit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// BeforeCommit registers a gate run after rule evaluation.
func (tx *transaction) BeforeCommit(gate func(ctx context.Context) error) {
	if gate != nil {
		tx.gates = append(tx.gates, gate)
	}
}

// NextEntityID returns the counter value; InsertEntity advances it.
func (tx *transaction) NextEntityID() (EntityID, error) {
	if tx.state.counter == domain.MaxEntityID {
		return 0, &domain.RegistryError{Kind: domain.KindCounterOverflow}
	}
	return tx.state.counter, nil
}

// InsertEntity stores a creature at the current counter value.
func (tx *transaction) InsertEntity(e Entity) (Entity, error) {
	if _, exists := tx.state.entities[e.ID]; exists {
		return Entity{}, fmt.Errorf("entity %d already exists", e.ID)
	}
	next, err := tx.NextEntityID()
	if err != nil {
		return Entity{}, err
	}
	if e.ID != next {
		return Entity{}, fmt.Errorf("entity %d inserted out of sequence, expected %d", e.ID, next)
	}
	tx.state.entities[e.ID] = e
	tx.state.counter = e.ID + 1
	tx.recordChange(Change{Entity: domain.EntityCreature, Action: domain.ActionCreate, After: e})
	return e, nil
}

// SetOwner binds a creature to an account.
func (tx *transaction) SetOwner(id EntityID, owner AccountID) error {
	if _, ok := tx.state.entities[id]; !ok {
		return &domain.RegistryError{Kind: domain.KindEntityNotFound, EntityID: id}
	}
	action := domain.ActionCreate
	var before any
	if prev, ok := tx.state.owners[id]; ok {
		action = domain.ActionUpdate
		before = domain.Ownership{EntityID: id, Owner: prev}
	}
	tx.state.owners[id] = owner
	if !containsID(tx.state.owned[owner], id) {
		tx.state.owned[owner] = append(tx.state.owned[owner], id)
	}
	tx.recordChange(Change{
		Entity: domain.EntityOwnership,
		Action: action,
		Before: before,
		After:  domain.Ownership{EntityID: id, Owner: owner},
	})
	return nil
}

// SetPartners overwrites the partner pointer of both creatures.
func (tx *transaction) SetPartners(a, b EntityID) error {
	for _, id := range []EntityID{a, b} {
		if _, ok := tx.state.entities[id]; !ok {
			return &domain.RegistryError{Kind: domain.KindInvalidEntityID, EntityID: id}
		}
	}
	if a == b {
		return &domain.RegistryError{Kind: domain.KindRequireDifferentParent, EntityID: a}
	}
	tx.state.partners[a] = b
	tx.state.partners[b] = a
	tx.recordChange(Change{Entity: domain.EntityLineage, Action: domain.ActionUpdate, After: domain.ParentPair{Father: a, Mother: b}})
	return nil
}

// RecordBirth writes the genealogy of a bred creature. The child itself may
// still be staged for insertion later in the same transaction; the rules
// engine rejects the commit if it never is.
func (tx *transaction) RecordBirth(child EntityID, parents ParentPair) (domain.Lineage, error) {
	for _, id := range []EntityID{parents.Father, parents.Mother} {
		if _, ok := tx.state.entities[id]; !ok {
			return domain.Lineage{}, &domain.RegistryError{Kind: domain.KindInvalidEntityID, EntityID: id}
		}
	}
	if parents.Father == parents.Mother {
		return domain.Lineage{}, &domain.RegistryError{Kind: domain.KindRequireDifferentParent, EntityID: parents.Father}
	}
	if existing, ok := tx.state.parents[child]; ok {
		return domain.Lineage{}, fmt.Errorf("entity %d already has parents %s", child, existing)
	}
	tx.state.parents[child] = parents
	tx.state.children[parents] = append(tx.state.children[parents], child)

	siblings := make([]EntityID, 0, len(tx.state.children[parents]))
	for _, id := range tx.state.children[parents] {
		if id != child {
			siblings = append(siblings, id)
		}
	}
	tx.state.siblings[child] = siblings

	lineage := domain.Lineage{Child: child, Parents: parents, Siblings: cloneIDs(siblings)}
	tx.recordChange(Change{Entity: domain.EntityLineage, Action: domain.ActionCreate, After: lineage})
	return lineage, nil
}

// FindEntity exposes creature lookup within the transaction scope.
func (tx *transaction) FindEntity(id EntityID) (Entity, bool) {
	e, ok := tx.state.entities[id]
	return e, ok
}

// FindOwner exposes owner lookup within the transaction scope.
func (tx *transaction) FindOwner(id EntityID) (AccountID, bool) {
	owner, ok := tx.state.owners[id]
	return owner, ok
}

// GetEntity returns a committed creature.
func (s *Store) GetEntity(id EntityID) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.entities[id]
	return e, ok
}

// EntityCount returns the committed counter value.
func (s *Store) EntityCount() EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.counter
}
