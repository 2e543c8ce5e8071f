package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"creaturecore/internal/derivation"
	"creaturecore/internal/infra/persistence/memory"
	"creaturecore/pkg/domain"
)

// Operation names used for logging, metrics and tracing.
const (
	OpCreate   = "create"
	OpTransfer = "transfer"
	OpBreed    = "breed"
)

// Service is the registry: it validates commands, stages their writes in a
// single store transaction, gates the commit on the collateral reservation
// and emits events once the transaction is visible.
type Service struct {
	store      domain.PersistentStore
	collateral domain.CollateralManager
	derivation *derivation.Engine
	stake      Balance

	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	events  EventSink
}

// NewService constructs a service backed by the supplied store, collateral
// manager and randomness source.
func NewService(store domain.PersistentStore, collateral domain.CollateralManager, randomness domain.RandomnessSource, opts ...Option) *Service {
	svc := &Service{
		store:      store,
		collateral: collateral,
		derivation: derivation.NewEngine(randomness),
		stake:      DefaultCreationStake,
		logger:     noopLogger{},
		clock:      ClockFunc(func() time.Time { return time.Now().UTC() }),
		metrics:    noopMetricsRecorder{},
		tracer:     noopTracer{},
		events:     NewEventLog(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, collateral domain.CollateralManager, randomness domain.RandomnessSource, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), collateral, randomness, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Events returns the configured event sink.
func (s *Service) Events() EventSink {
	return s.events
}

// CreationStake returns the collateral locked per created creature.
func (s *Service) CreationStake() Balance {
	return s.stake
}

func (s *Service) run(ctx context.Context, op string, fn func(domain.Transaction) error) (Result, error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	res, err := s.store.RunInTransaction(ctx, fn)
	duration := s.clock.Now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, duration)
	span.End(err)
	if err != nil {
		s.logger.Error("registry operation failed", "operation", op, "error", err, "duration", duration)
		return res, err
	}
	for _, v := range res.Violations {
		s.logger.Warn("registry rule finding", "operation", op, "rule", v.Rule, "severity", v.Severity, "entity_id", v.EntityID, "message", v.Message)
	}
	s.logger.Debug("registry operation committed", "operation", op, "duration", duration)
	return res, nil
}

func (s *Service) emit(ctx context.Context, event Event) {
	s.events.Emit(ctx, event)
	s.logger.Info("registry event", "event", event.String())
}

// stakeHold tracks whether a command's reservation went through.
type stakeHold struct {
	account AccountID
	held    bool
}

// reserveStake registers the collateral reservation as the final gate before
// commit, after every other check of the command has passed. Only the store's
// own commit step runs after it.
func (s *Service) reserveStake(tx domain.Transaction, caller AccountID, hold *stakeHold) {
	tx.BeforeCommit(func(ctx context.Context) error {
		if err := s.collateral.Reserve(ctx, caller, s.stake); err != nil {
			return &domain.RegistryError{Kind: domain.KindInsufficientCollateral, Account: caller, Cause: err}
		}
		hold.account, hold.held = caller, true
		return nil
	})
}

// releaseStake hands back a reservation whose transaction did not commit.
func (s *Service) releaseStake(ctx context.Context, op string, hold *stakeHold) {
	if !hold.held {
		return
	}
	releaser, ok := s.collateral.(domain.CollateralReleaser)
	if !ok {
		s.logger.Warn("collateral stake left reserved", "operation", op, "account", hold.account, "amount", s.stake)
		return
	}
	if err := releaser.Unreserve(ctx, hold.account, s.stake); err != nil {
		s.logger.Error("release collateral stake", "operation", op, "account", hold.account, "amount", s.stake, "error", err)
		return
	}
	hold.held = false
	s.logger.Info("collateral stake released", "operation", op, "account", hold.account, "amount", s.stake)
}

func (s *Service) derive(op string, caller AccountID) AttributeVector {
	dna, seq := s.derivation.Derive(caller)
	s.logger.Debug("attributes derived", "operation", op, "account", caller, "sequence", seq)
	return dna
}

// Create mints a creature with a freshly derived attribute vector for caller.
func (s *Service) Create(ctx context.Context, caller AccountID) (Entity, Result, error) {
	var created Entity
	var hold stakeHold
	res, err := s.run(ctx, OpCreate, func(tx domain.Transaction) error {
		id, err := tx.NextEntityID()
		if err != nil {
			return err
		}
		dna := s.derive(OpCreate, caller)
		s.reserveStake(tx, caller, &hold)
		if created, err = tx.InsertEntity(Entity{ID: id, DNA: dna}); err != nil {
			return err
		}
		return tx.SetOwner(id, caller)
	})
	if err != nil {
		s.releaseStake(ctx, OpCreate, &hold)
		return Entity{}, res, err
	}
	s.emit(ctx, domain.Created(caller, created.ID))
	return created, res, nil
}

// Transfer rebinds id from caller to the destination account.
func (s *Service) Transfer(ctx context.Context, caller, to AccountID, id EntityID) (Result, error) {
	res, err := s.run(ctx, OpTransfer, func(tx domain.Transaction) error {
		owner, ok := tx.FindOwner(id)
		if !ok {
			return &domain.RegistryError{Kind: domain.KindEntityNotFound, EntityID: id, Account: caller}
		}
		if owner != caller {
			return &domain.RegistryError{Kind: domain.KindNotOwner, EntityID: id, Account: caller}
		}
		if to == caller {
			return &domain.RegistryError{Kind: domain.KindSelfTransfer, EntityID: id, Account: caller}
		}
		return tx.SetOwner(id, to)
	})
	if err != nil {
		return res, err
	}
	s.emit(ctx, domain.Transferred(caller, to, id))
	return res, nil
}

// Breed creates a child of two creatures owned by caller. The child's
// attribute vector takes each bit from parent1 or parent2 according to a
// freshly derived selector.
func (s *Service) Breed(ctx context.Context, caller AccountID, parent1, parent2 EntityID) (Entity, Result, error) {
	var child Entity
	var hold stakeHold
	res, err := s.run(ctx, OpBreed, func(tx domain.Transaction) error {
		father, ok := tx.FindEntity(parent1)
		if !ok {
			return &domain.RegistryError{Kind: domain.KindInvalidEntityID, EntityID: parent1, Account: caller}
		}
		mother, ok := tx.FindEntity(parent2)
		if !ok {
			return &domain.RegistryError{Kind: domain.KindInvalidEntityID, EntityID: parent2, Account: caller}
		}
		if parent1 == parent2 {
			return &domain.RegistryError{Kind: domain.KindRequireDifferentParent, EntityID: parent1, Account: caller}
		}
		for _, id := range []EntityID{parent1, parent2} {
			if owner, ok := tx.FindOwner(id); !ok || owner != caller {
				return &domain.RegistryError{Kind: domain.KindNotOwner, EntityID: id, Account: caller}
			}
		}

		id, err := tx.NextEntityID()
		if err != nil {
			return err
		}
		if err := tx.SetPartners(parent1, parent2); err != nil {
			return err
		}
		if _, err := tx.RecordBirth(id, ParentPair{Father: parent1, Mother: parent2}); err != nil {
			return err
		}
		dna := derivation.Combine(father.DNA, mother.DNA, s.derive(OpBreed, caller))
		s.reserveStake(tx, caller, &hold)

		if child, err = tx.InsertEntity(Entity{ID: id, DNA: dna}); err != nil {
			return err
		}
		return tx.SetOwner(id, caller)
	})
	if err != nil {
		s.releaseStake(ctx, OpBreed, &hold)
		return Entity{}, res, err
	}
	s.emit(ctx, domain.Created(caller, child.ID))
	return child, res, nil
}

// Genealogy aggregates the genealogy records of one creature.
type Genealogy struct {
	Entity    EntityID    `json:"entity"`
	Parents   *ParentPair `json:"parents,omitempty"`
	Siblings  []EntityID  `json:"siblings,omitempty"`
	Partner   *EntityID   `json:"partner,omitempty"`
	Offspring []EntityID  `json:"offspring,omitempty"`
}

func (s *Service) view(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := s.store.View(ctx, fn); err != nil {
		return fmt.Errorf("registry view: %w", err)
	}
	return nil
}

// Entity returns the stored creature with the given identifier.
func (s *Service) Entity(ctx context.Context, id EntityID) (Entity, error) {
	var out Entity
	err := s.view(ctx, func(v domain.TransactionView) error {
		e, ok := v.FindEntity(id)
		if !ok {
			return &domain.RegistryError{Kind: domain.KindEntityNotFound, EntityID: id}
		}
		out = e
		return nil
	})
	return out, err
}

// Owner returns the current owner of id.
func (s *Service) Owner(ctx context.Context, id EntityID) (AccountID, error) {
	var out AccountID
	err := s.view(ctx, func(v domain.TransactionView) error {
		owner, ok := v.FindOwner(id)
		if !ok {
			return &domain.RegistryError{Kind: domain.KindEntityNotFound, EntityID: id}
		}
		out = owner
		return nil
	})
	return out, err
}

// OwnedEntities returns every creature ever bound to account, in the order it
// was first bound. Transfers away do not retract entries.
func (s *Service) OwnedEntities(ctx context.Context, account AccountID) ([]EntityID, error) {
	var out []EntityID
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = v.OwnedEntities(account)
		return nil
	})
	return out, err
}

// Holdings returns the creatures account currently owns, in owned-list order.
func (s *Service) Holdings(ctx context.Context, account AccountID) ([]EntityID, error) {
	var out []EntityID
	err := s.view(ctx, func(v domain.TransactionView) error {
		for _, id := range v.OwnedEntities(account) {
			if owner, ok := v.FindOwner(id); ok && owner == account {
				out = append(out, id)
			}
		}
		return nil
	})
	return out, err
}

// Parents returns the (father, mother) pair of a bred creature. ok is false
// for creatures minted by Create.
func (s *Service) Parents(ctx context.Context, id EntityID) (pair ParentPair, ok bool, err error) {
	err = s.view(ctx, func(v domain.TransactionView) error {
		pair, ok = v.FindParents(id)
		return nil
	})
	return pair, ok, err
}

// Children returns the creatures bred from exactly the ordered pair.
func (s *Service) Children(ctx context.Context, pair ParentPair) ([]EntityID, error) {
	var out []EntityID
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = v.Children(pair)
		return nil
	})
	return out, err
}

// Siblings returns the sibling list recorded when id was bred.
func (s *Service) Siblings(ctx context.Context, id EntityID) ([]EntityID, error) {
	var out []EntityID
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = v.Siblings(id)
		return nil
	})
	return out, err
}

// Partner returns the creature id was most recently bred with.
func (s *Service) Partner(ctx context.Context, id EntityID) (partner EntityID, ok bool, err error) {
	err = s.view(ctx, func(v domain.TransactionView) error {
		partner, ok = v.FindPartner(id)
		return nil
	})
	return partner, ok, err
}

// EntityCount returns the identifier counter, i.e. the number of creatures issued.
func (s *Service) EntityCount(ctx context.Context) (EntityID, error) {
	var out EntityID
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = v.EntityCounter()
		return nil
	})
	return out, err
}

// Genealogy returns every genealogy record touching id. Offspring lists the
// children id had with its current partner, in either parent order.
func (s *Service) Genealogy(ctx context.Context, id EntityID) (Genealogy, error) {
	out := Genealogy{Entity: id}
	err := s.view(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindEntity(id); !ok {
			return &domain.RegistryError{Kind: domain.KindEntityNotFound, EntityID: id}
		}
		if pair, ok := v.FindParents(id); ok {
			out.Parents = &pair
			out.Siblings = v.Siblings(id)
		}
		if partner, ok := v.FindPartner(id); ok {
			out.Partner = &partner
			out.Offspring = append(v.Children(ParentPair{Father: id, Mother: partner}),
				v.Children(ParentPair{Father: partner, Mother: id})...)
		}
		return nil
	})
	return out, err
}

type stateExporter interface {
	ExportState() memory.Snapshot
}

// ErrSnapshotUnsupported is returned when the configured store cannot export its state.
var ErrSnapshotUnsupported = errors.New("registry store does not support snapshots")

// Snapshot returns a point-in-time copy of the whole registry state.
func (s *Service) Snapshot(_ context.Context) (memory.Snapshot, error) {
	exporter, ok := s.store.(stateExporter)
	if !ok {
		return memory.Snapshot{}, ErrSnapshotUnsupported
	}
	return exporter.ExportState(), nil
}

// Entities returns every stored creature ordered by identifier.
func (s *Service) Entities(ctx context.Context) ([]Entity, error) {
	var out []Entity
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = v.ListEntities()
		return nil
	})
	return out, err
}
