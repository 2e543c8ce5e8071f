package core_test

import (
	"context"
	"errors"
	"testing"

	"creaturecore/internal/collateral"
	"creaturecore/internal/core"
	"creaturecore/internal/derivation"
	"creaturecore/internal/infra/persistence/memory"
	"creaturecore/pkg/domain"
)

var testBeacon = []byte("test-beacon")

func newTestService(t *testing.T, balances map[domain.AccountID]domain.Balance, opts ...core.Option) (*core.Service, *collateral.Ledger, *core.EventLog) {
	t.Helper()
	ledger := collateral.NewLedger(balances)
	events := core.NewEventLog()
	opts = append([]core.Option{core.WithEventSink(events)}, opts...)
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), ledger, &derivation.FixedSource{BeaconVal: testBeacon}, opts...)
	return svc, ledger, events
}

func mustCreate(t *testing.T, svc *core.Service, caller domain.AccountID) domain.Entity {
	t.Helper()
	e, res, err := svc.Create(context.Background(), caller)
	if err != nil {
		t.Fatalf("create for %d: %v", caller, err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %+v", res.Violations)
	}
	return e
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %q (%v)", kind, got, err)
	}
}

func TestCreateAndBreedRecordsGenealogy(t *testing.T) {
	ctx := context.Background()
	svc, ledger, events := newTestService(t, map[domain.AccountID]domain.Balance{1: 100_000})

	a := mustCreate(t, svc, 1)
	b := mustCreate(t, svc, 1)
	if a.ID != 0 || b.ID != 1 {
		t.Fatalf("expected ids 0 and 1, got %d and %d", a.ID, b.ID)
	}

	child, _, err := svc.Breed(ctx, 1, a.ID, b.ID)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	if child.ID != 2 {
		t.Fatalf("expected child id 2, got %d", child.ID)
	}

	pair, ok, err := svc.Parents(ctx, child.ID)
	if err != nil || !ok {
		t.Fatalf("parents lookup failed: ok=%v err=%v", ok, err)
	}
	if pair != (domain.ParentPair{Father: 0, Mother: 1}) {
		t.Fatalf("unexpected parents %s", pair)
	}
	children, err := svc.Children(ctx, pair)
	if err != nil || len(children) != 1 || children[0] != child.ID {
		t.Fatalf("unexpected children %v err=%v", children, err)
	}
	if reversed, _ := svc.Children(ctx, domain.ParentPair{Father: 1, Mother: 0}); len(reversed) != 0 {
		t.Fatalf("reversed pair must be a distinct key, got %v", reversed)
	}
	for _, tc := range []struct{ id, want domain.EntityID }{{0, 1}, {1, 0}} {
		partner, ok, err := svc.Partner(ctx, tc.id)
		if err != nil || !ok || partner != tc.want {
			t.Fatalf("partner of %d: got %d ok=%v err=%v", tc.id, partner, ok, err)
		}
	}
	if sibs, _ := svc.Siblings(ctx, child.ID); len(sibs) != 0 {
		t.Fatalf("first child should have no siblings, got %v", sibs)
	}
	if _, ok, _ := svc.Parents(ctx, a.ID); ok {
		t.Fatalf("created creature must not have parents")
	}

	count, err := svc.EntityCount(ctx)
	if err != nil || count != 3 {
		t.Fatalf("expected count 3, got %d err=%v", count, err)
	}
	owned, _ := svc.OwnedEntities(ctx, 1)
	if len(owned) != 3 || owned[0] != 0 || owned[1] != 1 || owned[2] != 2 {
		t.Fatalf("unexpected owned list %v", owned)
	}

	reservations := ledger.Reservations()
	if len(reservations) != 3 {
		t.Fatalf("expected 3 reservations, got %d", len(reservations))
	}
	for _, r := range reservations {
		if r.Account != 1 || r.Amount != core.DefaultCreationStake {
			t.Fatalf("unexpected reservation %+v", r)
		}
	}

	got := events.Events()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev != domain.Created(1, domain.EntityID(i)) {
			t.Fatalf("event %d: got %s", i, ev)
		}
	}
}

func TestBreedSecondChildListsEarlierSiblings(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, map[domain.AccountID]domain.Balance{1: 100_000})
	mustCreate(t, svc, 1)
	mustCreate(t, svc, 1)

	first, _, err := svc.Breed(ctx, 1, 0, 1)
	if err != nil {
		t.Fatalf("first breed: %v", err)
	}
	second, _, err := svc.Breed(ctx, 1, 0, 1)
	if err != nil {
		t.Fatalf("second breed: %v", err)
	}
	sibs, _ := svc.Siblings(ctx, second.ID)
	if len(sibs) != 1 || sibs[0] != first.ID {
		t.Fatalf("expected siblings [%d], got %v", first.ID, sibs)
	}
	if earlier, _ := svc.Siblings(ctx, first.ID); len(earlier) != 0 {
		t.Fatalf("earlier sibling list must not be rewritten, got %v", earlier)
	}
	children, _ := svc.Children(ctx, domain.ParentPair{Father: 0, Mother: 1})
	if len(children) != 2 || children[0] != first.ID || children[1] != second.ID {
		t.Fatalf("unexpected children %v", children)
	}

	reversed, _, err := svc.Breed(ctx, 1, 1, 0)
	if err != nil {
		t.Fatalf("reversed breed: %v", err)
	}
	if sibs, _ := svc.Siblings(ctx, reversed.ID); len(sibs) != 0 {
		t.Fatalf("reversed pair has its own children list, got siblings %v", sibs)
	}

	g, err := svc.Genealogy(ctx, 0)
	if err != nil {
		t.Fatalf("genealogy: %v", err)
	}
	if g.Partner == nil || *g.Partner != 1 {
		t.Fatalf("unexpected partner %v", g.Partner)
	}
	if len(g.Offspring) != 3 {
		t.Fatalf("expected offspring across both pair orders, got %v", g.Offspring)
	}
	g, err = svc.Genealogy(ctx, second.ID)
	if err != nil {
		t.Fatalf("child genealogy: %v", err)
	}
	if g.Parents == nil || g.Parents.Father != 0 || g.Parents.Mother != 1 || len(g.Siblings) != 1 {
		t.Fatalf("unexpected child genealogy %+v", g)
	}
	if _, err := svc.Genealogy(ctx, 42); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("expected not found for unknown creature, got %v", err)
	}
}

func TestBreedDerivesChildFromParentsAndSelector(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, map[domain.AccountID]domain.Balance{7: 100_000})
	a := mustCreate(t, svc, 7)
	b := mustCreate(t, svc, 7)

	if a.DNA != derivation.SeedVector(testBeacon, 7, 0) || b.DNA != derivation.SeedVector(testBeacon, 7, 1) {
		t.Fatalf("created vectors do not match the seed derivation")
	}
	child, _, err := svc.Breed(ctx, 7, a.ID, b.ID)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	want := derivation.Combine(a.DNA, b.DNA, derivation.SeedVector(testBeacon, 7, 2))
	if child.DNA != want {
		t.Fatalf("child dna %s, want %s", child.DNA, want)
	}
	stored, err := svc.Entity(ctx, child.ID)
	if err != nil || stored.DNA != want {
		t.Fatalf("stored child mismatch: %+v err=%v", stored, err)
	}
}

func TestIdenticalInputsReplayIdentically(t *testing.T) {
	ctx := context.Background()
	run := func() []domain.Entity {
		ledger := collateral.NewLedger(map[domain.AccountID]domain.Balance{1: 100_000})
		svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), ledger, derivation.NewSequencedBeacon([]byte("replay")))
		mustCreate(t, svc, 1)
		mustCreate(t, svc, 1)
		if _, _, err := svc.Breed(ctx, 1, 0, 1); err != nil {
			t.Fatalf("breed: %v", err)
		}
		all, err := svc.Entities(ctx)
		if err != nil {
			t.Fatalf("entities: %v", err)
		}
		return all
	}
	first, second := run(), run()
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("unexpected entity counts %d/%d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("entity %d diverged: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestInsufficientCollateralLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	svc, ledger, events := newTestService(t, map[domain.AccountID]domain.Balance{1: 12_000})
	mustCreate(t, svc, 1)
	mustCreate(t, svc, 1)

	_, _, err := svc.Create(ctx, 1)
	requireKind(t, err, domain.KindInsufficientCollateral)
	if !errors.Is(err, collateral.ErrInsufficientBalance) {
		t.Fatalf("collaborator cause should be preserved, got %v", err)
	}

	_, _, err = svc.Breed(ctx, 1, 0, 1)
	requireKind(t, err, domain.KindInsufficientCollateral)

	if count, _ := svc.EntityCount(ctx); count != 2 {
		t.Fatalf("counter advanced on failure: %d", count)
	}
	if owned, _ := svc.OwnedEntities(ctx, 1); len(owned) != 2 {
		t.Fatalf("owned list changed on failure: %v", owned)
	}
	if _, ok, _ := svc.Partner(ctx, 0); ok {
		t.Fatalf("partner recorded for failed breed")
	}
	if children, _ := svc.Children(ctx, domain.ParentPair{Father: 0, Mother: 1}); len(children) != 0 {
		t.Fatalf("children recorded for failed breed: %v", children)
	}
	if events.Len() != 2 {
		t.Fatalf("failed commands must not emit events, got %d", events.Len())
	}
	if acct := ledger.Account(1); acct.Free != 2_000 || acct.Reserved != 10_000 {
		t.Fatalf("unexpected balances %+v", acct)
	}
}

type offlineCollateral struct{ calls int }

var errLedgerOffline = errors.New("ledger offline")

func (o *offlineCollateral) Reserve(context.Context, domain.AccountID, domain.Balance) error {
	o.calls++
	return errLedgerOffline
}

func TestCollateralFailureMapsToInsufficientCollateral(t *testing.T) {
	offline := &offlineCollateral{}
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), offline, &derivation.FixedSource{})
	_, _, err := svc.Create(context.Background(), 3)
	requireKind(t, err, domain.KindInsufficientCollateral)
	if !errors.Is(err, errLedgerOffline) {
		t.Fatalf("expected wrapped collaborator error, got %v", err)
	}
	var re *domain.RegistryError
	if !errors.As(err, &re) || re.Account != 3 {
		t.Fatalf("expected account 3 on error, got %+v", re)
	}
	if offline.calls != 1 {
		t.Fatalf("expected a single reserve attempt, got %d", offline.calls)
	}
}

func TestCreationStakeOption(t *testing.T) {
	svc, ledger, _ := newTestService(t, map[domain.AccountID]domain.Balance{1: 10}, core.WithCreationStake(3))
	if svc.CreationStake() != 3 {
		t.Fatalf("expected stake 3, got %d", svc.CreationStake())
	}
	for i := 0; i < 3; i++ {
		mustCreate(t, svc, 1)
	}
	_, _, err := svc.Create(context.Background(), 1)
	requireKind(t, err, domain.KindInsufficientCollateral)
	if acct := ledger.Account(1); acct.Free != 1 || acct.Reserved != 9 {
		t.Fatalf("unexpected balances %+v", acct)
	}
}

func TestTransferRebindsOwnerAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	svc, ledger, events := newTestService(t, map[domain.AccountID]domain.Balance{1: 100_000})
	mustCreate(t, svc, 1)
	mustCreate(t, svc, 1)
	reserved := len(ledger.Reservations())

	if _, err := svc.Transfer(ctx, 1, 2, 0); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if owner, err := svc.Owner(ctx, 0); err != nil || owner != 2 {
		t.Fatalf("expected owner 2, got %d err=%v", owner, err)
	}
	owned, _ := svc.OwnedEntities(ctx, 1)
	if len(owned) != 2 || owned[0] != 0 {
		t.Fatalf("sender owned list must keep history, got %v", owned)
	}
	holdings, _ := svc.Holdings(ctx, 1)
	if len(holdings) != 1 || holdings[0] != 1 {
		t.Fatalf("unexpected sender holdings %v", holdings)
	}
	if recv, _ := svc.OwnedEntities(ctx, 2); len(recv) != 1 || recv[0] != 0 {
		t.Fatalf("unexpected receiver owned list %v", recv)
	}

	_, err := svc.Transfer(ctx, 1, 3, 0)
	requireKind(t, err, domain.KindNotOwner)

	if _, err := svc.Transfer(ctx, 2, 1, 0); err != nil {
		t.Fatalf("transfer back: %v", err)
	}
	if owned, _ := svc.OwnedEntities(ctx, 1); len(owned) != 2 {
		t.Fatalf("transfer back must not duplicate the owned entry, got %v", owned)
	}

	_, err = svc.Transfer(ctx, 1, 1, 1)
	requireKind(t, err, domain.KindSelfTransfer)
	_, err = svc.Transfer(ctx, 1, 2, 99)
	requireKind(t, err, domain.KindEntityNotFound)

	if len(ledger.Reservations()) != reserved {
		t.Fatalf("transfer must not reserve collateral")
	}
	got := events.Events()
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	if got[2] != domain.Transferred(1, 2, 0) || got[3] != domain.Transferred(2, 1, 0) {
		t.Fatalf("unexpected transfer events %s, %s", got[2], got[3])
	}
}

func TestBreedValidationOrder(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _ := newTestService(t, map[domain.AccountID]domain.Balance{1: 100_000, 2: 100_000})
	mustCreate(t, svc, 1)
	mustCreate(t, svc, 1)
	mustCreate(t, svc, 2)
	reserved := len(ledger.Reservations())

	cases := []struct {
		name   string
		caller domain.AccountID
		p1, p2 domain.EntityID
		kind   domain.ErrorKind
		entity domain.EntityID
	}{
		{"unknown first parent", 1, 99, 0, domain.KindInvalidEntityID, 99},
		{"unknown second parent", 1, 0, 98, domain.KindInvalidEntityID, 98},
		{"unknown same parent", 1, 97, 97, domain.KindInvalidEntityID, 97},
		{"same parent", 1, 0, 0, domain.KindRequireDifferentParent, 0},
		{"foreign second parent", 1, 0, 2, domain.KindNotOwner, 2},
		{"foreign first parent", 2, 0, 2, domain.KindNotOwner, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Breed(ctx, tc.caller, tc.p1, tc.p2)
			requireKind(t, err, tc.kind)
			var re *domain.RegistryError
			if !errors.As(err, &re) || re.EntityID != tc.entity {
				t.Fatalf("expected entity %d on error, got %+v", tc.entity, re)
			}
		})
	}

	if count, _ := svc.EntityCount(ctx); count != 3 {
		t.Fatalf("rejected breeds changed the counter: %d", count)
	}
	if _, ok, _ := svc.Partner(ctx, 0); ok {
		t.Fatalf("rejected breeds recorded a partner")
	}
	if len(ledger.Reservations()) != reserved {
		t.Fatalf("rejected breeds reserved collateral")
	}
}

func TestCounterOverflowRejectsCreation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	store.ImportState(memory.Snapshot{
		Counter:  domain.MaxEntityID,
		Entities: map[domain.EntityID]domain.Entity{0: {ID: 0}, 1: {ID: 1}},
		Owners:   map[domain.EntityID]domain.AccountID{0: 1, 1: 1},
		Owned:    map[domain.AccountID][]domain.EntityID{1: {0, 1}},
	})
	ledger := collateral.NewLedger(map[domain.AccountID]domain.Balance{1: 100_000})
	svc := core.NewService(store, ledger, &derivation.FixedSource{})

	_, _, err := svc.Create(ctx, 1)
	requireKind(t, err, domain.KindCounterOverflow)
	_, _, err = svc.Breed(ctx, 1, 0, 1)
	requireKind(t, err, domain.KindCounterOverflow)

	if store.EntityCount() != domain.MaxEntityID {
		t.Fatalf("counter moved: %d", store.EntityCount())
	}
	if len(ledger.Reservations()) != 0 {
		t.Fatalf("overflow must not reserve collateral")
	}
	if _, ok, _ := svc.Partner(ctx, 0); ok {
		t.Fatalf("overflowing breed recorded a partner")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block_everything" }

func (blockingRule) Evaluate(context.Context, domain.TransactionView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block_everything", Severity: domain.SeverityBlock, Message: "no"}}}, nil
}

func TestBlockingRuleSkipsCollateralReservation(t *testing.T) {
	engine := core.NewDefaultRulesEngine()
	engine.Register(blockingRule{})
	ledger := collateral.NewLedger(map[domain.AccountID]domain.Balance{1: 100_000})
	svc := core.NewInMemoryService(engine, ledger, &derivation.FixedSource{})

	_, res, err := svc.Create(context.Background(), 1)
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	if len(ledger.Reservations()) != 0 {
		t.Fatalf("collateral reserved for a blocked transaction")
	}
	if store, ok := svc.Store().(*memory.Store); !ok || store.EntityCount() != 0 {
		t.Fatalf("blocked create must not advance the counter")
	}
}

func TestQueriesOnUnknownCreature(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.Entity(ctx, 5); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Owner(ctx, 5); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if owned, err := svc.OwnedEntities(ctx, 9); err != nil || len(owned) != 0 {
		t.Fatalf("unknown account should own nothing, got %v err=%v", owned, err)
	}
	if sibs, err := svc.Siblings(ctx, 5); err != nil || len(sibs) != 0 {
		t.Fatalf("unexpected siblings %v err=%v", sibs, err)
	}
}

func TestSnapshotExportsCommittedState(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, map[domain.AccountID]domain.Balance{1: 100_000})
	mustCreate(t, svc, 1)
	mustCreate(t, svc, 1)
	if _, _, err := svc.Breed(ctx, 1, 0, 1); err != nil {
		t.Fatalf("breed: %v", err)
	}
	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Counter != 3 || len(snap.Entities) != 3 || snap.Partners[0] != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	wrapped := core.NewService(viewOnlyStore{svc.Store()}, collateral.NewLedger(nil), &derivation.FixedSource{})
	if _, err := wrapped.Snapshot(ctx); !errors.Is(err, core.ErrSnapshotUnsupported) {
		t.Fatalf("expected ErrSnapshotUnsupported, got %v", err)
	}
}

type viewOnlyStore struct {
	domain.PersistentStore
}
