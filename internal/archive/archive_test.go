package archive

import (
	"context"
	"errors"
	"strings"
	"testing"

	"creaturecore/internal/blob"
	"creaturecore/internal/infra/persistence/memory"
	"creaturecore/pkg/domain"
)

func snapshotWith(counter domain.EntityID, owner domain.AccountID) memory.Snapshot {
	s := memory.Snapshot{
		Counter:  counter,
		Entities: map[domain.EntityID]domain.Entity{},
		Owners:   map[domain.EntityID]domain.AccountID{},
		Owned:    map[domain.AccountID][]domain.EntityID{},
	}
	for id := domain.EntityID(0); id < counter; id++ {
		s.Entities[id] = domain.Entity{ID: id, DNA: domain.AttributeVector{byte(id)}}
		s.Owners[id] = owner
		s.Owned[owner] = append(s.Owned[owner], id)
	}
	return s
}

func TestSaveIsIdempotentForIdenticalState(t *testing.T) {
	a := New(blob.NewMemory())
	ctx := context.Background()
	first, err := a.Save(ctx, snapshotWith(2, 1))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := a.Save(ctx, snapshotWith(2, 1))
	if err != nil {
		t.Fatalf("save again: %v", err)
	}
	if first.Key != second.Key {
		t.Fatalf("expected identical key, got %s and %s", first.Key, second.Key)
	}
	if !strings.HasPrefix(first.Key, "snapshots/0000000002-") {
		t.Fatalf("unexpected key %s", first.Key)
	}
	infos, _ := a.List(ctx)
	if len(infos) != 1 {
		t.Fatalf("expected single archived object, got %d", len(infos))
	}
}

func TestLatestPicksHighestCounter(t *testing.T) {
	a := New(blob.NewMemory())
	ctx := context.Background()
	for _, c := range []domain.EntityID{9, 10, 2} {
		if _, err := a.Save(ctx, snapshotWith(c, 1)); err != nil {
			t.Fatalf("save %d: %v", c, err)
		}
	}
	snap, info, err := a.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap.Counter != 10 || info.Metadata["counter"] != "10" {
		t.Fatalf("expected counter 10, got %d (%+v)", snap.Counter, info)
	}
}

func TestRestoreImportsIntoStore(t *testing.T) {
	a := New(blob.NewMemory())
	ctx := context.Background()
	if _, err := a.Save(ctx, snapshotWith(3, 7)); err != nil {
		t.Fatalf("save: %v", err)
	}
	store := memory.NewStore(nil)
	if _, err := a.Restore(ctx, store); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if store.EntityCount() != 3 {
		t.Fatalf("expected counter 3, got %d", store.EntityCount())
	}
	if e, ok := store.GetEntity(2); !ok || e.DNA[0] != 2 {
		t.Fatalf("expected entity 2 restored, got %+v ok=%v", e, ok)
	}
}

func TestLatestOnEmptyArchive(t *testing.T) {
	a := New(blob.NewMemory())
	if _, _, err := a.Latest(context.Background()); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("expected ErrNoSnapshots, got %v", err)
	}
}
