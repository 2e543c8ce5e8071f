package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"

	"creaturecore/internal/archive"
	"creaturecore/internal/blob"
	"creaturecore/internal/collateral"
	"creaturecore/internal/config"
	"creaturecore/internal/core"
	"creaturecore/internal/derivation"
	"creaturecore/internal/infra/persistence/memory"
	"creaturecore/pkg/domain"
)

// Inspection is printed by the inspect command.
type Inspection struct {
	Source      string          `json:"source"`
	EntityCount domain.EntityID `json:"entity_count"`
	Entity      *EntitySummary  `json:"entity,omitempty"`
	Account     *AccountSummary `json:"account,omitempty"`
	Entities    []domain.Entity `json:"entities,omitempty"`
}

type inspectOptions struct {
	entity  string
	account string
	restore bool
	list    bool
}

func inspectCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts inspectOptions
	fs.StringVar(&opts.entity, "entity", "", "creature id to describe")
	fs.StringVar(&opts.account, "account", "", "account id to describe")
	fs.BoolVar(&opts.restore, "restore", false, "read the latest archived snapshot instead of the configured store")
	fs.BoolVar(&opts.list, "list", false, "list every creature")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		return fail(stderr, "config: %v", err)
	}
	out, err := inspect(context.Background(), cfg, opts)
	if err != nil {
		return fail(stderr, "inspect failed: %v", err)
	}
	if err := writeJSON(stdout, out); err != nil {
		return 1
	}
	return 0
}

func openForInspection(ctx context.Context, cfg config.Config, restore bool) (core.PersistentStore, string, func(), error) {
	if restore {
		bs, err := blob.Open(ctx, cfg.Blob())
		if err != nil {
			return nil, "", nil, fmt.Errorf("open blob store: %w", err)
		}
		store := memory.NewStore(core.NewDefaultRulesEngine())
		info, err := archive.New(bs).Restore(ctx, store)
		if err != nil {
			return nil, "", nil, err
		}
		return store, "archive:" + info.Key, func() {}, nil
	}
	store, err := core.OpenPersistentStore(ctx, core.StorageConfig{
		Driver:      core.StorageDriver(cfg.StorageDriver),
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	}, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, "", nil, fmt.Errorf("open store: %w", err)
	}
	closeFn := func() {}
	if closer, ok := store.(io.Closer); ok {
		closeFn = func() { _ = closer.Close() }
	}
	return store, "store:" + cfg.StorageDriver, closeFn, nil
}

func inspect(ctx context.Context, cfg config.Config, opts inspectOptions) (Inspection, error) {
	store, source, closeFn, err := openForInspection(ctx, cfg, opts.restore)
	if err != nil {
		return Inspection{}, err
	}
	defer closeFn()

	// Read-only: the ledger and beacon are never consulted by queries.
	svc := core.NewService(store, collateral.NewLedger(nil), derivation.NewSequencedBeacon(nil))
	out := Inspection{Source: source}
	if out.EntityCount, err = svc.EntityCount(ctx); err != nil {
		return Inspection{}, err
	}
	if opts.list {
		if out.Entities, err = svc.Entities(ctx); err != nil {
			return Inspection{}, err
		}
	}
	if opts.entity != "" {
		raw, err := strconv.ParseUint(opts.entity, 10, 32)
		if err != nil {
			return Inspection{}, fmt.Errorf("parse entity id: %w", err)
		}
		id := domain.EntityID(raw)
		e, err := svc.Entity(ctx, id)
		if err != nil {
			return Inspection{}, err
		}
		owner, err := svc.Owner(ctx, id)
		if err != nil {
			return Inspection{}, err
		}
		g, err := svc.Genealogy(ctx, id)
		if err != nil {
			return Inspection{}, err
		}
		out.Entity = &EntitySummary{ID: id, DNA: e.DNA, Owner: owner, Genealogy: g}
	}
	if opts.account != "" {
		raw, err := strconv.ParseUint(opts.account, 10, 64)
		if err != nil {
			return Inspection{}, fmt.Errorf("parse account id: %w", err)
		}
		account := domain.AccountID(raw)
		owned, err := svc.OwnedEntities(ctx, account)
		if err != nil {
			return Inspection{}, err
		}
		holdings, err := svc.Holdings(ctx, account)
		if err != nil {
			return Inspection{}, err
		}
		out.Account = &AccountSummary{ID: account, Owned: owned, Holdings: holdings}
	}
	return out, nil
}
