package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"creaturecore/internal/archive"
	"creaturecore/internal/blob"
	"creaturecore/internal/collateral"
	"creaturecore/internal/config"
	"creaturecore/internal/core"
	"creaturecore/internal/derivation"
	"creaturecore/internal/logging"
	"creaturecore/pkg/domain"
)

// StepResult reports the outcome of one scenario step.
type StepResult struct {
	Index  int              `json:"index"`
	Op     string           `json:"op"`
	Entity *domain.EntityID `json:"entity,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// AccountSummary is the final state of one account.
type AccountSummary struct {
	ID       domain.AccountID  `json:"id"`
	Free     domain.Balance    `json:"free"`
	Reserved domain.Balance    `json:"reserved"`
	Owned    []domain.EntityID `json:"owned,omitempty"`
	Holdings []domain.EntityID `json:"holdings,omitempty"`
}

// EntitySummary is the final state of one creature.
type EntitySummary struct {
	ID        domain.EntityID        `json:"id"`
	DNA       domain.AttributeVector `json:"dna"`
	Owner     domain.AccountID       `json:"owner"`
	Genealogy core.Genealogy         `json:"genealogy"`
}

// Summary is printed after a replay.
type Summary struct {
	EntityCount domain.EntityID  `json:"entity_count"`
	Steps       []StepResult     `json:"steps"`
	Events      []domain.Event   `json:"events"`
	Accounts    []AccountSummary `json:"accounts"`
	Entities    []EntitySummary  `json:"entities"`
	ArchiveKey  string           `json:"archive_key,omitempty"`
}

type replayOptions struct {
	scenario string
	persist  bool
	archive  bool
	trace    bool
	metrics  string
}

func replayCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts replayOptions
	fs.StringVar(&opts.scenario, "scenario", "", "path to TOML scenario")
	fs.BoolVar(&opts.persist, "persist", false, "run against the configured persistent store instead of memory")
	fs.BoolVar(&opts.archive, "archive", false, "archive the final snapshot to the configured blob store")
	fs.BoolVar(&opts.trace, "trace", false, "write JSON trace spans to stderr")
	fs.StringVar(&opts.metrics, "metrics", "", "dump metrics after the run: prometheus|expvar")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		return fail(stderr, "config: %v", err)
	}
	summary, err := replay(context.Background(), cfg, opts, stderr)
	if err != nil {
		return fail(stderr, "replay failed: %v", err)
	}
	if err := writeJSON(stdout, summary); err != nil {
		return 1
	}
	return 0
}

func replay(ctx context.Context, cfg config.Config, opts replayOptions, stderr io.Writer) (summary Summary, err error) {
	path, err := validatePath(opts.scenario)
	if err != nil {
		return Summary{}, err
	}
	file, err := os.Open(path) // #nosec G304: path validated by validatePath
	if err != nil {
		return Summary{}, fmt.Errorf("read scenario: %w", err)
	}
	defer func() { _ = file.Close() }()
	sc, err := ParseScenario(file)
	if err != nil {
		return Summary{}, err
	}

	zl, err := logging.New(stderr, "creaturectl", cfg.LogLevel)
	if err != nil {
		return Summary{}, err
	}
	seed := cfg.BeaconSeed
	if sc.BeaconSeed != "" {
		seed = sc.BeaconSeed
	}
	stake := domain.Balance(cfg.CreationStake)
	if sc.Stake != nil {
		stake = domain.Balance(*sc.Stake)
	}

	engine := core.NewDefaultRulesEngine()
	var store core.PersistentStore
	if opts.persist {
		store, err = core.OpenPersistentStore(ctx, core.StorageConfig{
			Driver:      core.StorageDriver(cfg.StorageDriver),
			SQLitePath:  cfg.SQLitePath,
			PostgresDSN: cfg.PostgresDSN,
		}, engine)
		if err != nil {
			return Summary{}, fmt.Errorf("open store: %w", err)
		}
		if closer, ok := store.(io.Closer); ok {
			defer func() { _ = closer.Close() }()
		}
	}

	ledger := collateral.NewLedger(sc.Genesis())
	beacon := derivation.NewSequencedBeacon([]byte(seed))
	events := core.NewEventLog()
	svcOpts := []core.Option{
		core.WithLogger(logging.NewAdapter(zl)),
		core.WithEventSink(events),
		core.WithCreationStake(stake),
	}
	if opts.trace {
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	var promRegistry *prometheus.Registry
	var expvarRecorder *core.ExpvarMetricsRecorder
	switch opts.metrics {
	case "":
	case "prometheus":
		promRegistry = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(promRegistry)
		if err != nil {
			return Summary{}, err
		}
		svcOpts = append(svcOpts, core.WithMetricsRecorder(rec))
	case "expvar":
		expvarRecorder = core.NewExpvarMetricsRecorder("")
		svcOpts = append(svcOpts, core.WithMetricsRecorder(expvarRecorder))
	default:
		return Summary{}, fmt.Errorf("unknown metrics sink %q", opts.metrics)
	}

	var svc *core.Service
	if store != nil {
		svc = core.NewService(store, ledger, beacon, svcOpts...)
	} else {
		svc = core.NewInMemoryService(engine, ledger, beacon, svcOpts...)
	}

	for i, step := range sc.Steps {
		res := runStep(ctx, svc, beacon, step)
		res.Index = i
		summary.Steps = append(summary.Steps, res)
		if res.Error != step.ExpectError {
			return Summary{}, fmt.Errorf("steps[%d] %s: expected error %q, got %q", i, step.Op, step.ExpectError, res.Error)
		}
	}

	if err := summarize(ctx, svc, ledger, &summary); err != nil {
		return Summary{}, err
	}
	summary.Events = events.Events()

	if opts.archive {
		bs, err := blob.Open(ctx, cfg.Blob())
		if err != nil {
			return Summary{}, fmt.Errorf("open blob store: %w", err)
		}
		snap, err := svc.Snapshot(ctx)
		if err != nil {
			return Summary{}, err
		}
		info, err := archive.New(bs).Save(ctx, snap)
		if err != nil {
			return Summary{}, err
		}
		summary.ArchiveKey = info.Key
	}

	switch {
	case promRegistry != nil:
		families, err := promRegistry.Gather()
		if err != nil {
			return Summary{}, fmt.Errorf("gather metrics: %w", err)
		}
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(stderr, mf); err != nil {
				return Summary{}, err
			}
		}
	case expvarRecorder != nil:
		if err := writeJSON(stderr, expvarRecorder.Snapshot()); err != nil {
			return Summary{}, err
		}
	}
	return summary, nil
}

func runStep(ctx context.Context, svc *core.Service, beacon *derivation.SequencedBeacon, step Step) StepResult {
	res := StepResult{Op: step.Op}
	var err error
	caller := domain.AccountID(step.Caller)
	switch step.Op {
	case OpCreate:
		var e domain.Entity
		if e, _, err = svc.Create(ctx, caller); err == nil {
			res.Entity = &e.ID
		}
	case OpBreed:
		var e domain.Entity
		if e, _, err = svc.Breed(ctx, caller, domain.EntityID(step.Parent1), domain.EntityID(step.Parent2)); err == nil {
			res.Entity = &e.ID
		}
	case OpTransfer:
		id := domain.EntityID(step.Entity)
		if _, err = svc.Transfer(ctx, caller, domain.AccountID(step.To), id); err == nil {
			res.Entity = &id
		}
	case OpAdvance:
		beacon.Advance()
	}
	if err != nil {
		res.Error = errorLabel(err)
	}
	return res
}

func errorLabel(err error) string {
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		return "rule_violation"
	}
	return strings.TrimSpace(err.Error())
}

func summarize(ctx context.Context, svc *core.Service, ledger *collateral.Ledger, summary *Summary) error {
	count, err := svc.EntityCount(ctx)
	if err != nil {
		return err
	}
	summary.EntityCount = count
	for _, id := range ledger.Accounts() {
		bal := ledger.Account(id)
		owned, err := svc.OwnedEntities(ctx, id)
		if err != nil {
			return err
		}
		holdings, err := svc.Holdings(ctx, id)
		if err != nil {
			return err
		}
		summary.Accounts = append(summary.Accounts, AccountSummary{
			ID: id, Free: bal.Free, Reserved: bal.Reserved, Owned: owned, Holdings: holdings,
		})
	}
	entities, err := svc.Entities(ctx)
	if err != nil {
		return err
	}
	for _, e := range entities {
		owner, err := svc.Owner(ctx, e.ID)
		if err != nil {
			return err
		}
		g, err := svc.Genealogy(ctx, e.ID)
		if err != nil {
			return err
		}
		summary.Entities = append(summary.Entities, EntitySummary{ID: e.ID, DNA: e.DNA, Owner: owner, Genealogy: g})
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
