package core

import (
	"bytes"
	"context"
	"encoding/json"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"creaturecore/internal/collateral"
	"creaturecore/internal/derivation"
	"creaturecore/pkg/domain"
)

type logCall struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	calls []logCall
}

func (c *captureLogger) Debug(msg string, args ...any) { c.record("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.record("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.record("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.record("error", msg, args) }

func (c *captureLogger) record(level, msg string, args []any) {
	c.calls = append(c.calls, logCall{level: level, msg: msg, args: args})
}

func (c *captureLogger) count(level, msg string) int {
	n := 0
	for _, call := range c.calls {
		if call.level == level && call.msg == msg {
			n++
		}
	}
	return n
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

type warnRule struct{}

func (warnRule) Name() string { return "warn_on_create" }

func (warnRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		if ch.Entity == domain.EntityCreature {
			res.Violations = append(res.Violations, domain.Violation{Rule: "warn_on_create", Severity: domain.SeverityWarn, Message: "noted"})
		}
	}
	return res, nil
}

func newObservedService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	engine := NewDefaultRulesEngine()
	engine.Register(warnRule{})
	ledger := collateral.NewLedger(map[domain.AccountID]domain.Balance{1: 100_000})
	return NewInMemoryService(engine, ledger, &derivation.FixedSource{BeaconVal: []byte("obs")}, opts...)
}

func TestServiceLogsAndRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	metrics := &captureMetricsRecorder{}
	clock := &stepClock{now: time.Unix(0, 0), step: 2 * time.Millisecond}
	svc := newObservedService(t, WithLogger(logger), WithMetricsRecorder(metrics), WithClock(clock))

	_, res, err := svc.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected a single warning, got %+v", res.Violations)
	}
	if _, err := svc.Transfer(ctx, 2, 3, 0); err == nil {
		t.Fatalf("expected not owner error")
	}

	if logger.count("warn", "registry rule finding") != 1 {
		t.Fatalf("expected the rule finding to be logged: %+v", logger.calls)
	}
	if logger.count("info", "registry event") != 1 {
		t.Fatalf("expected one event log line: %+v", logger.calls)
	}
	if logger.count("error", "registry operation failed") != 1 {
		t.Fatalf("expected failure log line: %+v", logger.calls)
	}
	if logger.count("debug", "registry operation committed") != 1 {
		t.Fatalf("expected commit debug line: %+v", logger.calls)
	}

	if len(metrics.calls) != 2 {
		t.Fatalf("expected 2 metric observations, got %d", len(metrics.calls))
	}
	if metrics.calls[0] != (metricsCall{op: OpCreate, success: true, duration: 2 * time.Millisecond}) {
		t.Fatalf("unexpected create observation %+v", metrics.calls[0])
	}
	if metrics.calls[1].op != OpTransfer || metrics.calls[1].success {
		t.Fatalf("unexpected transfer observation %+v", metrics.calls[1])
	}
}

func TestNilOptionsKeepDefaults(t *testing.T) {
	svc := newObservedService(t, WithLogger(nil), WithClock(nil), WithMetricsRecorder(nil), WithTracer(nil), WithEventSink(nil))
	if _, ok := svc.logger.(noopLogger); !ok {
		t.Fatalf("expected noop logger, got %T", svc.logger)
	}
	if _, ok := svc.metrics.(noopMetricsRecorder); !ok {
		t.Fatalf("expected noop metrics, got %T", svc.metrics)
	}
	if _, ok := svc.tracer.(noopTracer); !ok {
		t.Fatalf("expected noop tracer, got %T", svc.tracer)
	}
	if _, ok := svc.Events().(*EventLog); !ok {
		t.Fatalf("expected default event log, got %T", svc.Events())
	}
	if _, _, err := svc.Create(context.Background(), 1); err != nil {
		t.Fatalf("create with defaults: %v", err)
	}
	if svc.Events().(*EventLog).Len() != 1 {
		t.Fatalf("default event log should record the event")
	}
}

func TestJSONTracerRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	svc := newObservedService(t, WithTracer(tracer))

	if _, _, err := svc.Create(ctx, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Transfer(ctx, 9, 2, 0); err == nil {
		t.Fatalf("expected transfer failure")
	}

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	if entries[0].Operation != OpCreate || entries[0].Status != "committed" || entries[0].ErrorKind != "" {
		t.Fatalf("unexpected create span %+v", entries[0])
	}
	if entries[1].Status != "rejected" || entries[1].ErrorKind != string(domain.KindNotOwner) {
		t.Fatalf("unexpected transfer span %+v", entries[1])
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %q", buf.String())
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("decode span: %v", err)
	}
	if decoded.Operation != OpTransfer || decoded.ErrorKind != "not_owner" {
		t.Fatalf("unexpected decoded span %+v", decoded)
	}

	silent := NewJSONTracer(nil)
	_, span := silent.Start(ctx, OpBreed)
	span.End(nil)
	if len(silent.Entries()) != 1 {
		t.Fatalf("tracer without writer should still retain spans")
	}
}

func TestExpvarMetricsRecorderPublishes(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "registry_metrics_") {
		t.Fatalf("unexpected generated name %q", rec.Name())
	}
	ctx := context.Background()
	rec.Observe(ctx, OpCreate, true, 4*time.Millisecond)
	rec.Observe(ctx, OpCreate, false, 10*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	snap := rec.Snapshot()
	st, ok := snap.Operations[OpCreate]
	if !ok || len(snap.Operations) != 1 {
		t.Fatalf("unexpected operations %+v", snap.Operations)
	}
	if st.Committed != 1 || st.Rejected != 1 || st.TotalMS != 14 || st.MaxMS != 10 {
		t.Fatalf("unexpected stats %+v", st)
	}

	v := expvar.Get(rec.Name())
	if v == nil {
		t.Fatalf("recorder not published under %q", rec.Name())
	}
	if !strings.Contains(v.String(), `"committed":1`) {
		t.Fatalf("published value missing stats: %s", v.String())
	}
}

func TestPrometheusMetricsRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	svc := newObservedService(t, WithMetricsRecorder(rec))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, _, err := svc.Create(ctx, 1); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, _, err := svc.Breed(ctx, 1, 0, 0); err == nil {
		t.Fatalf("expected breed failure")
	}

	if got := testutil.ToFloat64(rec.commands.WithLabelValues(OpCreate, "true")); got != 2 {
		t.Fatalf("expected 2 committed creates, got %v", got)
	}
	if got := testutil.ToFloat64(rec.commands.WithLabelValues(OpBreed, "false")); got != 1 {
		t.Fatalf("expected 1 rejected breed, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 2 {
		t.Fatalf("expected duration series for 2 operations, got %d", n)
	}

	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestDerivationSequenceLogged(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	svc := newObservedService(t, WithLogger(logger))

	a, _, err := svc.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, _, err := svc.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.Breed(ctx, 1, a.ID, b.ID); err != nil {
		t.Fatalf("breed: %v", err)
	}

	var ops []any
	var seqs []any
	for _, call := range logger.calls {
		if call.level != "debug" || call.msg != "attributes derived" {
			continue
		}
		for i := 0; i+1 < len(call.args); i += 2 {
			switch call.args[i] {
			case "operation":
				ops = append(ops, call.args[i+1])
			case "sequence":
				seqs = append(seqs, call.args[i+1])
			}
		}
	}
	if len(seqs) != 3 || seqs[0] != uint32(0) || seqs[1] != uint32(1) || seqs[2] != uint32(2) {
		t.Fatalf("expected sequences 0,1,2 in derivation logs, got %v", seqs)
	}
	if len(ops) != 3 || ops[0] != OpCreate || ops[2] != OpBreed {
		t.Fatalf("unexpected derivation operations %v", ops)
	}
}
