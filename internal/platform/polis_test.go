package platform

import (
	"context"
	"errors"
	"testing"

	"phylogen/internal/model"
	"phylogen/internal/scape"
	"phylogen/internal/storage"
)

type testScape struct {
	name string
}

func (s testScape) Name() string {
	if s.name == "" {
		return "noop"
	}
	return s.name
}

func (s testScape) Evaluate(context.Context, model.Genotype) (scape.Fitness, scape.Trace, error) {
	return 0, scape.Trace{"status": "ok"}, nil
}

type testSupportModule struct {
	name       string
	startCalls int
	stopCalls  int
	startErr   error
	stopErr    error
	stopReason StopReason
}

func (m *testSupportModule) Name() string { return m.name }

func (m *testSupportModule) Start(context.Context) error {
	m.startCalls++
	return m.startErr
}

func (m *testSupportModule) Stop(context.Context) error {
	m.stopCalls++
	return m.stopErr
}

func (m *testSupportModule) StopWithReason(ctx context.Context, reason StopReason) error {
	m.stopReason = reason
	return m.Stop(ctx)
}

func TestPolisInitRegistersBuiltinScapes(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !p.Started() {
		t.Fatal("polis should be started after init")
	}
	names := p.RegisteredScapes()
	if len(names) != 2 || names[0] != "regression-mimic" || names[1] != "xor" {
		t.Fatalf("unexpected builtin scapes: %v", names)
	}
	if _, ok := p.GetScape("xor"); !ok {
		t.Fatal("expected xor scape lookup to resolve")
	}
	if _, ok := p.GetScape("XOR"); !ok {
		t.Fatal("expected normalized scape lookup to resolve")
	}
	if _, ok := p.GetScape("unknown"); ok {
		t.Fatal("expected unknown scape lookup to miss")
	}
}

func TestPolisInitAndRegisterScape(t *testing.T) {
	p := NewPolis(Config{
		Store:  storage.NewMemoryStore(),
		Scapes: []scape.Scape{testScape{}},
	})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if len(p.RegisteredScapes()) != 1 {
		t.Fatalf("expected 1 configured scape, got %d", len(p.RegisteredScapes()))
	}
	if err := p.RegisterScape(testScape{name: "extra"}); err != nil {
		t.Fatalf("register scape failed: %v", err)
	}
	if len(p.RegisteredScapes()) != 2 {
		t.Fatalf("expected 2 registered scapes, got %d", len(p.RegisteredScapes()))
	}
	if _, ok := p.GetScape("noop"); !ok {
		t.Fatal("expected get scape to resolve configured scape")
	}
	if _, ok := p.GetScape("extra"); !ok {
		t.Fatal("expected get scape to resolve registered scape")
	}
}

func TestPolisLifecycleStopAndReinit(t *testing.T) {
	p := NewPolis(Config{
		Store:  storage.NewMemoryStore(),
		Scapes: []scape.Scape{testScape{}},
	})

	if err := p.RegisterScape(testScape{name: "early"}); err == nil {
		t.Fatal("expected register scape to fail before init")
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("second init should be idempotent: %v", err)
	}
	if len(p.RegisteredScapes()) != 1 {
		t.Fatalf("expected 1 registered scape, got %d", len(p.RegisteredScapes()))
	}

	p.Stop()
	if p.Started() {
		t.Fatal("expected polis stopped after stop call")
	}
	if p.LastStopReason() != StopReasonNormal {
		t.Fatalf("expected stop reason %q, got=%q", StopReasonNormal, p.LastStopReason())
	}
	if len(p.RegisteredScapes()) != 0 {
		t.Fatalf("expected scapes cleared after stop, got %d", len(p.RegisteredScapes()))
	}

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	if !p.Started() {
		t.Fatal("expected polis started after re-init")
	}
}

func TestPolisInitStartsConfiguredModules(t *testing.T) {
	module := &testSupportModule{name: "metrics"}
	p := NewPolis(Config{
		Store:          storage.NewMemoryStore(),
		SupportModules: []SupportModule{module},
	})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if module.startCalls != 1 {
		t.Fatalf("expected support module start call, got=%d", module.startCalls)
	}
	if len(p.ActiveSupportModules()) != 1 || p.ActiveSupportModules()[0] != "metrics" {
		t.Fatalf("unexpected active support modules: %+v", p.ActiveSupportModules())
	}

	p.Stop()
	if module.stopCalls != 1 {
		t.Fatalf("expected support module stop call, got=%d", module.stopCalls)
	}
	if module.stopReason != StopReasonNormal {
		t.Fatalf("expected support module stop reason %q, got=%q", StopReasonNormal, module.stopReason)
	}
	if len(p.ActiveSupportModules()) != 0 {
		t.Fatalf("expected cleared active support modules after stop, got=%+v", p.ActiveSupportModules())
	}
}

func TestPolisInitRollsBackOnSupportModuleStartFailure(t *testing.T) {
	okModule := &testSupportModule{name: "ok"}
	failModule := &testSupportModule{name: "bad", startErr: errors.New("boom")}
	p := NewPolis(Config{
		Store:          storage.NewMemoryStore(),
		SupportModules: []SupportModule{okModule, failModule},
	})
	if err := p.Init(context.Background()); err == nil {
		t.Fatal("expected init failure from support module start error")
	}
	if p.Started() {
		t.Fatal("expected polis to remain stopped after failed init")
	}
	if okModule.startCalls != 1 || okModule.stopCalls != 1 {
		t.Fatalf("expected rollback stop for successfully started module, start=%d stop=%d", okModule.startCalls, okModule.stopCalls)
	}
	if failModule.startCalls != 1 {
		t.Fatalf("expected failing module start to be attempted once, got=%d", failModule.startCalls)
	}
	if len(p.ActiveSupportModules()) != 0 {
		t.Fatalf("expected no active support modules after rollback, got=%+v", p.ActiveSupportModules())
	}
	if len(p.RegisteredScapes()) != 0 {
		t.Fatalf("expected no registered scapes after rollback, got=%+v", p.RegisteredScapes())
	}
}

func TestPolisResetClearsStoreAndRestartsLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	module := &testSupportModule{name: "metrics"}
	p := NewPolis(Config{
		Store:          store,
		SupportModules: []SupportModule{module},
	})
	if err := p.Init(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	pop := model.Population{
		VersionedRecord: model.VersionedRecord{SchemaVersion: storage.CurrentSchemaVersion, CodecVersion: storage.CurrentCodecVersion},
		ID:              "pop-1",
		Generation:      1,
	}
	if err := store.SavePopulation(ctx, pop); err != nil {
		t.Fatalf("save population before reset: %v", err)
	}

	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !p.Started() {
		t.Fatal("expected polis to be started after reset")
	}
	if module.startCalls != 2 || module.stopCalls != 1 {
		t.Fatalf("expected support module restart around reset, start=%d stop=%d", module.startCalls, module.stopCalls)
	}
	if p.LastStopReason() != StopReasonShutdown {
		t.Fatalf("expected reset stop reason %q, got=%q", StopReasonShutdown, p.LastStopReason())
	}
	if module.stopReason != StopReasonShutdown {
		t.Fatalf("expected support module reset stop reason %q, got=%q", StopReasonShutdown, module.stopReason)
	}
	_, ok, err := store.GetPopulation(ctx, pop.ID)
	if err != nil {
		t.Fatalf("get population after reset: %v", err)
	}
	if ok {
		t.Fatal("expected reset to clear persisted population data")
	}
}

func TestPolisStopWithReasonRejectsInvalidReason(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := p.StopWithReason(StopReason("bad")); err == nil {
		t.Fatal("expected invalid stop reason to fail")
	}
	if !p.Started() {
		t.Fatal("expected polis to remain started after invalid stop reason")
	}
	p.Stop()
}

func TestStartDefaultReusesRunningPolis(t *testing.T) {
	resetDefaultPolisForTest()
	t.Cleanup(resetDefaultPolisForTest)

	ctx := context.Background()
	first, err := StartDefault(ctx, Config{Store: storage.NewMemoryStore()})
	if err != nil {
		t.Fatalf("start default first: %v", err)
	}
	second, err := StartDefault(ctx, Config{Store: storage.NewMemoryStore()})
	if err != nil {
		t.Fatalf("start default second: %v", err)
	}
	if first != second {
		t.Fatal("expected second start to reuse running default polis")
	}
	if _, ok := Default(); !ok {
		t.Fatal("expected default polis to be discoverable while running")
	}
	if err := StopDefault(StopReasonNormal); err != nil {
		t.Fatalf("stop default: %v", err)
	}
	if first.Started() {
		t.Fatal("expected default polis instance to be stopped")
	}
	if first.LastStopReason() != StopReasonNormal {
		t.Fatalf("expected default stop reason %q, got=%q", StopReasonNormal, first.LastStopReason())
	}
	if _, ok := Default(); ok {
		t.Fatal("expected no default polis after stop")
	}

	third, err := StartDefault(ctx, Config{Store: storage.NewMemoryStore()})
	if err != nil {
		t.Fatalf("start default third: %v", err)
	}
	if third == first {
		t.Fatal("expected restarted default polis to allocate a new instance")
	}
}

func TestStopDefaultRejectsInvalidReason(t *testing.T) {
	resetDefaultPolisForTest()
	t.Cleanup(resetDefaultPolisForTest)

	ctx := context.Background()
	if _, err := StartDefault(ctx, Config{Store: storage.NewMemoryStore()}); err != nil {
		t.Fatalf("start default: %v", err)
	}
	if err := StopDefault(StopReason("bad")); err == nil {
		t.Fatal("expected invalid default stop reason to fail")
	}
	if _, ok := Default(); !ok {
		t.Fatal("expected default polis to remain available after invalid stop reason")
	}
	if err := StopDefault(StopReasonShutdown); err != nil {
		t.Fatalf("stop default shutdown: %v", err)
	}
}

func TestPolisRunRegistryLifecycle(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(p.Stop)

	control := make(chan RunCommand, 2)
	if err := p.registerRun("run-1", "xor", 0, control); err != nil {
		t.Fatalf("register run: %v", err)
	}
	if err := p.registerRun("run-1", "xor", 0, control); err == nil {
		t.Fatal("expected duplicate run registration to fail")
	}
	status, ok := p.RunStatus("run-1")
	if !ok {
		t.Fatal("expected active run status")
	}
	if status.State != RunStateRunning || status.Scape != "xor" {
		t.Fatalf("unexpected active run status: %+v", status)
	}
	if runs := p.ActiveRuns(); len(runs) != 1 || runs[0] != "run-1" {
		t.Fatalf("unexpected active runs: %v", runs)
	}

	if err := p.PauseRun("run-1"); err != nil {
		t.Fatalf("pause run: %v", err)
	}
	if cmd := <-control; cmd != CommandPause {
		t.Fatalf("expected pause command on control channel, got=%q", cmd)
	}
	if err := p.PauseRun("missing"); err == nil {
		t.Fatal("expected pause on unknown run to fail")
	}

	p.completeRun("run-1", RunStateFailed, errors.New("boom"))
	if runs := p.ActiveRuns(); len(runs) != 0 {
		t.Fatalf("expected no active runs after completion, got=%v", runs)
	}
	status, ok = p.RunStatus("run-1")
	if !ok {
		t.Fatal("expected retained status for finished run")
	}
	if status.State != RunStateFailed || status.Error != "boom" {
		t.Fatalf("unexpected finished run status: %+v", status)
	}
	if err := p.StopRun("run-1"); err == nil {
		t.Fatal("expected stop on finished run to fail")
	}
}

func TestPolisSweepFinishedRuns(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(p.Stop)

	for _, runID := range []string{"a", "b", "c"} {
		if err := p.registerRun(runID, "xor", 0, make(chan RunCommand, 1)); err != nil {
			t.Fatalf("register run %s: %v", runID, err)
		}
		p.completeRun(runID, RunStateCompleted, nil)
	}

	if removed := p.sweepFinishedRuns(1); removed != 2 {
		t.Fatalf("expected sweep to remove 2 statuses, got=%d", removed)
	}
	if _, ok := p.RunStatus("c"); !ok {
		t.Fatal("expected most recent finished run status to survive sweep")
	}
	if removed := p.sweepFinishedRuns(1); removed != 0 {
		t.Fatalf("expected second sweep to remove nothing, got=%d", removed)
	}
}

func resetDefaultPolisForTest() {
	defaultPolisMu.Lock()
	p := defaultPolis
	defaultPolis = nil
	defaultPolisMu.Unlock()
	if p != nil {
		p.Stop()
	}
}
