// Package platform hosts the polis, the long-lived process that owns
// the store, the registered scapes and the background maintenance
// tasks, and runs evolutions against them. It is the only layer that
// logs; the algorithm packages below it stay silent.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voodooEntity/archivist"

	"phylogen/internal/scape"
	"phylogen/internal/scapeid"
	"phylogen/internal/storage"
)

type Config struct {
	Store          storage.Store
	SupportModules []SupportModule
	// Scapes lists the scapes registered at init. Empty means every
	// built-in scape.
	Scapes []scape.Scape
}

// SupportModule is a long-lived service started with the polis and
// stopped with it, in reverse start order on rollback.
type SupportModule interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

// RunCommand is an out-of-band instruction for an active run. Commands
// are consumed between generations, never mid-evaluation.
type RunCommand string

const (
	CommandPause    RunCommand = "pause"
	CommandContinue RunCommand = "continue"
	CommandStop     RunCommand = "stop"
)

type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStatePaused    RunState = "paused"
	RunStateCompleted RunState = "completed"
	RunStateStopped   RunState = "stopped"
	RunStateFailed    RunState = "failed"
)

type RunStatus struct {
	RunID       string   `json:"run_id"`
	Scape       string   `json:"scape"`
	State       RunState `json:"state"`
	Generation  int      `json:"generation"`
	BestFitness float64  `json:"best_fitness"`
	Error       string   `json:"error,omitempty"`
}

const (
	// Finished run statuses kept in memory before the sweeper trims
	// the oldest.
	finishedRunRetention  = 64
	runStatusSweepTask    = "run-status-sweep"
	runStatusSweepPeriod  = time.Minute
	defaultControlBacklog = 16
)

type runHandle struct {
	control chan RunCommand
	status  RunStatus
}

type finishedRun struct {
	status RunStatus
	at     time.Time
}

type Polis struct {
	store storage.Store

	mu sync.RWMutex

	scapes         map[string]scape.Scape
	supportModules map[string]SupportModule
	runs           map[string]*runHandle
	finished       map[string]finishedRun
	maintenance    *Supervisor
	started        bool
	lastStopReason StopReason

	config Config
}

var (
	defaultPolisMu sync.Mutex
	defaultPolis   *Polis
)

func NewPolis(cfg Config) *Polis {
	return &Polis{
		store:          cfg.Store,
		scapes:         make(map[string]scape.Scape),
		supportModules: make(map[string]SupportModule),
		runs:           make(map[string]*runHandle),
		finished:       make(map[string]finishedRun),
		config:         cfg,
		lastStopReason: StopReasonNormal,
	}
}

// StartDefault initializes the process-wide polis, reusing a running
// one.
func StartDefault(ctx context.Context, cfg Config) (*Polis, error) {
	defaultPolisMu.Lock()
	defer defaultPolisMu.Unlock()

	if defaultPolis != nil && defaultPolis.Started() {
		return defaultPolis, nil
	}

	p := NewPolis(cfg)
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	defaultPolis = p
	return defaultPolis, nil
}

func Default() (*Polis, bool) {
	defaultPolisMu.Lock()
	p := defaultPolis
	defaultPolisMu.Unlock()

	if p == nil || !p.Started() {
		return nil, false
	}
	return p, true
}

func StopDefault(reason StopReason) error {
	defaultPolisMu.Lock()
	p := defaultPolis
	defaultPolisMu.Unlock()
	if p == nil {
		return nil
	}
	if err := p.StopWithReason(reason); err != nil {
		return err
	}
	defaultPolisMu.Lock()
	if defaultPolis == p {
		defaultPolis = nil
	}
	defaultPolisMu.Unlock()
	return nil
}

// Init brings the polis up: store, support modules (rolled back in
// reverse order when one fails), scapes, maintenance supervisor.
// Idempotent while started.
func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return errors.New("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	startedModules := make([]SupportModule, 0, len(p.config.SupportModules))
	fail := func(err error) error {
		stopSupportModules(ctx, startedModules)
		p.supportModules = make(map[string]SupportModule)
		p.scapes = make(map[string]scape.Scape)
		p.maintenance = nil
		return err
	}

	for i, module := range p.config.SupportModules {
		if module == nil {
			return fail(fmt.Errorf("support module is nil at index %d", i))
		}
		name := module.Name()
		if name == "" {
			return fail(fmt.Errorf("support module name is required at index %d", i))
		}
		if _, exists := p.supportModules[name]; exists {
			return fail(fmt.Errorf("duplicate support module: %s", name))
		}
		if err := module.Start(ctx); err != nil {
			return fail(fmt.Errorf("start support module %s: %w", name, err))
		}
		p.supportModules[name] = module
		startedModules = append(startedModules, module)
	}

	configured := p.config.Scapes
	if len(configured) == 0 {
		for _, name := range scape.List() {
			s, err := scape.ByName(name)
			if err != nil {
				return fail(err)
			}
			configured = append(configured, s)
		}
	}
	for i, s := range configured {
		if s == nil {
			return fail(fmt.Errorf("scape is nil at index %d", i))
		}
		name := s.Name()
		if name == "" {
			return fail(fmt.Errorf("scape name is required at index %d", i))
		}
		if _, exists := p.scapes[name]; exists {
			return fail(fmt.Errorf("duplicate scape: %s", name))
		}
		p.scapes[name] = s
	}

	p.maintenance = NewSupervisor(SupervisorPolicy{})
	if err := p.maintenance.StartSpec(SupervisorChildSpec{
		Name:    runStatusSweepTask,
		Restart: SupervisorRestartPermanent,
	}, p.runStatusSweepLoop); err != nil {
		return fail(fmt.Errorf("start %s: %w", runStatusSweepTask, err))
	}

	p.started = true
	archivist.InfoF("polis initialized: scapes=%d support_modules=%d", len(p.scapes), len(p.supportModules))
	return nil
}

// Reset stops the polis, drops every stored record when the backend
// supports it, and initializes again.
func (p *Polis) Reset(ctx context.Context) error {
	_ = p.StopWithReason(StopReasonShutdown)
	if resetter, ok := p.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil && !errors.Is(err, storage.ErrNotInitialized) {
			return fmt.Errorf("reset store: %w", err)
		}
	}
	return p.Init(ctx)
}

func (p *Polis) RegisterScape(s scape.Scape) error {
	if s == nil {
		return errors.New("scape is nil")
	}
	name := s.Name()
	if name == "" {
		return errors.New("scape name is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return errors.New("polis is not initialized")
	}
	p.scapes[name] = s
	return nil
}

// GetScape resolves a scape by exact name first, then by the
// normalized alias form.
func (p *Polis) GetScape(name string) (scape.Scape, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if s, ok := p.scapes[name]; ok {
		return s, true
	}
	s, ok := p.scapes[scapeid.Normalize(name)]
	return s, ok
}

func (p *Polis) Stop() {
	_ = p.StopWithReason(StopReasonNormal)
}

func (p *Polis) Shutdown() {
	_ = p.StopWithReason(StopReasonShutdown)
}

// StopWithReason signals every active run to stop, halts maintenance
// and support modules, and clears the registries. The store itself
// stays open so a later Init can resume from it.
func (p *Polis) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
	default:
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	p.mu.Lock()
	for _, handle := range p.runs {
		select {
		case handle.control <- CommandStop:
		default:
		}
	}
	maintenance := p.maintenance
	modules := make([]SupportModule, 0, len(p.supportModules))
	for _, module := range p.supportModules {
		modules = append(modules, module)
	}
	p.started = false
	p.lastStopReason = reason
	p.maintenance = nil
	p.scapes = make(map[string]scape.Scape)
	p.supportModules = make(map[string]SupportModule)
	p.runs = make(map[string]*runHandle)
	p.finished = make(map[string]finishedRun)
	p.mu.Unlock()

	// Maintenance tasks grab the polis lock, so they stop outside it.
	if maintenance != nil {
		maintenance.StopAll()
	}
	for _, module := range modules {
		if withReason, ok := module.(reasonAwareSupportModule); ok {
			_ = withReason.StopWithReason(context.Background(), reason)
		} else {
			_ = module.Stop(context.Background())
		}
	}
	archivist.InfoF("polis stopped: reason=%s", reason)
	return nil
}

func (p *Polis) PauseRun(runID string) error {
	return p.sendRunCommand(runID, CommandPause)
}

func (p *Polis) ContinueRun(runID string) error {
	return p.sendRunCommand(runID, CommandContinue)
}

func (p *Polis) StopRun(runID string) error {
	return p.sendRunCommand(runID, CommandStop)
}

func (p *Polis) sendRunCommand(runID string, cmd RunCommand) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	p.mu.RLock()
	handle, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	select {
	case handle.control <- cmd:
		return nil
	default:
		return fmt.Errorf("run control channel is full: %s", runID)
	}
}

// RunStatus reports an active run, falling back to the retained status
// of a finished one.
func (p *Polis) RunStatus(runID string) (RunStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if handle, ok := p.runs[runID]; ok {
		return handle.status, true
	}
	if done, ok := p.finished[runID]; ok {
		return done.status, true
	}
	return RunStatus{}, false
}

func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Polis) RegisteredScapes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.scapes))
	for name := range p.scapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Polis) ActiveSupportModules() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.supportModules))
	for name := range p.supportModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) LastStopReason() StopReason {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastStopReason
}

func (p *Polis) registerRun(runID, scapeName string, generation int, control chan RunCommand) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return errors.New("polis is not initialized")
	}
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	delete(p.finished, runID)
	p.runs[runID] = &runHandle{
		control: control,
		status: RunStatus{
			RunID:      runID,
			Scape:      scapeName,
			State:      RunStateRunning,
			Generation: generation,
		},
	}
	return nil
}

func (p *Polis) updateRunStatus(runID string, mutate func(*RunStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if handle, ok := p.runs[runID]; ok {
		mutate(&handle.status)
	}
}

// completeRun retires an active run, retaining its final status for
// RunStatus callers until the sweeper reclaims it.
func (p *Polis) completeRun(runID string, state RunState, runErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	handle, ok := p.runs[runID]
	if !ok {
		return
	}
	delete(p.runs, runID)
	status := handle.status
	status.State = state
	if runErr != nil {
		status.Error = runErr.Error()
	}
	p.finished[runID] = finishedRun{status: status, at: time.Now()}
}

func (p *Polis) runStatusSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(runStatusSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := p.sweepFinishedRuns(finishedRunRetention); removed > 0 {
				archivist.DebugF("pruned %d finished run statuses", removed)
			}
		}
	}
}

func (p *Polis) sweepFinishedRuns(keep int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	excess := len(p.finished) - keep
	if excess <= 0 {
		return 0
	}
	type aged struct {
		id string
		at time.Time
	}
	oldest := make([]aged, 0, len(p.finished))
	for id, done := range p.finished {
		oldest = append(oldest, aged{id: id, at: done.at})
	}
	sort.Slice(oldest, func(i, j int) bool { return oldest[i].at.Before(oldest[j].at) })
	for _, entry := range oldest[:excess] {
		delete(p.finished, entry.id)
	}
	return excess
}

type reasonAwareSupportModule interface {
	SupportModule
	StopWithReason(ctx context.Context, reason StopReason) error
}

func stopSupportModules(ctx context.Context, modules []SupportModule) {
	for i := len(modules) - 1; i >= 0; i-- {
		_ = modules[i].Stop(ctx)
	}
}
