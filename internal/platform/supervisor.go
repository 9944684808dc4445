package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voodooEntity/archivist"
)

type SupervisorStrategy string

const (
	SupervisorStrategyOneForOne SupervisorStrategy = "one_for_one"
	SupervisorStrategyOneForAll SupervisorStrategy = "one_for_all"
)

type SupervisorRestartPolicy string

const (
	SupervisorRestartPermanent SupervisorRestartPolicy = "permanent"
	SupervisorRestartTransient SupervisorRestartPolicy = "transient"
	SupervisorRestartTemporary SupervisorRestartPolicy = "temporary"
)

// SupervisorPolicy bounds how crashed maintenance tasks come back.
// Zero fields take defaults: 10ms backoff doubling up to 200ms,
// unlimited restarts, one_for_one.
type SupervisorPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	MaxRestarts    int
	Strategy       SupervisorStrategy
}

type SupervisorChildSpec struct {
	Name    string
	Restart SupervisorRestartPolicy
}

type SupervisorChildStatus struct {
	Name            string                  `json:"name"`
	RestartPolicy   SupervisorRestartPolicy `json:"restart_policy"`
	RestartCount    int                     `json:"restart_count"`
	LastError       string                  `json:"last_error,omitempty"`
	PermanentFailed bool                    `json:"permanent_failed"`
}

// SupervisorHooks observe restart decisions. NewSupervisor installs
// hooks that log through archivist; NewSupervisorWithHooks replaces
// them wholesale.
type SupervisorHooks struct {
	OnTaskRestart          func(name string, err error, restartCount int)
	OnTaskPermanentFailure func(name string, err error, restartCount int)
}

func defaultSupervisorPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2.0,
		MaxRestarts:    0,
		Strategy:       SupervisorStrategyOneForOne,
	}
}

func defaultSupervisorHooks() SupervisorHooks {
	return SupervisorHooks{
		OnTaskRestart: func(name string, err error, restartCount int) {
			archivist.WarningF("maintenance task %s restarting: attempt=%d cause=%s", name, restartCount, errString(err))
		},
		OnTaskPermanentFailure: func(name string, err error, restartCount int) {
			archivist.ErrorF("maintenance task %s gave up after %d restarts: %s", name, restartCount, errString(err))
		},
	}
}

func normalizeSupervisorPolicy(policy SupervisorPolicy) SupervisorPolicy {
	def := defaultSupervisorPolicy()
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	switch policy.Strategy {
	case SupervisorStrategyOneForOne, SupervisorStrategyOneForAll:
	default:
		policy.Strategy = def.Strategy
	}
	return policy
}

// Supervisor keeps long-lived maintenance tasks alive with bounded
// backoff, in the manner of an OTP supervision tree.
type Supervisor struct {
	policy SupervisorPolicy
	hooks  SupervisorHooks

	mu       sync.Mutex
	tasks    map[string]*supervisedTask
	finished map[string]SupervisorChildStatus
}

type supervisedTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	spec   SupervisorChildSpec
	run    func(ctx context.Context) error

	restartCount    int
	lastErr         error
	permanentFailed bool
}

func NewSupervisor(policy SupervisorPolicy) *Supervisor {
	return NewSupervisorWithHooks(policy, defaultSupervisorHooks())
}

func NewSupervisorWithHooks(policy SupervisorPolicy, hooks SupervisorHooks) *Supervisor {
	return &Supervisor{
		policy:   normalizeSupervisorPolicy(policy),
		hooks:    hooks,
		tasks:    make(map[string]*supervisedTask),
		finished: make(map[string]SupervisorChildStatus),
	}
}

// Start launches a permanent task under the given name.
func (s *Supervisor) Start(name string, run func(ctx context.Context) error) error {
	return s.StartSpec(SupervisorChildSpec{
		Name:    name,
		Restart: SupervisorRestartPermanent,
	}, run)
}

func (s *Supervisor) StartSpec(spec SupervisorChildSpec, run func(ctx context.Context) error) error {
	if spec.Name == "" {
		return errors.New("task name is required")
	}
	if run == nil {
		return errors.New("task runner is required")
	}
	switch spec.Restart {
	case SupervisorRestartPermanent, SupervisorRestartTransient, SupervisorRestartTemporary:
	default:
		spec.Restart = SupervisorRestartPermanent
	}

	s.mu.Lock()
	if _, exists := s.tasks[spec.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task already running: %s", spec.Name)
	}
	delete(s.finished, spec.Name)
	ctx, cancel := context.WithCancel(context.Background())
	task := &supervisedTask{
		cancel: cancel,
		done:   make(chan struct{}),
		spec:   spec,
		run:    run,
	}
	s.tasks[spec.Name] = task
	s.mu.Unlock()

	go s.runTask(spec.Name, task, ctx)
	return nil
}

func (s *Supervisor) runTask(name string, task *supervisedTask, ctx context.Context) {
	defer s.retire(name, task)

	backoff := s.policy.InitialBackoff
	for {
		err := task.run(ctx)
		if ctx.Err() != nil {
			return
		}
		if !shouldRestart(task.spec.Restart, err) {
			return
		}

		s.mu.Lock()
		task.lastErr = err
		restarts := task.restartCount
		exhausted := s.policy.MaxRestarts > 0 && restarts >= s.policy.MaxRestarts
		if exhausted {
			task.permanentFailed = true
		} else {
			restarts++
			task.restartCount = restarts
		}
		s.mu.Unlock()

		if exhausted {
			if s.hooks.OnTaskPermanentFailure != nil {
				go s.hooks.OnTaskPermanentFailure(name, err, restarts)
			}
			if s.policy.Strategy == SupervisorStrategyOneForAll {
				s.haltOthers(name)
			}
			return
		}

		if s.policy.Strategy == SupervisorStrategyOneForAll {
			s.respawnSiblings(name, err)
		}
		if s.hooks.OnTaskRestart != nil {
			s.hooks.OnTaskRestart(name, err, restarts)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if next := time.Duration(float64(backoff) * s.policy.BackoffFactor); next < s.policy.MaxBackoff {
			backoff = next
		} else {
			backoff = s.policy.MaxBackoff
		}
	}
}

// retire removes the task from the active set, keeping its status
// around when its history is worth reporting.
func (s *Supervisor) retire(name string, task *supervisedTask) {
	s.mu.Lock()
	if current, ok := s.tasks[name]; ok && current == task {
		if task.permanentFailed || task.restartCount > 0 || task.lastErr != nil {
			s.finished[name] = childStatus(task)
		}
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	close(task.done)
}

type siblingRespawn struct {
	name     string
	previous *supervisedTask
	spec     SupervisorChildSpec
	run      func(ctx context.Context) error
	restarts int
}

// respawnSiblings tears down and relaunches every other task under the
// one_for_all strategy.
func (s *Supervisor) respawnSiblings(trigger string, cause error) {
	s.mu.Lock()
	respawns := make([]siblingRespawn, 0, len(s.tasks))
	for name, task := range s.tasks {
		if name == trigger {
			continue
		}
		respawns = append(respawns, siblingRespawn{
			name:     name,
			previous: task,
			spec:     task.spec,
			run:      task.run,
			restarts: task.restartCount,
		})
		task.cancel()
	}
	s.mu.Unlock()

	for _, sibling := range respawns {
		<-sibling.previous.done
	}

	if cause == nil {
		cause = errors.New("one_for_all restart")
	}
	for _, sibling := range respawns {
		if !shouldRestart(sibling.spec.Restart, cause) {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		next := &supervisedTask{
			cancel:       cancel,
			done:         make(chan struct{}),
			spec:         sibling.spec,
			run:          sibling.run,
			restartCount: sibling.restarts + 1,
			lastErr:      cause,
		}
		s.mu.Lock()
		// A sibling replaced through Stop and Start meanwhile stays.
		if current, ok := s.tasks[sibling.name]; ok && current != sibling.previous {
			s.mu.Unlock()
			cancel()
			continue
		}
		s.tasks[sibling.name] = next
		s.mu.Unlock()
		if s.hooks.OnTaskRestart != nil {
			s.hooks.OnTaskRestart(sibling.name, cause, next.restartCount)
		}
		go s.runTask(sibling.name, next, ctx)
	}
}

func shouldRestart(policy SupervisorRestartPolicy, err error) bool {
	switch policy {
	case SupervisorRestartTransient:
		return err != nil
	case SupervisorRestartTemporary:
		return false
	default:
		return true
	}
}

func (s *Supervisor) haltOthers(trigger string) {
	s.mu.Lock()
	halted := make([]*supervisedTask, 0, len(s.tasks))
	for name, task := range s.tasks {
		if name == trigger {
			continue
		}
		halted = append(halted, task)
	}
	s.mu.Unlock()

	for _, task := range halted {
		task.cancel()
	}
	for _, task := range halted {
		<-task.done
	}
}

func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	delete(s.finished, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	task.cancel()
	<-task.done
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := make([]*supervisedTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.finished = make(map[string]SupervisorChildStatus)
	s.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
}

func (s *Supervisor) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Children reports active tasks plus retired ones whose status was
// kept for inspection.
func (s *Supervisor) Children() []SupervisorChildStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks)+len(s.finished))
	for name := range s.tasks {
		names = append(names, name)
	}
	for name := range s.finished {
		if _, active := s.tasks[name]; active {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SupervisorChildStatus, 0, len(names))
	for _, name := range names {
		if task, ok := s.tasks[name]; ok {
			out = append(out, childStatus(task))
			continue
		}
		if finished, ok := s.finished[name]; ok {
			out = append(out, finished)
		}
	}
	return out
}

func childStatus(task *supervisedTask) SupervisorChildStatus {
	return SupervisorChildStatus{
		Name:            task.spec.Name,
		RestartPolicy:   task.spec.Restart,
		RestartCount:    task.restartCount,
		LastError:       errString(task.lastErr),
		PermanentFailed: task.permanentFailed,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
