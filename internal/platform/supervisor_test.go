package platform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisorRestartsFailingTask(t *testing.T) {
	supervisor := NewSupervisor(SupervisorPolicy{
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  1,
	})
	var calls atomic.Int32
	failures := int32(2)
	run := func(ctx context.Context) error {
		call := calls.Add(1)
		if call <= failures {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}
	if err := supervisor.Start("restarting", run); err != nil {
		t.Fatalf("start supervisor task: %v", err)
	}
	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		if calls.Load() >= 3 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected task restarts to reach at least 3 calls, got=%d", calls.Load())
	}
	supervisor.StopAll()
	if len(supervisor.Tasks()) != 0 {
		t.Fatalf("expected no supervisor tasks after stop all, got=%v", supervisor.Tasks())
	}
}

func TestSupervisorStopsTaskByName(t *testing.T) {
	supervisor := NewSupervisor(SupervisorPolicy{
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  1,
	})
	stopped := make(chan struct{})
	if err := supervisor.Start("named-stop", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("start supervisor task: %v", err)
	}
	supervisor.Stop("named-stop")
	select {
	case <-stopped:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected supervised task to stop after named stop")
	}
	if len(supervisor.Tasks()) != 0 {
		t.Fatalf("expected no supervisor tasks after named stop, got=%v", supervisor.Tasks())
	}
}

func TestSupervisorRejectsDuplicateTaskName(t *testing.T) {
	supervisor := NewSupervisor(SupervisorPolicy{})
	if err := supervisor.Start("dup", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}); err != nil {
		t.Fatalf("start supervisor task: %v", err)
	}
	if err := supervisor.Start("dup", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected duplicate task name to fail")
	}
	supervisor.StopAll()
}

func TestSupervisorTemporaryTaskNeverRestarts(t *testing.T) {
	supervisor := NewSupervisor(SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
	})
	var calls atomic.Int32
	if err := supervisor.StartSpec(SupervisorChildSpec{
		Name:    "temporary",
		Restart: SupervisorRestartTemporary,
	}, func(context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("start supervisor task: %v", err)
	}
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(supervisor.Tasks()) == 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one temporary task call, got=%d", got)
	}
	if len(supervisor.Tasks()) != 0 {
		t.Fatalf("expected temporary task retired, got=%v", supervisor.Tasks())
	}
}

func TestSupervisorPermanentFailureHook(t *testing.T) {
	failures := make(chan struct {
		name      string
		restarts  int
		errString string
	}, 1)
	supervisor := NewSupervisorWithHooks(SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
		MaxRestarts:    1,
	}, SupervisorHooks{
		OnTaskPermanentFailure: func(name string, err error, restartCount int) {
			failures <- struct {
				name      string
				restarts  int
				errString string
			}{
				name:      name,
				restarts:  restartCount,
				errString: err.Error(),
			}
		},
	})
	if err := supervisor.Start("permanent", func(context.Context) error {
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("start supervisor task: %v", err)
	}
	select {
	case failure := <-failures:
		if failure.name != "permanent" {
			t.Fatalf("unexpected failure task name: %s", failure.name)
		}
		if failure.restarts != 1 {
			t.Fatalf("expected restart count 1, got=%d", failure.restarts)
		}
		if failure.errString != "boom" {
			t.Fatalf("unexpected failure error string: %s", failure.errString)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected permanent failure hook callback")
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	retained := false
	for time.Now().Before(deadline) {
		children := supervisor.Children()
		if len(supervisor.Tasks()) == 0 && len(children) == 1 && children[0].PermanentFailed {
			if children[0].Name != "permanent" || children[0].RestartCount != 1 || children[0].LastError != "boom" {
				t.Fatalf("unexpected retained child status: %+v", children[0])
			}
			retained = true
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !retained {
		t.Fatal("expected retained status for permanently failed task")
	}
	supervisor.StopAll()
	if len(supervisor.Children()) != 0 {
		t.Fatalf("expected cleared children after stop all, got=%+v", supervisor.Children())
	}
}

func TestSupervisorRestartHook(t *testing.T) {
	var restartCount atomic.Int32
	supervisor := NewSupervisorWithHooks(SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
		MaxRestarts:    2,
	}, SupervisorHooks{
		OnTaskRestart: func(string, error, int) {
			restartCount.Add(1)
		},
	})
	if err := supervisor.Start("restart-hook", func(context.Context) error {
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("start supervisor task: %v", err)
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if restartCount.Load() >= 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if restartCount.Load() < 2 {
		t.Fatalf("expected at least 2 restart callbacks, got=%d", restartCount.Load())
	}
	supervisor.StopAll()
}

func TestSupervisorOneForAllRestartsSiblings(t *testing.T) {
	supervisor := NewSupervisorWithHooks(SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
		Strategy:       SupervisorStrategyOneForAll,
	}, SupervisorHooks{})

	var failerCalls, siblingStarts atomic.Int32
	if err := supervisor.Start("failer", func(ctx context.Context) error {
		if failerCalls.Add(1) == 1 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("start failing task: %v", err)
	}
	if err := supervisor.Start("sibling", func(ctx context.Context) error {
		siblingStarts.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("start sibling task: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if siblingStarts.Load() >= 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if siblingStarts.Load() < 2 {
		t.Fatalf("expected one_for_all to restart sibling, starts=%d", siblingStarts.Load())
	}
	supervisor.StopAll()
	if len(supervisor.Tasks()) != 0 {
		t.Fatalf("expected no supervisor tasks after stop all, got=%v", supervisor.Tasks())
	}
}
