// ABOUTME: Tests for the process supervisor against real short-lived shell processes.
// ABOUTME: Covers start/poll/stop transitions, spawn failure, single-writer starts, and restart recovery.
package supervisor

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/2389-research/mdsession/session/core"
)

type launcherFunc func(LaunchSpec) (*exec.Cmd, error)

func (f launcherFunc) Command(spec LaunchSpec) (*exec.Cmd, error) { return f(spec) }

func newSession(t *testing.T, run core.RunState) *core.SessionHandle {
	t.Helper()
	id := core.NewSessionID()
	h := core.SpawnActor(id, nil, nil)
	_, err := h.SendCommand(core.CreateSessionCommand{
		Session: core.Session{ID: id, WorkDir: t.TempDir(), Run: run},
		Config:  map[string]any{"gromacs": map[string]any{"nsteps": 1000}},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return h
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	if ch == nil {
		t.Fatal("no process record")
	}
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestStartIsNeverIdleOrFinishedImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newSession(t, core.RunState{})
	defer h.Close()
	sup := New(ShellLauncher{Script: "sleep 5"}, zap.NewNop())

	res, err := sup.Start(h)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.PID <= 0 || len(res.ExpectedFiles) != 4 {
		t.Errorf("StartResult = %+v", res)
	}
	run, err := sup.Poll(h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if run.Status != core.StatusSettingUp && run.Status != core.StatusRunning {
		t.Errorf("status right after start = %s", run.Status)
	}
	if run.ExpectedSteps != 1000 || run.LogFile != LogFile {
		t.Errorf("run state = %+v", run)
	}

	stopped, err := sup.Stop(h)
	if err != nil || !stopped {
		t.Fatalf("Stop = %v, %v", stopped, err)
	}
	waitDone(t, sup.Done(h.SessionID))
}

func TestCleanExitBecomesFinished(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newSession(t, core.RunState{})
	defer h.Close()
	sup := New(ShellLauncher{Script: "exit 0"}, zap.NewNop())

	if _, err := sup.Start(h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, sup.Done(h.SessionID))

	run, err := sup.Poll(h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if run.Status != core.StatusFinished {
		t.Fatalf("status = %s, want finished", run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", run.ExitCode)
	}

	// Terminal statuses are sticky.
	for i := 0; i < 3; i++ {
		if run, _ := sup.Poll(h); run.Status != core.StatusFinished {
			t.Fatalf("re-poll regressed status to %s", run.Status)
		}
	}
	if stopped, _ := sup.Stop(h); stopped {
		t.Error("Stop on finished session should report false")
	}
	if _, err := sup.Start(h); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("restart from finished err = %v, want ErrInvalidTransition", err)
	}
}

func TestNonzeroExitBecomesFailed(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newSession(t, core.RunState{})
	defer h.Close()
	sup := New(ShellLauncher{Script: "exit 3"}, zap.NewNop())

	if _, err := sup.Start(h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, sup.Done(h.SessionID))
	run, _ := sup.Poll(h)
	if run.Status != core.StatusFailed || run.ExitCode == nil || *run.ExitCode != 3 {
		t.Errorf("run = %+v, want failed with code 3", run)
	}
}

func TestExternalKillBecomesFailed(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newSession(t, core.RunState{})
	defer h.Close()
	sup := New(ShellLauncher{Script: "sleep 5"}, zap.NewNop())

	res, err := sup.Start(h)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := syscall.Kill(-res.PID, syscall.SIGKILL); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitDone(t, sup.Done(h.SessionID))

	run, _ := sup.Poll(h)
	if run.Status != core.StatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.Message == "" {
		t.Error("failed run should carry a message")
	}
}

func TestStopReturnsToIdleAndKeepsIt(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newSession(t, core.RunState{})
	defer h.Close()
	sup := New(ShellLauncher{Script: "sleep 5"}, zap.NewNop())

	if stopped, err := sup.Stop(h); stopped || err != nil {
		t.Fatalf("Stop on idle = %v, %v", stopped, err)
	}
	if _, err := sup.Start(h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped, err := sup.Stop(h)
	if err != nil || !stopped {
		t.Fatalf("Stop = %v, %v", stopped, err)
	}
	waitDone(t, sup.Done(h.SessionID))

	run, _ := sup.Poll(h)
	if run.Status != core.StatusIdle {
		t.Errorf("status after stop = %s, want idle", run.Status)
	}

	// A stopped session may start again.
	sup2 := New(ShellLauncher{Script: "exit 0"}, zap.NewNop())
	if _, err := sup2.Start(h); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	waitDone(t, sup2.Done(h.SessionID))
	if run, _ := sup2.Poll(h); run.Status != core.StatusFinished {
		t.Errorf("status after second run = %s", run.Status)
	}
}

func TestConcurrentStartsHaveOneWinner(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newSession(t, core.RunState{})
	defer h.Close()
	sup := New(ShellLauncher{Script: "sleep 5"}, zap.NewNop())

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sup.Start(h)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, core.ErrInvalidTransition):
		default:
			t.Errorf("unexpected Start error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want 1", wins)
	}
	if _, err := sup.Stop(h); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, sup.Done(h.SessionID))
}

func TestSpawnFailureBecomesFailed(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newSession(t, core.RunState{})
	defer h.Close()
	sup := New(launcherFunc(func(LaunchSpec) (*exec.Cmd, error) {
		return exec.Command("/nonexistent/engine-binary"), nil
	}), zap.NewNop())

	_, err := sup.Start(h)
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("Start err = %v, want ErrSpawnFailed", err)
	}
	run := h.Run()
	if run.Status != core.StatusFailed || run.Message == "" {
		t.Errorf("run = %+v, want failed with message", run)
	}
}

func TestPollWithoutRecordResolvesDeadProcess(t *testing.T) {
	defer goleak.VerifyNone(t)
	dead := exec.Command("true")
	if err := dead.Run(); err != nil {
		t.Fatalf("run true: %v", err)
	}
	h := newSession(t, core.RunState{Status: core.StatusRunning, PID: dead.Process.Pid})
	defer h.Close()
	sup := New(ShellLauncher{Script: "true"}, zap.NewNop())

	run, err := sup.Poll(h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if run.Status != core.StatusFailed || run.ExitCode != nil {
		t.Errorf("run = %+v, want failed with unknown exit code", run)
	}
}

func TestPollWithoutRecordKeepsLiveProcess(t *testing.T) {
	defer goleak.VerifyNone(t)
	live := exec.Command("sleep", "5")
	live.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := live.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() {
		_ = live.Process.Kill()
		_ = live.Wait()
	}()

	h := newSession(t, core.RunState{Status: core.StatusRunning, PID: live.Process.Pid})
	defer h.Close()
	sup := New(ShellLauncher{Script: "true"}, zap.NewNop())

	if run, _ := sup.Poll(h); run.Status != core.StatusRunning {
		t.Errorf("status = %s, want running", run.Status)
	}
	stopped, err := sup.Stop(h)
	if err != nil || !stopped {
		t.Errorf("Stop without record = %v, %v", stopped, err)
	}
}

func TestPollInterruptedSetupFails(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newSession(t, core.RunState{Status: core.StatusSettingUp})
	defer h.Close()
	sup := New(ShellLauncher{Script: "true"}, zap.NewNop())

	if run, _ := sup.Poll(h); run.Status != core.StatusFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
}

// preparedShell prepares inputs like GromacsLauncher but runs script.
type preparedShell struct {
	GromacsLauncher
	script string
}

func (l preparedShell) Command(LaunchSpec) (*exec.Cmd, error) {
	return exec.Command("sh", "-c", l.script), nil
}

func newRunnableSession(t *testing.T) *core.SessionHandle {
	t.Helper()
	id := core.NewSessionID()
	dir := t.TempDir()
	writeFiles(t, dir, "ala2.pdb")
	h := core.SpawnActor(id, nil, nil)
	if _, err := h.SendCommand(core.CreateSessionCommand{
		Session: core.Session{ID: id, WorkDir: dir},
		Config:  runnableConfig(),
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return h
}

func TestStartGeneratesInputsBeforeSpawning(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newRunnableSession(t)
	defer h.Close()
	writeFiles(t, h.Session().WorkDir, "md.tpr")
	sup := New(preparedShell{script: "test -f md.mdp && test ! -e md.tpr"}, zap.NewNop())

	if _, err := sup.Start(h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, sup.Done(h.SessionID))
	if run, _ := sup.Poll(h); run.Status != core.StatusFinished {
		t.Errorf("run = %+v, want finished with fresh inputs", run)
	}
}

func TestStartRefusesUnlaunchableAndStaysIdle(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newSession(t, core.RunState{})
	defer h.Close()
	sup := New(preparedShell{script: "true"}, zap.NewNop())

	_, err := sup.Start(h)
	if !errors.Is(err, ErrNotLaunchable) {
		t.Fatalf("Start err = %v, want ErrNotLaunchable", err)
	}
	if run := h.Run(); run.Status != core.StatusIdle {
		t.Fatalf("status after refused start = %s, want idle", run.Status)
	}

	// A session with complete inputs starts on the same supervisor.
	h2 := newRunnableSession(t)
	defer h2.Close()
	if _, err := sup.Start(h2); err != nil {
		t.Fatalf("Start with inputs: %v", err)
	}
	waitDone(t, sup.Done(h2.SessionID))
}
