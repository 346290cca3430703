// ABOUTME: Process supervisor that runs at most one engine process per session.
// ABOUTME: Start/Stop/Poll drive RunStatus through the session actor so every transition is persisted.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/simconfig"
)

// ErrSpawnFailed wraps errors that prevented the process from starting.
var ErrSpawnFailed = errors.New("failed to start simulation process")

// OutputLog captures the engine's stdout and stderr.
const OutputLog = SimulationDir + "/engine.out"

// StartResult is returned by a successful Start.
type StartResult struct {
	Status        core.RunStatus `json:"status"`
	PID           int            `json:"pid"`
	ExpectedFiles []string       `json:"expected_files"`
}

// process is the in-memory record of a spawned child.
type process struct {
	pid  int
	done chan struct{}

	mu            sync.Mutex
	exitCode      int
	signal        string
	stopRequested bool
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) requestStop(v bool) {
	p.mu.Lock()
	p.stopRequested = v
	p.mu.Unlock()
}

func (p *process) result() (code int, signal string, stopped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.signal, p.stopRequested
}

// Supervisor owns the live processes of every session.
type Supervisor struct {
	launcher Launcher
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	procs    map[string]*process
	starting map[string]int
}

// New returns a supervisor that builds commands with launcher.
func New(launcher Launcher, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		launcher: launcher,
		logger:   logger.With(zap.String("component", "supervisor")),
		now:      func() time.Time { return time.Now().UTC() },
		procs:    make(map[string]*process),
		starting: make(map[string]int),
	}
}

func (s *Supervisor) lookup(id string) *process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

// setStarting counts in-flight Start calls so Poll does not fail a session
// that is legitimately between setting_up and running.
func (s *Supervisor) setStarting(id string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.starting[id]++
		return
	}
	if s.starting[id]--; s.starting[id] <= 0 {
		delete(s.starting, id)
	}
}

func (s *Supervisor) isStarting(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starting[id] > 0
}

// Done returns a channel closed when the session's current process exits,
// or nil when the supervisor has no record of one.
func (s *Supervisor) Done(sessionID string) <-chan struct{} {
	if p := s.lookup(sessionID); p != nil {
		return p.done
	}
	return nil
}

// Start spawns the engine for an idle session. The status check-and-set
// idle→setting_up happens on the session actor, so concurrent callers race
// safely and exactly one wins. A Preparer launcher is checked first, while
// the session is still idle, and its inputs are written during setting_up.
// Start returns once the OS reports the process started; it never waits for
// the run.
func (s *Supervisor) Start(h *core.SessionHandle) (StartResult, error) {
	sess := h.Session()
	cfg := h.Config()
	steps, _ := simconfig.ExpectedSteps(cfg)
	expected := append([]string(nil), ExpectedFiles...)

	spec := LaunchSpec{WorkDir: sess.WorkDir, Config: cfg}
	prep, _ := s.launcher.(Preparer)
	if prep != nil && sess.Run.Status == core.StatusIdle {
		if err := prep.Check(spec); err != nil {
			return StartResult{}, fmt.Errorf("%w: %w", ErrNotLaunchable, err)
		}
	}

	s.setStarting(sess.ID, true)
	defer s.setStarting(sess.ID, false)

	_, err := h.SendCommand(core.TransitionRunCommand{
		To: core.StatusSettingUp,
		Patch: func(r *core.RunState) {
			*r = core.RunState{
				ExpectedFiles: expected,
				ExpectedSteps: steps,
				LogFile:       LogFile,
			}
		},
	})
	if err != nil {
		return StartResult{}, err
	}

	cmd, err := s.spawn(spec, prep)
	if err != nil {
		s.logger.Warn("spawn failed", zap.String("action", "spawn_failed"),
			zap.String("session_id", sess.ID), zap.Error(err))
		msg := err.Error()
		if _, terr := h.SendCommand(core.TransitionRunCommand{
			To: core.StatusFailed,
			Patch: func(r *core.RunState) {
				r.Message = msg
				ended := s.now()
				r.EndedAt = &ended
			},
		}); terr != nil {
			s.logger.Error("record spawn failure", zap.String("action", "transition_failed"),
				zap.String("session_id", sess.ID), zap.Error(terr))
		}
		return StartResult{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	proc := &process{pid: cmd.Process.Pid, done: make(chan struct{})}
	s.mu.Lock()
	s.procs[sess.ID] = proc
	s.mu.Unlock()

	started := s.now()
	if _, err := h.SendCommand(core.TransitionRunCommand{
		To: core.StatusRunning,
		Patch: func(r *core.RunState) {
			r.PID = proc.pid
			r.StartedAt = &started
		},
	}); err != nil {
		// The session went away underneath us; do not leave an orphan.
		killGroup(proc.pid, syscall.SIGKILL)
		go s.wait(h, cmd, proc)
		return StartResult{}, fmt.Errorf("record running state: %w", err)
	}

	s.logger.Info("process started", zap.String("action", "started"),
		zap.String("session_id", sess.ID), zap.Int("pid", proc.pid))
	go s.wait(h, cmd, proc)

	return StartResult{Status: core.StatusRunning, PID: proc.pid, ExpectedFiles: expected}, nil
}

// spawn prepares inputs, then builds and starts the command detached in its
// own process group.
func (s *Supervisor) spawn(spec LaunchSpec, prep Preparer) (*exec.Cmd, error) {
	workDir := spec.WorkDir
	if workDir == "" {
		return nil, errors.New("session has no working directory")
	}
	simDir := filepath.Join(workDir, SimulationDir)
	if err := os.MkdirAll(simDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", SimulationDir, err)
	}
	if prep != nil {
		if err := prep.Prepare(spec); err != nil {
			return nil, err
		}
	}
	cmd, err := s.launcher.Command(spec)
	if err != nil {
		return nil, err
	}
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	out, err := os.OpenFile(filepath.Join(workDir, OutputLog), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open engine output: %w", err)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, err
	}
	// The child holds its own descriptor now.
	out.Close()
	return cmd, nil
}

// wait reaps the process, records its exit, and resolves the session status.
func (s *Supervisor) wait(h *core.SessionHandle, cmd *exec.Cmd, proc *process) {
	err := cmd.Wait()

	code, sig := 0, ""
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			sig = ws.Signal().String()
		}
	} else if err != nil {
		code = -1
	}
	proc.mu.Lock()
	proc.exitCode = code
	proc.signal = sig
	proc.mu.Unlock()
	close(proc.done)

	s.logger.Info("process exited", zap.String("action", "exited"),
		zap.String("session_id", h.SessionID), zap.Int("pid", proc.pid),
		zap.Int("exit_code", code), zap.String("signal", sig))

	if _, err := s.Poll(h); err != nil && !errors.Is(err, core.ErrChannelClosed) && !errors.Is(err, core.ErrSessionDeleted) {
		s.logger.Warn("resolve exit", zap.String("action", "resolve_failed"),
			zap.String("session_id", h.SessionID), zap.Error(err))
	}
}

// Stop terminates a running session's process group and returns the session
// to idle. It reports false when the session is not running.
func (s *Supervisor) Stop(h *core.SessionHandle) (bool, error) {
	run := h.Run()
	if run.Status != core.StatusRunning {
		return false, nil
	}
	proc := s.lookup(h.SessionID)
	if proc != nil {
		proc.requestStop(true)
	}

	_, err := h.SendCommand(core.TransitionRunCommand{
		To: core.StatusIdle,
		Patch: func(r *core.RunState) {
			r.Message = "stopped by request"
			ended := s.now()
			r.EndedAt = &ended
		},
	})
	if err != nil {
		if proc != nil {
			proc.requestStop(false)
		}
		if errors.Is(err, core.ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}

	pid := run.PID
	if proc != nil {
		pid = proc.pid
	}
	if pid > 0 {
		killGroup(pid, syscall.SIGTERM)
	}
	s.logger.Info("process stopped", zap.String("action", "stopped"),
		zap.String("session_id", h.SessionID), zap.Int("pid", pid))
	return true, nil
}

// Poll reconciles the recorded status with the process. It never spawns.
// Terminal and idle statuses are returned unchanged.
func (s *Supervisor) Poll(h *core.SessionHandle) (core.RunState, error) {
	run := h.Run()
	if !run.Status.Active() {
		return run, nil
	}

	proc := s.lookup(h.SessionID)
	var (
		to      core.RunStatus
		code    *int
		message string
	)
	switch {
	case proc != nil && !proc.exited():
		return run, nil
	case proc != nil:
		exit, sig, stopped := proc.result()
		if stopped {
			return h.Run(), nil
		}
		code = &exit
		switch {
		case sig != "":
			to, message = core.StatusFailed, "terminated by signal: "+sig
		case exit == 0:
			to = core.StatusFinished
		default:
			to, message = core.StatusFailed, fmt.Sprintf("exited with code %d", exit)
		}
	case run.Status == core.StatusRunning && run.PID > 0 && processAlive(run.PID):
		return run, nil
	case run.Status == core.StatusSettingUp && s.isStarting(h.SessionID):
		return run, nil
	case run.Status == core.StatusSettingUp:
		to, message = core.StatusFailed, "setup interrupted before the process started"
	default:
		to, message = core.StatusFailed, "process exited without a recorded exit status"
	}

	ended := s.now()
	_, err := h.SendCommand(core.TransitionRunCommand{
		To:        to,
		AllowSame: true,
		Patch: func(r *core.RunState) {
			r.ExitCode = code
			r.Message = message
			r.EndedAt = &ended
		},
	})
	if err != nil && !errors.Is(err, core.ErrInvalidTransition) {
		return h.Run(), err
	}
	// A concurrent Stop or Poll may have won the transition.
	return h.Run(), nil
}

// Forget drops the in-memory record for a session whose process has exited.
func (s *Supervisor) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[sessionID]; ok && p.exited() {
		delete(s.procs, sessionID)
	}
}

// killGroup signals the process group led by pid.
func killGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}

// processAlive reports whether pid exists. EPERM means it exists but
// belongs to someone else.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
