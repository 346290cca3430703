// ABOUTME: Tests for the session registry against real storage and shell-launched processes.
// ABOUTME: Covers create/seed, rename, delete keeping files, listing order and restart recovery.
package server

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/session/store"
	"github.com/2389-research/mdsession/simconfig"
	"github.com/2389-research/mdsession/supervisor"
)

type fixture struct {
	home string
	st   *store.StorageManager
	reg  *Registry
	sup  *supervisor.Supervisor
}

func newFixture(t *testing.T, home string, launcher supervisor.Launcher) *fixture {
	t.Helper()
	st, err := store.NewStorageManager(home, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStorageManager: %v", err)
	}
	catalog, err := simconfig.DefaultCatalog()
	if err != nil {
		t.Fatal(err)
	}
	sup := supervisor.New(launcher, zap.NewNop())
	reg := NewRegistry(st, catalog, sup, nil, filepath.Join(home, "workspaces"), zap.NewNop())
	f := &fixture{home: home, st: st, reg: reg, sup: sup}
	t.Cleanup(func() {
		reg.Close()
		_ = st.Close()
	})
	return f
}

func TestCreateSeedsAndWritesConfig(t *testing.T) {
	f := newFixture(t, t.TempDir(), supervisor.ShellLauncher{Script: "exit 0"})

	created, err := f.reg.Create(CreateRequest{Nickname: "ala", Owner: "ana", Preset: "md", System: "ala_dipeptide"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !core.ValidSessionID(created.SessionID) {
		t.Errorf("session id %q is not a uuid", created.SessionID)
	}
	if want := filepath.Join(f.home, "workspaces", created.SessionID); created.WorkDir != want {
		t.Errorf("WorkDir = %q, want %q", created.WorkDir, want)
	}
	if len(created.SeededFiles) != 1 || created.SeededFiles[0] != "ala2.pdb" {
		t.Errorf("SeededFiles = %v", created.SeededFiles)
	}
	if _, err := os.Stat(filepath.Join(created.WorkDir, "ala2.pdb")); err != nil {
		t.Errorf("seed not written: %v", err)
	}
	tree, err := simconfig.LoadYAML(filepath.Join(created.WorkDir, simconfig.ConfigFile))
	if err != nil {
		t.Fatalf("config.yaml: %v", err)
	}
	if got := simconfig.MethodName(tree); got == "" {
		t.Error("config.yaml has no method name")
	}

	h, err := f.reg.Get(created.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	sess := h.Session()
	if sess.SelectedArtifact != "ala2.pdb" || sess.Owner != "ana" || sess.Run.Status != core.StatusIdle {
		t.Errorf("session = %+v", sess)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t, t.TempDir(), supervisor.ShellLauncher{Script: "exit 0"})
	if _, err := f.reg.Create(CreateRequest{WorkDirTemplate: "../escape"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("traversal template err = %v", err)
	}
	if _, err := f.reg.Create(CreateRequest{EngineTemplate: "nope"}); !errors.Is(err, simconfig.ErrUnknownOption) {
		t.Errorf("unknown engine template err = %v", err)
	}
}

func TestCreateWithTemplate(t *testing.T) {
	f := newFixture(t, t.TempDir(), supervisor.ShellLauncher{Script: "exit 0"})
	created, err := f.reg.Create(CreateRequest{WorkDirTemplate: "ana/{session_id}/run"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := filepath.Join(f.home, "workspaces", "ana", created.SessionID, "run")
	if created.WorkDir != want {
		t.Errorf("WorkDir = %q, want %q", created.WorkDir, want)
	}
}

func TestRenameSelectAndList(t *testing.T) {
	f := newFixture(t, t.TempDir(), supervisor.ShellLauncher{Script: "exit 0"})
	a, _ := f.reg.Create(CreateRequest{Nickname: "a", Owner: "ana"})
	time.Sleep(5 * time.Millisecond)
	b, _ := f.reg.Create(CreateRequest{Nickname: "b", Owner: "ana"})
	if _, err := f.reg.Create(CreateRequest{Nickname: "c", Owner: "bo"}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	sess, err := f.reg.Rename(a.SessionID, "  renamed ")
	if err != nil || sess.Nickname != "renamed" {
		t.Fatalf("Rename = %+v, %v", sess, err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := f.reg.SetSelectedArtifact(b.SessionID, "x.gro"); err != nil {
		t.Fatal(err)
	}

	rows, err := f.reg.List("ana")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].SessionID != b.SessionID {
		t.Errorf("newest first: got %s first", rows[0].Nickname)
	}
	if rows[1].Nickname != "renamed" {
		t.Errorf("rows[1] = %+v", rows[1])
	}

	if _, err := f.reg.Rename("missing", "x"); !errors.As(err, new(*core.SessionNotFoundError)) {
		t.Errorf("missing session err = %v", err)
	}
}

func TestDeleteStopsRunAndKeepsFiles(t *testing.T) {
	f := newFixture(t, t.TempDir(), supervisor.ShellLauncher{Script: "sleep 30"})
	created, _ := f.reg.Create(CreateRequest{System: "ala_dipeptide"})
	h, _ := f.reg.Get(created.SessionID)
	if _, err := f.sup.Start(h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := f.sup.Done(created.SessionID)

	if err := f.reg.Delete(created.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process still running after delete")
	}
	if _, err := f.reg.Get(created.SessionID); err == nil {
		t.Error("deleted session still registered")
	}
	if _, err := os.Stat(filepath.Join(created.WorkDir, "ala2.pdb")); err != nil {
		t.Errorf("files removed: %v", err)
	}
	rows, _ := f.reg.List("")
	if len(rows) != 0 {
		t.Errorf("rows = %+v", rows)
	}
	if err := f.reg.Delete(created.SessionID); err == nil {
		t.Error("second delete should fail")
	}
}

func TestRecoverResolvesDeadRun(t *testing.T) {
	home := t.TempDir()
	f := newFixture(t, home, supervisor.ShellLauncher{Script: "exit 0"})
	created, _ := f.reg.Create(CreateRequest{Nickname: "crashed"})
	h, _ := f.reg.Get(created.SessionID)

	// Simulate a server that died while a run it launched was active.
	dead := deadPID(t)
	for _, step := range []core.TransitionRunCommand{
		{To: core.StatusSettingUp},
		{To: core.StatusRunning, Patch: func(r *core.RunState) { r.PID = dead }},
	} {
		if _, err := h.SendCommand(step); err != nil {
			t.Fatal(err)
		}
	}
	f.reg.Close()
	_ = f.st.Close()

	g := newFixture(t, home, supervisor.ShellLauncher{Script: "exit 0"})
	n, err := g.reg.Recover()
	if err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v", n, err)
	}
	h2, err := g.reg.Get(created.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got := h2.Run().Status; got != core.StatusFailed {
		t.Errorf("recovered status = %s, want failed", got)
	}
	if h2.Session().Nickname != "crashed" {
		t.Errorf("nickname lost: %+v", h2.Session())
	}
}

// deadPID returns the pid of a process that has already exited.
func deadPID(t *testing.T) int {
	t.Helper()
	p, err := os.StartProcess("/bin/sh", []string{"sh", "-c", "exit 0"}, &os.ProcAttr{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	return p.Pid
}
