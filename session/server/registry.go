// ABOUTME: Session registry: creates, looks up, renames and deletes sessions backed by actors.
// ABOUTME: Startup recovery respawns actors from disk and re-polls any run left active.
package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/2389-research/mdsession/agent"
	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/session/store"
	"github.com/2389-research/mdsession/simconfig"
	"github.com/2389-research/mdsession/supervisor"
)

// ErrInvalidRequest indicates a malformed create or update request.
var ErrInvalidRequest = errors.New("invalid request")

// SessionIDPlaceholder is substituted into work dir templates.
const SessionIDPlaceholder = "{session_id}"

// CreateRequest describes a new session.
type CreateRequest struct {
	WorkDirTemplate string `json:"work_dir_template"`
	Nickname        string `json:"nickname"`
	Owner           string `json:"owner"`
	Preset          string `json:"preset"`
	System          string `json:"system"`
	EngineTemplate  string `json:"engine_template"`
}

// Created is returned by Create.
type Created struct {
	SessionID   string   `json:"session_id"`
	WorkDir     string   `json:"work_dir"`
	Nickname    string   `json:"nickname"`
	SeededFiles []string `json:"seeded_files"`
}

// Registry owns every live session actor.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*core.SessionHandle

	store         *store.StorageManager
	catalog       *simconfig.Catalog
	supervisor    *supervisor.Supervisor
	conversations *agent.Conversations
	workspaces    string
	logger        *zap.Logger
}

// NewRegistry wires a registry. workspaces is the root for work dirs.
func NewRegistry(st *store.StorageManager, catalog *simconfig.Catalog, sup *supervisor.Supervisor, conversations *agent.Conversations, workspaces string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if conversations == nil {
		conversations = agent.NewConversations()
	}
	return &Registry{
		handles:       make(map[string]*core.SessionHandle),
		store:         st,
		catalog:       catalog,
		supervisor:    sup,
		conversations: conversations,
		workspaces:    workspaces,
		logger:        logger.With(zap.String("component", "session.registry")),
	}
}

// Supervisor returns the process supervisor.
func (r *Registry) Supervisor() *supervisor.Supervisor { return r.supervisor }

// Catalog returns the config catalog.
func (r *Registry) Catalog() *simconfig.Catalog { return r.catalog }

// Conversations returns the per-session chat histories.
func (r *Registry) Conversations() *agent.Conversations { return r.conversations }

// resolveWorkDir expands a template into an absolute path under the
// workspace root. An empty template yields root/{session_id}.
func (r *Registry) resolveWorkDir(template, id string) (string, error) {
	if template == "" {
		template = SessionIDPlaceholder
	}
	rel := strings.ReplaceAll(template, SessionIDPlaceholder, id)
	root, err := filepath.Abs(r.workspaces)
	if err != nil {
		return "", err
	}
	var dir string
	if filepath.IsAbs(rel) {
		dir = filepath.Clean(rel)
	} else {
		dir = filepath.Join(root, rel)
	}
	within, err := filepath.Rel(root, dir)
	if err != nil || within == "." || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: work dir %q is outside %s", ErrInvalidRequest, template, root)
	}
	return dir, nil
}

// Create allocates an id and working dir, seeds files for the chosen
// system, writes config.yaml and registers the session.
func (r *Registry) Create(req CreateRequest) (Created, error) {
	id := core.NewSessionID()
	workDir, err := r.resolveWorkDir(req.WorkDirTemplate, id)
	if err != nil {
		return Created{}, err
	}

	choice := r.catalog.Resolve(req.Preset, simconfig.Choice{System: req.System, Gromacs: req.EngineTemplate})
	tree, err := r.catalog.Compose(choice)
	if err != nil {
		return Created{}, err
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Created{}, fmt.Errorf("create work dir: %w", err)
	}
	seeded, err := r.catalog.WriteSeeds(choice.System, workDir)
	if err != nil {
		return Created{}, err
	}
	if err := simconfig.WriteConfig(workDir, tree); err != nil {
		return Created{}, err
	}

	now := time.Now().UTC()
	sess := core.Session{
		ID:        id,
		Owner:     req.Owner,
		Nickname:  req.Nickname,
		WorkDir:   workDir,
		Choice:    choice,
		CreatedAt: now,
		UpdatedAt: now,
		Run:       core.RunState{Status: core.StatusIdle},
	}
	if len(seeded) > 0 {
		sess.SelectedArtifact = seeded[0]
	}

	h := core.SpawnActor(id, nil, r.store)
	if _, err := h.SendCommand(core.CreateSessionCommand{Session: sess, Config: tree}); err != nil {
		h.Close()
		return Created{}, fmt.Errorf("record session: %w", err)
	}

	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()

	r.logger.Info("session created", zap.String("action", "session_created"),
		zap.String("session_id", id), zap.String("work_dir", workDir), zap.Strings("seeded", seeded))
	return Created{SessionID: id, WorkDir: workDir, Nickname: req.Nickname, SeededFiles: seeded}, nil
}

// Get returns the live handle for id.
func (r *Registry) Get(id string) (*core.SessionHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, &core.SessionNotFoundError{ID: id}
	}
	return h, nil
}

// Rename sets the nickname. Setting the current nickname is a no-op.
func (r *Registry) Rename(id, nickname string) (core.Session, error) {
	return r.update(id, core.RenameCommand{Nickname: strings.TrimSpace(nickname)})
}

// SetSelectedArtifact records the primary artifact.
func (r *Registry) SetSelectedArtifact(id, name string) (core.Session, error) {
	return r.update(id, core.SelectArtifactCommand{Name: name})
}

// SetRunStatus moves the run status along a legal edge. Re-setting the
// current status is a no-op.
func (r *Registry) SetRunStatus(id string, status core.RunStatus) (core.Session, error) {
	return r.update(id, core.TransitionRunCommand{To: status, AllowSame: true})
}

func (r *Registry) update(id string, cmd core.Command) (core.Session, error) {
	h, err := r.Get(id)
	if err != nil {
		return core.Session{}, err
	}
	if _, err := h.SendCommand(cmd); err != nil {
		return core.Session{}, err
	}
	return h.Session(), nil
}

// Delete stops any running process and removes the session from the
// registry. Working-dir files and the journal stay on disk.
func (r *Registry) Delete(id string) error {
	h, err := r.Get(id)
	if err != nil {
		return err
	}
	if r.supervisor != nil {
		if _, err := r.supervisor.Stop(h); err != nil {
			r.logger.Warn("stop before delete failed", zap.String("action", "delete_stop_failed"),
				zap.String("session_id", id), zap.Error(err))
		}
	}
	if _, err := h.SendCommand(core.DeleteSessionCommand{}); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()

	h.Close()
	if r.supervisor != nil {
		r.supervisor.Forget(id)
	}
	r.conversations.Drop(id)
	r.logger.Info("session deleted", zap.String("action", "session_deleted"), zap.String("session_id", id))
	return nil
}

// List returns index rows, newest updated first, filtered by owner when set.
func (r *Registry) List(owner string) ([]store.SessionRow, error) {
	return r.store.Index().ListSessions(owner)
}

// Recover respawns an actor for every session on disk and re-polls runs
// that were active when the server stopped. It returns the number recovered.
func (r *Registry) Recover() (int, error) {
	states, err := r.store.RecoverAll()
	if err != nil {
		return 0, err
	}
	for _, state := range states {
		id := state.Session.ID
		h := core.SpawnActor(id, state, r.store)
		r.mu.Lock()
		r.handles[id] = h
		r.mu.Unlock()

		if r.supervisor != nil && state.Session.Run.Status.Active() {
			run, err := r.supervisor.Poll(h)
			if err != nil {
				r.logger.Warn("recovery poll failed", zap.String("action", "recover_poll_failed"),
					zap.String("session_id", id), zap.Error(err))
				continue
			}
			r.logger.Info("recovered active run", zap.String("action", "recover_poll"),
				zap.String("session_id", id), zap.String("run_status", string(run.Status)))
		}
	}
	return len(states), nil
}

// IDs returns every live session id.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every actor. Running processes are left alone so a restart
// can reattach to them by PID.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.handles {
		h.Close()
		delete(r.handles, id)
	}
}
