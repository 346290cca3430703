// ABOUTME: mux tools that let the chat agent inspect and edit one simulation session.
// ABOUTME: BuildRegistry binds config, status, file and progress tools to a session workspace.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/2389-research/mux/tool"

	"github.com/2389-research/mdsession/files"
	"github.com/2389-research/mdsession/progress"
	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/simconfig"
	"github.com/2389-research/mdsession/supervisor"
)

// Workspace is what the session tools operate on.
type Workspace struct {
	Handle     *core.SessionHandle
	Supervisor *supervisor.Supervisor
}

// BuildRegistry creates a registry with every session tool registered.
func BuildRegistry(ws Workspace) *tool.Registry {
	registry := tool.NewRegistry()
	registry.Register(&GetConfigTool{ws: ws})
	registry.Register(&UpdateConfigTool{ws: ws})
	registry.Register(&GenerateFilesTool{ws: ws})
	registry.Register(&SimulationStatusTool{ws: ws})
	registry.Register(&ListFilesTool{ws: ws})
	registry.Register(&ReadProgressTool{ws: ws})
	return registry
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	req := make([]any, 0, len(required))
	for _, r := range required {
		req = append(req, r)
	}
	return map[string]any{"type": "object", "properties": props, "required": req}
}

func jsonResult(name string, v any) (*tool.Result, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return tool.NewResult(name, false, "", err.Error()), nil
	}
	return tool.NewResult(name, true, string(data), ""), nil
}

// GetConfigTool returns the config tree or one value.
type GetConfigTool struct{ ws Workspace }

func (t *GetConfigTool) Name() string { return "get_config" }

func (t *GetConfigTool) Description() string {
	return "Read the session's simulation config. With a dotted path (e.g. method.hills.height) returns that value; otherwise the whole tree as YAML."
}

func (t *GetConfigTool) RequiresApproval(_ map[string]any) bool { return false }

func (t *GetConfigTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": "Optional dotted config path"},
	})
}

func (t *GetConfigTool) Execute(_ context.Context, input map[string]any) (*tool.Result, error) {
	cfg := t.ws.Handle.Config()
	if path, _ := input["path"].(string); path != "" {
		v, ok := simconfig.Get(cfg, path)
		if !ok {
			return tool.NewResult(t.Name(), false, "", fmt.Sprintf("no config value at %q", path)), nil
		}
		return jsonResult(t.Name(), map[string]any{"path": path, "value": v})
	}
	data, err := simconfig.MarshalYAML(cfg)
	if err != nil {
		return tool.NewResult(t.Name(), false, "", err.Error()), nil
	}
	return tool.NewResult(t.Name(), true, string(data), ""), nil
}

// UpdateConfigTool applies dotted-path updates while the session is idle.
type UpdateConfigTool struct{ ws Workspace }

func (t *UpdateConfigTool) Name() string { return "update_config" }

func (t *UpdateConfigTool) Description() string {
	return "Update simulation config values by dotted path. Only allowed while no simulation is running. Siblings of updated keys are preserved."
}

func (t *UpdateConfigTool) RequiresApproval(_ map[string]any) bool { return false }

func (t *UpdateConfigTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"updates": map[string]any{
			"type": "array",
			"items": objectSchema(map[string]any{
				"path":  map[string]any{"type": "string"},
				"value": map[string]any{},
			}, "path", "value"),
		},
	}, "updates")
}

func (t *UpdateConfigTool) Execute(_ context.Context, input map[string]any) (*tool.Result, error) {
	raw, ok := input["updates"].([]any)
	if !ok || len(raw) == 0 {
		return tool.NewResult(t.Name(), false, "", "updates must be a non-empty array"), nil
	}
	updates := make([]simconfig.Update, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return tool.NewResult(t.Name(), false, "", "each update must be an object with path and value"), nil
		}
		path, _ := m["path"].(string)
		updates = append(updates, simconfig.Update{Path: path, Value: m["value"]})
	}
	if _, err := t.ws.Handle.SendCommand(core.UpdateConfigCommand{Updates: updates}); err != nil {
		return tool.NewResult(t.Name(), false, "", err.Error()), nil
	}
	paths := make([]string, 0, len(updates))
	for _, u := range updates {
		paths = append(paths, u.Path)
	}
	return tool.NewResult(t.Name(), true, "updated: "+strings.Join(paths, ", "), ""), nil
}

// GenerateFilesTool writes config.yaml, md.mdp and plumed.dat.
type GenerateFilesTool struct{ ws Workspace }

func (t *GenerateFilesTool) Name() string { return "generate_files" }

func (t *GenerateFilesTool) Description() string {
	return "Regenerate the engine input files (config.yaml, md.mdp, plumed.dat for metadynamics) from the current config."
}

func (t *GenerateFilesTool) RequiresApproval(_ map[string]any) bool { return false }

func (t *GenerateFilesTool) InputSchema() map[string]any { return objectSchema(map[string]any{}) }

func (t *GenerateFilesTool) Execute(_ context.Context, _ map[string]any) (*tool.Result, error) {
	sess := t.ws.Handle.Session()
	generated, err := simconfig.Generate(sess.WorkDir, t.ws.Handle.Config())
	if err != nil {
		return tool.NewResult(t.Name(), false, "", err.Error()), nil
	}
	return jsonResult(t.Name(), map[string]any{"generated": generated, "work_dir": sess.WorkDir})
}

// SimulationStatusTool reports the reconciled run state.
type SimulationStatusTool struct{ ws Workspace }

func (t *SimulationStatusTool) Name() string { return "simulation_status" }

func (t *SimulationStatusTool) Description() string {
	return "Report whether the simulation is idle, setting up, running, finished or failed, with PID and exit code when known."
}

func (t *SimulationStatusTool) RequiresApproval(_ map[string]any) bool { return false }

func (t *SimulationStatusTool) InputSchema() map[string]any { return objectSchema(map[string]any{}) }

func (t *SimulationStatusTool) Execute(_ context.Context, _ map[string]any) (*tool.Result, error) {
	run := t.ws.Handle.Run()
	if t.ws.Supervisor != nil {
		polled, err := t.ws.Supervisor.Poll(t.ws.Handle)
		if err != nil {
			return tool.NewResult(t.Name(), false, "", err.Error()), nil
		}
		run = polled
	}
	return jsonResult(t.Name(), run)
}

// ListFilesTool lists working-directory files.
type ListFilesTool struct{ ws Workspace }

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files in the session working directory, optionally filtered by a glob on the file name (e.g. *.gro). Archived files are not shown."
}

func (t *ListFilesTool) RequiresApproval(_ map[string]any) bool { return false }

func (t *ListFilesTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"pattern": map[string]any{"type": "string", "description": "Glob on the base name"},
	})
}

func (t *ListFilesTool) Execute(_ context.Context, input map[string]any) (*tool.Result, error) {
	m, err := files.NewManager(t.ws.Handle.Session().WorkDir)
	if err != nil {
		return tool.NewResult(t.Name(), false, "", err.Error()), nil
	}
	pattern, _ := input["pattern"].(string)
	listing, err := m.List(pattern)
	if err != nil {
		return tool.NewResult(t.Name(), false, "", err.Error()), nil
	}
	if len(listing.Files) == 0 {
		return tool.NewResult(t.Name(), true, "(no files)", ""), nil
	}
	return tool.NewResult(t.Name(), true, strings.Join(listing.Files, "\n"), ""), nil
}

// ReadProgressTool reads the latest progress sample from the engine log.
type ReadProgressTool struct{ ws Workspace }

func (t *ReadProgressTool) Name() string { return "read_progress" }

func (t *ReadProgressTool) Description() string {
	return "Read simulation progress from the engine log: current step, simulated time in ps, throughput in ns/day, and percent complete."
}

func (t *ReadProgressTool) RequiresApproval(_ map[string]any) bool { return false }

func (t *ReadProgressTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"log": map[string]any{"type": "string", "description": "Log path relative to the work dir; defaults to simulation/md.log"},
	})
}

func (t *ReadProgressTool) Execute(_ context.Context, input map[string]any) (*tool.Result, error) {
	sess := t.ws.Handle.Session()
	logPath := supervisor.LogFile
	if p, _ := input["log"].(string); p != "" {
		logPath = p
	}
	if filepath.IsAbs(logPath) || strings.Contains(logPath, "..") {
		return tool.NewResult(t.Name(), false, "", "log path must be relative to the work dir"), nil
	}
	res := progress.Read(filepath.Join(sess.WorkDir, logPath))
	out := map[string]any{"available": res.Available}
	if res.Available {
		out["progress"] = res.Progress
		if total := sess.Run.ExpectedSteps; total > 0 {
			pct := float64(res.Progress.Step) / float64(total) * 100
			if pct > 100 {
				pct = 100
			}
			out["total_steps"] = total
			out["percent"] = pct
		}
	}
	return jsonResult(t.Name(), out)
}
