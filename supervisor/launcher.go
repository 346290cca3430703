// ABOUTME: Launchers build the engine command for a session's working directory.
// ABOUTME: GromacsLauncher prepares the system and runs grompp + mdrun; ShellLauncher runs an arbitrary script.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/2389-research/mdsession/files"
	"github.com/2389-research/mdsession/simconfig"
)

// Output layout written by the engine.
const (
	SimulationDir = "simulation"
	OutputPrefix  = SimulationDir + "/md"
	LogFile       = OutputPrefix + ".log"
	TPRFile       = "md.tpr"
	TopologyFile  = "topol.top"
	IonsTPRFile   = "ions.tpr"
	GromppOutMDP  = "mdout.mdp"
)

// Preparation defaults when the config leaves a value unset.
const (
	DefaultForcefield   = "amber99sb-ildn"
	DefaultWaterModel   = "none"
	DefaultBoxClearance = 1.5
	SolventCoordinates  = "spc216.gro"
)

// ExpectedFiles are the outputs a completed run leaves behind.
var ExpectedFiles = []string{
	OutputPrefix + ".log",
	OutputPrefix + ".edr",
	OutputPrefix + ".xtc",
	OutputPrefix + ".cpt",
}

// ErrNotLaunchable is returned by Start when a session's inputs cannot
// produce a run. The session stays idle.
var ErrNotLaunchable = errors.New("session cannot be launched")

// LaunchSpec describes what to run.
type LaunchSpec struct {
	WorkDir string
	Config  map[string]any
}

// Launcher builds the command for a run. It must not start it.
type Launcher interface {
	Command(spec LaunchSpec) (*exec.Cmd, error)
}

// Preparer is implemented by launchers that materialize inputs before a run.
// Check runs while the session is still idle and must not modify the
// working directory. Prepare runs once the session is setting_up.
type Preparer interface {
	Check(spec LaunchSpec) error
	Prepare(spec LaunchSpec) error
}

// GromacsLauncher rebuilds topology and coordinates from the user's source
// structure on every start, then runs grompp and mdrun with outputs under
// simulation/.
//
// Solvated systems: pdb2gmx, editconf, solvate, grompp(ions), genion, grompp, mdrun.
// Vacuum systems (water_model "none"): pdb2gmx, editconf (cubic), grompp, mdrun.
type GromacsLauncher struct {
	Binary string // defaults to "gmx"
}

func (l GromacsLauncher) binary() string {
	if l.Binary == "" {
		return "gmx"
	}
	return l.Binary
}

// Check implements Preparer.
func (l GromacsLauncher) Check(spec LaunchSpec) error {
	if err := simconfig.ValidateForGenerate(spec.Config); err != nil {
		return err
	}
	_, err := sourceCoordinates(spec)
	return err
}

// Prepare implements Preparer. It writes md.mdp (and plumed.dat) from the
// current config and moves outputs of earlier preparations into archive/
// so nothing stale is reused.
func (l GromacsLauncher) Prepare(spec LaunchSpec) error {
	if _, err := simconfig.Generate(spec.WorkDir, spec.Config); err != nil {
		return fmt.Errorf("generate inputs: %w", err)
	}
	_, err := archiveStale(spec.WorkDir)
	return err
}

// Command implements Launcher.
func (l GromacsLauncher) Command(spec LaunchSpec) (*exec.Cmd, error) {
	src, err := sourceCoordinates(spec)
	if err != nil {
		return nil, err
	}
	derived := files.DerivedNames(src)
	systemGro, boxGro, solvatedGro, ionizedGro := derived[0], derived[1], derived[2], derived[3]

	cfg := spec.Config
	forcefield := stringOr(cfg, "system.forcefield", DefaultForcefield)
	water := stringOr(cfg, "system.water_model", DefaultWaterModel)
	clearance := DefaultBoxClearance
	if v, ok := simconfig.LookupNumber(cfg, "gromacs.box_clearance"); ok && v > 0 {
		clearance = v
	}
	d := strconv.FormatFloat(clearance, 'f', -1, 64)

	gmx := func(args ...string) string {
		return l.command(args...)
	}
	steps := []string{
		gmx("pdb2gmx", "-f", src, "-o", systemGro, "-p", TopologyFile,
			"-ff", forcefield, "-water", water, "-ignh"),
	}
	coord := boxGro
	if water != "none" {
		steps = append(steps,
			gmx("editconf", "-f", systemGro, "-o", boxGro, "-c", "-d", d, "-bt", "dodecahedron"),
			gmx("solvate", "-cp", boxGro, "-cs", SolventCoordinates, "-o", solvatedGro, "-p", TopologyFile),
			gmx("grompp", "-f", simconfig.MDPFile, "-c", solvatedGro, "-p", TopologyFile,
				"-o", IonsTPRFile, "-maxwarn", "20"),
			"echo SOL | "+gmx("genion", "-s", IonsTPRFile, "-o", ionizedGro, "-p", TopologyFile,
				"-pname", "NA", "-nname", "CL", "-neutral"),
		)
		coord = ionizedGro
	} else {
		steps = append(steps,
			gmx("editconf", "-f", systemGro, "-o", boxGro, "-c", "-d", d, "-bt", "cubic"))
	}

	grompp := []string{"grompp", "-f", simconfig.MDPFile, "-c", coord, "-p", TopologyFile,
		"-o", TPRFile, "-maxwarn", "5"}
	if index, ok := simconfig.Lookup(cfg, "system.index"); ok && index != "" {
		if _, err := os.Stat(filepath.Join(spec.WorkDir, index)); err == nil {
			grompp = append(grompp, "-n", index)
		}
	}
	steps = append(steps, gmx(grompp...))

	mdrun := []string{"mdrun", "-deffnm", OutputPrefix, "-s", TPRFile}
	if simconfig.MethodName(cfg) == "metadynamics" {
		mdrun = append(mdrun, "-plumed", simconfig.PlumedFile)
	}
	steps = append(steps, "exec "+gmx(mdrun...))

	return exec.Command("sh", "-c", strings.Join(steps, " && ")), nil
}

func (l GromacsLauncher) command(args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(l.binary()))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func stringOr(tree map[string]any, path, fallback string) string {
	if v, ok := simconfig.Lookup(tree, path); ok && v != "" {
		return v
	}
	return fallback
}

// sourceCoordinates returns the user-provided structure the preparation
// starts from, honoring system.coordinates. Derived intermediates are never
// used as a starting point.
func sourceCoordinates(spec LaunchSpec) (string, error) {
	fm, err := files.NewManager(spec.WorkDir)
	if err != nil {
		return "", err
	}
	preferred, _ := simconfig.Lookup(spec.Config, "system.coordinates")
	src, ok := fm.SourceCoord(preferred)
	if !ok {
		return "", fmt.Errorf("no coordinate file (.pdb or .gro) in %s", spec.WorkDir)
	}
	return src, nil
}

// isStale reports whether name is an output of an earlier preparation.
func isStale(name string) bool {
	switch name {
	case TPRFile, IonsTPRFile, TopologyFile, GromppOutMDP:
		return true
	}
	if strings.HasSuffix(name, ".itp") && (strings.HasPrefix(name, "posre") || strings.HasPrefix(name, "topol_")) {
		return true
	}
	return files.IsDerived(name)
}

// archiveStale moves preparation outputs at the top of workDir into the
// archive and returns their archived paths.
func archiveStale(workDir string) ([]string, error) {
	fm, err := files.NewManager(workDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("read work dir: %w", err)
	}
	var archived []string
	for _, e := range entries {
		if e.IsDir() || !isStale(e.Name()) {
			continue
		}
		dest, err := fm.ArchiveVersioned(e.Name())
		if err != nil {
			return archived, fmt.Errorf("archive %s: %w", e.Name(), err)
		}
		archived = append(archived, dest)
	}
	return archived, nil
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellLauncher runs Script with sh -c in the working directory.
type ShellLauncher struct {
	Script string
}

// Command implements Launcher.
func (l ShellLauncher) Command(spec LaunchSpec) (*exec.Cmd, error) {
	if strings.TrimSpace(l.Script) == "" {
		return nil, fmt.Errorf("empty engine command")
	}
	return exec.Command("sh", "-c", l.Script), nil
}
