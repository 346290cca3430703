// ABOUTME: Tests for the engine launchers.
// ABOUTME: Checks the generated GROMACS pipeline and the input preparation done before each run.
package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2389-research/mdsession/simconfig"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// runnableConfig is the smallest tree that passes generation.
func runnableConfig() map[string]any {
	return map[string]any{
		"gromacs": map[string]any{
			"integrator":  "md",
			"dt":          0.002,
			"nsteps":      float64(1000000),
			"temperature": 300,
			"nstenergy":   float64(1000000),
		},
	}
}

func scriptOf(t *testing.T, l GromacsLauncher, spec LaunchSpec) string {
	t.Helper()
	cmd, err := l.Command(spec)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	return cmd.Args[len(cmd.Args)-1]
}

// assertInOrder checks that every step appears in script, in order.
func assertInOrder(t *testing.T, script string, steps ...string) {
	t.Helper()
	at := 0
	for _, step := range steps {
		i := strings.Index(script[at:], step)
		if i < 0 {
			t.Fatalf("script missing %q after offset %d:\n%s", step, at, script)
		}
		at += i + len(step)
	}
}

func TestGromacsLauncherVacuumPipeline(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "ala2.pdb")
	cfg := runnableConfig()
	cfg["system"] = map[string]any{"water_model": "none", "coordinates": "ala2.pdb"}
	cfg["gromacs"].(map[string]any)["box_clearance"] = 2.0

	script := scriptOf(t, GromacsLauncher{}, LaunchSpec{WorkDir: dir, Config: cfg})
	assertInOrder(t, script,
		"gmx pdb2gmx -f ala2.pdb -o ala2_system.gro -p topol.top -ff amber99sb-ildn -water none -ignh",
		"gmx editconf -f ala2_system.gro -o ala2_box.gro -c -d 2 -bt cubic",
		"gmx grompp -f md.mdp -c ala2_box.gro -p topol.top -o md.tpr -maxwarn 5",
		"exec gmx mdrun -deffnm simulation/md -s md.tpr",
	)
	for _, absent := range []string{"solvate", "genion", "-plumed"} {
		if strings.Contains(script, absent) {
			t.Errorf("vacuum plain run should not contain %q: %s", absent, script)
		}
	}
}

func TestGromacsLauncherSolvatedPipeline(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "prot.pdb", "index.ndx")
	cfg := runnableConfig()
	cfg["system"] = map[string]any{"forcefield": "charmm27", "water_model": "tip3p", "index": "index.ndx"}
	cfg["method"] = map[string]any{"name": "metadynamics"}

	script := scriptOf(t, GromacsLauncher{Binary: "gmx_mpi"}, LaunchSpec{WorkDir: dir, Config: cfg})
	assertInOrder(t, script,
		"gmx_mpi pdb2gmx -f prot.pdb -o prot_system.gro -p topol.top -ff charmm27 -water tip3p -ignh",
		"gmx_mpi editconf -f prot_system.gro -o prot_box.gro -c -d 1.5 -bt dodecahedron",
		"gmx_mpi solvate -cp prot_box.gro -cs spc216.gro -o prot_solvated.gro -p topol.top",
		"gmx_mpi grompp -f md.mdp -c prot_solvated.gro -p topol.top -o ions.tpr -maxwarn 20",
		"echo SOL | gmx_mpi genion -s ions.tpr -o prot_ionized.gro -p topol.top -pname NA -nname CL -neutral",
		"gmx_mpi grompp -f md.mdp -c prot_ionized.gro -p topol.top -o md.tpr -maxwarn 5 -n index.ndx",
		"exec gmx_mpi mdrun -deffnm simulation/md -s md.tpr -plumed plumed.dat",
	)
}

func TestGromacsLauncherAlwaysRebuildsTPR(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "md.mdp", "md.tpr", "ala2.pdb", "ala2_box.gro")

	script := scriptOf(t, GromacsLauncher{}, LaunchSpec{WorkDir: dir, Config: runnableConfig()})
	assertInOrder(t, script, "gmx pdb2gmx -f ala2.pdb", "gmx grompp", "-o md.tpr", "exec gmx mdrun")
}

func TestGromacsLauncherPrepareRegeneratesAndArchives(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "ala2.pdb", "md.mdp", "md.tpr", "topol.top", "posre.itp", "ala2_system.gro", "ala2_box.gro", "notes.txt")
	l := GromacsLauncher{}
	spec := LaunchSpec{WorkDir: dir, Config: runnableConfig()}

	if err := l.Check(spec); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := l.Prepare(spec); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	mdp, err := os.ReadFile(filepath.Join(dir, simconfig.MDPFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(mdp), "nsteps               = 1000000") {
		t.Errorf("md.mdp not regenerated from config:\n%s", mdp)
	}
	for _, name := range []string{"md.tpr", "topol.top", "posre.itp", "ala2_system.gro", "ala2_box.gro"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still in work dir: %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(dir, "archive", name)); err != nil {
			t.Errorf("%s not archived: %v", name, err)
		}
	}
	for _, name := range []string{"ala2.pdb", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should be kept: %v", name, err)
		}
	}

	// A second run keeps the first archived copy.
	writeFiles(t, dir, "md.tpr")
	if err := l.Prepare(spec); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive", "md.tpr.1")); err != nil {
		t.Errorf("second md.tpr not archived beside the first: %v", err)
	}
}

func TestGromacsLauncherCheck(t *testing.T) {
	dir := t.TempDir()
	l := GromacsLauncher{}
	if err := l.Check(LaunchSpec{WorkDir: dir, Config: runnableConfig()}); err == nil {
		t.Error("missing coordinates should fail")
	}
	writeFiles(t, dir, "ala2.pdb")
	err := l.Check(LaunchSpec{WorkDir: dir, Config: map[string]any{}})
	if !errors.Is(err, simconfig.ErrInvalidConfig) {
		t.Errorf("incomplete config err = %v, want ErrInvalidConfig", err)
	}
	if _, err := os.Stat(filepath.Join(dir, simconfig.MDPFile)); !errors.Is(err, os.ErrNotExist) {
		t.Error("Check must not write inputs")
	}
}

func TestGromacsLauncherRequiresCoordinates(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "md.mdp", "ala2_box.gro")
	if _, err := (GromacsLauncher{}).Command(LaunchSpec{WorkDir: dir}); err == nil {
		t.Error("only derived coordinates should fail")
	}
}

func TestShellLauncherRejectsEmptyScript(t *testing.T) {
	if _, err := (ShellLauncher{Script: "  "}).Command(LaunchSpec{}); err == nil {
		t.Error("empty script should fail")
	}
}
