// ABOUTME: Materializes engine input files (config.yaml, md.mdp, plumed.dat) from a config tree.
// ABOUTME: Files are written via temp-file + rename so a running engine never reads a half-written input.
package simconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Generated file names inside a session working directory.
const (
	ConfigFile = "config.yaml"
	MDPFile    = "md.mdp"
	PlumedFile = "plumed.dat"
)

// mdpKey maps an mdp parameter onto the tree path that feeds it.
type mdpKey struct {
	name string
	path string
}

var mdpKeys = []mdpKey{
	{"integrator", "gromacs.integrator"},
	{"dt", "gromacs.dt"},
	{"nsteps", "gromacs.nsteps"},
	{"nstenergy", "gromacs.nstenergy"},
	{"nstlog", "gromacs.advanced.nstlog"},
	{"nstxout-compressed", "gromacs.advanced.nstxout_compressed"},
	{"cutoff-scheme", "gromacs.advanced.cutoff_scheme"},
	{"coulombtype", "gromacs.advanced.coulombtype"},
	{"rlist", "gromacs.rlist"},
	{"rcoulomb", "gromacs.rcoulomb"},
	{"rvdw", "gromacs.rvdw"},
	{"constraints", "gromacs.constraints"},
	{"tcoupl", "gromacs.tcoupl"},
	{"tau_t", "gromacs.advanced.tau_t"},
	{"ref_t", "gromacs.temperature"},
	{"pcoupl", "gromacs.pcoupl"},
	{"tau_p", "gromacs.advanced.tau_p"},
	{"ref_p", "gromacs.pressure"},
}

// ExpectedSteps returns the run length: method.nsteps when set, else gromacs.nsteps.
func ExpectedSteps(tree map[string]any) (int64, bool) {
	for _, path := range []string{"method.nsteps", "gromacs.nsteps"} {
		if n, ok := LookupNumber(tree, path); ok && n > 0 {
			return int64(n), true
		}
	}
	return 0, false
}

// Timestep returns gromacs.dt in picoseconds.
func Timestep(tree map[string]any) (float64, bool) {
	return LookupNumber(tree, "gromacs.dt")
}

// MethodName returns method.name, or "" when unset.
func MethodName(tree map[string]any) string {
	s, _ := Lookup(tree, "method.name")
	return s
}

// Generate writes the engine input files for tree into workDir and returns
// the generated file names in write order.
func Generate(workDir string, tree map[string]any) ([]string, error) {
	if err := ValidateForGenerate(tree); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	generated := []string{}

	if err := WriteConfig(workDir, tree); err != nil {
		return nil, err
	}
	generated = append(generated, ConfigFile)

	if err := writeFileAtomic(filepath.Join(workDir, MDPFile), []byte(RenderMDP(tree))); err != nil {
		return nil, fmt.Errorf("write %s: %w", MDPFile, err)
	}
	generated = append(generated, MDPFile)

	if MethodName(tree) == "metadynamics" {
		plumed, err := RenderPlumed(tree)
		if err != nil {
			return nil, err
		}
		if err := writeFileAtomic(filepath.Join(workDir, PlumedFile), []byte(plumed)); err != nil {
			return nil, fmt.Errorf("write %s: %w", PlumedFile, err)
		}
		generated = append(generated, PlumedFile)
	}

	return generated, nil
}

// WriteConfig writes tree to workDir/config.yaml without validating it.
func WriteConfig(workDir string, tree map[string]any) error {
	data, err := MarshalYAML(tree)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(workDir, ConfigFile), data); err != nil {
		return fmt.Errorf("write %s: %w", ConfigFile, err)
	}
	return nil
}

// MarshalYAML encodes a tree as YAML with two-space indentation.
func MarshalYAML(tree map[string]any) ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("encode config yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close yaml encoder: %w", err)
	}
	return []byte(b.String()), nil
}

// LoadYAML reads a config tree from a YAML file.
func LoadYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config yaml: %w", err)
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return tree, nil
}

// RenderMDP renders an mdp parameter file. nsteps follows ExpectedSteps so
// the engine and progress math agree on run length.
func RenderMDP(tree map[string]any) string {
	var b strings.Builder
	b.WriteString("; generated by mdsession\n")
	for _, k := range mdpKeys {
		val, ok := Lookup(tree, k.path)
		if k.name == "nsteps" {
			if n, has := ExpectedSteps(tree); has {
				val, ok = strconv.FormatInt(n, 10), true
			}
		}
		if !ok || val == "" {
			continue
		}
		fmt.Fprintf(&b, "%-20s = %s\n", k.name, val)
		if k.name == "tcoupl" && val != "no" {
			fmt.Fprintf(&b, "%-20s = %s\n", "tc-grps", "System")
		}
	}
	return b.String()
}

// RenderPlumed renders a metadynamics PLUMED input from the collective
// variables and hills parameters.
func RenderPlumed(tree map[string]any) (string, error) {
	raw, _ := Get(tree, "plumed.collective_variables")
	list, _ := raw.([]any)
	if len(list) == 0 {
		return "", fmt.Errorf("%w: metadynamics requires plumed.collective_variables", ErrInvalidConfig)
	}

	var b strings.Builder
	names := make([]string, 0, len(list))
	for _, item := range list {
		cv, _ := item.(map[string]any)
		name, _ := cv["name"].(string)
		typ, _ := cv["type"].(string)
		names = append(names, name)
		switch typ {
		case "RMSD":
			rtype, _ := cv["rmsd_type"].(string)
			if rtype == "" {
				rtype = "OPTIMAL"
			}
			fmt.Fprintf(&b, "%s: RMSD REFERENCE=%s TYPE=%s\n", name, formatScalar(cv["reference"]), rtype)
		case "COORDINATION":
			fmt.Fprintf(&b, "%s: COORDINATION GROUPA=%s GROUPB=%s", name, joinList(cv["groupa"]), joinList(cv["groupb"]))
			if r0, ok := cv["r0"]; ok {
				fmt.Fprintf(&b, " R_0=%s", formatScalar(r0))
			}
			b.WriteString("\n")
		default:
			fmt.Fprintf(&b, "%s: %s ATOMS=%s\n", name, typ, joinList(cv["atoms"]))
		}
	}

	args := strings.Join(names, ",")
	sigma, _ := Get(tree, "method.hills.sigma")
	height, _ := Lookup(tree, "method.hills.height")
	pace, _ := Lookup(tree, "method.hills.pace")
	fmt.Fprintf(&b, "metad: METAD ARG=%s SIGMA=%s HEIGHT=%s PACE=%s", args, joinList(sigma), height, pace)
	if bf, ok := Lookup(tree, "method.biasfactor"); ok {
		fmt.Fprintf(&b, " BIASFACTOR=%s", bf)
	}
	if temp, ok := Lookup(tree, "method.temperature"); ok {
		fmt.Fprintf(&b, " TEMP=%s", temp)
	}
	b.WriteString(" FILE=HILLS\n")
	fmt.Fprintf(&b, "PRINT STRIDE=%s ARG=%s,metad.bias FILE=COLVAR\n", pace, args)
	return b.String(), nil
}

func joinList(v any) string {
	list, _ := v.([]any)
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = formatScalar(item)
	}
	return strings.Join(parts, ",")
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	// Plain decimal notation: mdp integer fields reject exponents.
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		if x {
			return "yes"
		}
		return "no"
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
