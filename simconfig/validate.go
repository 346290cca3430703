// ABOUTME: Bounds and enumeration checks for engine and method parameters in a config tree.
// ABOUTME: Present values are always checked; required keys are enforced only before file generation.
package simconfig

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var (
	validIntegrators = set("md", "sd", "bd", "l-bfgs", "steep", "cg")
	validTcouple     = set("V-rescale", "berendsen", "nose-hoover", "no")
	validPcouple     = set("Parrinello-Rahman", "berendsen", "C-rescale", "MTTK", "no")
	validConstraints = set("none", "h-bonds", "all-bonds", "h-angles", "all-angles")
	validCVTypes     = set("DISTANCE", "TORSION", "ANGLE", "RMSD", "COORDINATION")
)

// maxTimestepPs is the largest integration step accepted, in picoseconds.
const maxTimestepPs = 0.004

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

type rule struct {
	path  string
	check func(v any) error
}

func positive(v any) error {
	n, ok := Number(v)
	if !ok || math.IsNaN(n) {
		return fmt.Errorf("must be a number, got %v", v)
	}
	if n <= 0 {
		return fmt.Errorf("must be > 0, got %v", n)
	}
	return nil
}

func oneOf(allowed map[string]bool) func(any) error {
	return func(v any) error {
		s, ok := v.(string)
		if !ok || !allowed[s] {
			return fmt.Errorf("unknown value %v", v)
		}
		return nil
	}
}

func timestep(v any) error {
	if err := positive(v); err != nil {
		return err
	}
	n, _ := Number(v)
	if n > maxTimestepPs {
		return fmt.Errorf("must be <= %g ps, got %v", maxTimestepPs, n)
	}
	return nil
}

func biasfactor(v any) error {
	n, ok := Number(v)
	if !ok || n <= 1 {
		return fmt.Errorf("must be > 1, got %v", v)
	}
	return nil
}

func nonEmptyList(v any) error {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return fmt.Errorf("must be a non-empty list")
	}
	for _, item := range list {
		if err := positive(item); err != nil {
			return err
		}
	}
	return nil
}

var rules = []rule{
	{"gromacs.integrator", oneOf(validIntegrators)},
	{"gromacs.dt", timestep},
	{"gromacs.temperature", positive},
	{"gromacs.pressure", positive},
	{"gromacs.nsteps", positive},
	{"gromacs.tcoupl", oneOf(validTcouple)},
	{"gromacs.pcoupl", oneOf(validPcouple)},
	{"gromacs.constraints", oneOf(validConstraints)},
	{"gromacs.nstenergy", positive},
	{"gromacs.rlist", positive},
	{"gromacs.rcoulomb", positive},
	{"gromacs.rvdw", positive},
	{"method.nsteps", positive},
	{"method.temperature", positive},
	{"method.hills.height", positive},
	{"method.hills.pace", positive},
	{"method.hills.sigma", nonEmptyList},
	{"method.biasfactor", biasfactor},
}

var requiredForGenerate = []string{
	"gromacs.integrator",
	"gromacs.dt",
	"gromacs.nsteps",
	"gromacs.temperature",
}

// Validate checks every known parameter present in tree. Missing keys are
// not errors here.
func Validate(tree map[string]any) error {
	var errs []error
	for _, r := range rules {
		v, ok := Get(tree, r.path)
		if !ok || v == nil {
			continue
		}
		if err := r.check(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.path, err))
		}
	}
	errs = append(errs, validateCVs(tree)...)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ValidateForGenerate runs Validate and additionally requires the keys the
// engine input file cannot be written without.
func ValidateForGenerate(tree map[string]any) error {
	var errs []error
	for _, path := range requiredForGenerate {
		if _, ok := Get(tree, path); !ok {
			errs = append(errs, fmt.Errorf("%s: required", path))
		}
	}
	if err := Validate(tree); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 && errors.Is(errs[0], ErrInvalidConfig) {
		return errs[0]
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validateCVs(tree map[string]any) []error {
	v, ok := Get(tree, "plumed.collective_variables")
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return []error{fmt.Errorf("plumed.collective_variables: must be a list")}
	}
	var errs []error
	for i, item := range list {
		cv, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Errorf("plumed.collective_variables[%d]: must be a mapping", i))
			continue
		}
		typ, _ := cv["type"].(string)
		if !validCVTypes[typ] {
			errs = append(errs, fmt.Errorf("plumed.collective_variables[%d].type: unknown value %q", i, typ))
			continue
		}
		if name, _ := cv["name"].(string); name == "" {
			errs = append(errs, fmt.Errorf("plumed.collective_variables[%d].name: required", i))
		}
		switch typ {
		case "DISTANCE", "TORSION", "ANGLE":
			if atoms, _ := cv["atoms"].([]any); len(atoms) == 0 {
				errs = append(errs, fmt.Errorf("plumed.collective_variables[%d]: %s requires atoms", i, typ))
			}
		case "RMSD":
			if ref, _ := cv["reference"].(string); ref == "" {
				errs = append(errs, fmt.Errorf("plumed.collective_variables[%d]: RMSD requires reference", i))
			}
		case "COORDINATION":
			a, _ := cv["groupa"].([]any)
			b, _ := cv["groupb"].([]any)
			if len(a) == 0 || len(b) == 0 {
				errs = append(errs, fmt.Errorf("plumed.collective_variables[%d]: COORDINATION requires groupa and groupb", i))
			}
		}
	}
	return errs
}
