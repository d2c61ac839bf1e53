// Package driver wires pass names given on the command line to the
// optimization and diagnostic passes in internal/passes, and runs them
// over a program in sequence.
package driver

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bril-tools/brilopt/internal/ir"
	"github.com/bril-tools/brilopt/internal/passes"
)

// Pass is a single transformation or analysis over a program. It reports
// whether it changed the program, and an error if it could not complete.
type Pass func(*ir.Program) (bool, error)

// registry is the compile-time map from a recognized CLI pass name to its
// implementation. Passes run to completion in the order the user names
// them; the driver does not iterate any pass to a fixed point itself.
var registry = map[string]Pass{
	"delete_everything_pass": passes.DeleteEverything,
	"do_nothing_pass":        passes.DoNothing,

	"naive_dce_pass": passes.NaiveDCE,
	"local_dce_pass": passes.LocalDCE,

	"lvn_pass": passes.LVN,

	"global_const_propagation_pass": passes.GlobalConstProp,
	"global_dce_pass_using_liveness": passes.LivenessDCE,
	"loop_invariant_code_motion_pass": passes.LICM,

	"pointer_analysis_pass": passes.PointerAnalysis,
}

// Known reports whether name is a recognized pass.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Run executes each named pass over p in order, logging whether it
// changed the program. An unrecognized pass name is an error; the driver
// validates every name up front so a typo late in the list does not run
// the earlier passes for nothing.
func Run(names []string, p *ir.Program) error {
	for _, name := range names {
		if !Known(name) {
			return errors.Errorf("unrecognized pass %q", name)
		}
	}

	for _, name := range names {
		pass := registry[name]
		changed, err := pass(p)
		if err != nil {
			return errors.Wrapf(err, "pass %q", name)
		}
		log.WithFields(log.Fields{"pass": name, "changed": changed}).Debug("pass complete")
	}
	return nil
}

// Names returns the recognized pass names, for diagnostic messages.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
