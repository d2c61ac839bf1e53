package passes

import "github.com/bril-tools/brilopt/internal/ir"

// DeleteEverything clears every function from the program. It exists to
// exercise the driver and the output encoder against an empty program.
func DeleteEverything(p *ir.Program) (bool, error) {
	p.Functions = []ir.Function{}
	return true, nil
}

// DoNothing leaves the program untouched. It exists to exercise the
// driver's plumbing without running any real analysis.
func DoNothing(p *ir.Program) (bool, error) {
	return false, nil
}
