package passes

import (
	"sort"

	"github.com/bril-tools/brilopt/internal/cfg"
	"github.com/bril-tools/brilopt/internal/dom"
	"github.com/bril-tools/brilopt/internal/ir"
	"github.com/bril-tools/brilopt/internal/loop"
)

// LICM detects natural loops, inserts a pre-header ahead of each loop
// header, and hoists loop-invariant instructions into it: an
// instruction is invariant when it has no side effects, every operand
// it reads is defined outside the loop, and the block containing it
// dominates every block the loop can exit to.
func LICM(p *ir.Program) (bool, error) {
	changed := false
	for fi := range p.Functions {
		fn := &p.Functions[fi]
		g, err := cfg.Build(fn.Instrs)
		if err != nil {
			return false, err
		}

		loops := loop.Find(g, dom.Compute(g))
		if len(loops) == 0 {
			continue
		}
		loop.InsertPreHeaders(g, loops)

		// Pre-header insertion renumbers blocks; dominance must be
		// recomputed against the post-insertion graph.
		sets := dom.Compute(g)

		for _, l := range loops {
			hoistInvariants(g, sets, l)
		}

		// A pre-header was always inserted even if nothing hoisted into
		// it, which is itself a structural change to the function.
		fn.Instrs = g.Flatten()
		changed = true
	}
	return changed, nil
}

// hoistInvariants moves every loop-invariant instruction found in l's
// body into l's pre-header, and reports whether anything moved.
func hoistInvariants(g *cfg.Graph, sets *dom.Sets, l *loop.Loop) bool {
	body := l.Blocks()
	bodySet := make(map[int]bool, len(body))
	for _, idx := range body {
		bodySet[idx] = true
	}

	definedInLoop := map[string]bool{}
	for _, idx := range body {
		for _, inst := range g.Blocks[idx].Instrs {
			if dest, ok := inst.DestVar(); ok {
				definedInLoop[dest] = true
			}
		}
	}

	exits := map[int]bool{}
	for _, idx := range body {
		for s := range g.Blocks[idx].Succs {
			if !bodySet[s] {
				exits[s] = true
			}
		}
	}

	preHeaderIdx := l.Header - 1
	preHeader := g.Blocks[preHeaderIdx]

	changed := false
	for _, idx := range body {
		b := g.Blocks[idx]
		var dead []int

		for i, inst := range b.Instrs {
			if inst.IsLabel() || inst.HasSideEffects() || inst.IsControl() {
				continue
			}
			dest, hasDest := inst.DestVar()
			if !hasDest {
				continue
			}

			external := true
			for _, arg := range inst.Args {
				if definedInLoop[arg] {
					external = false
					break
				}
			}
			if !external {
				continue
			}

			dominatesExits := true
			for e := range exits {
				if !sets.Dominates(idx, e) {
					dominatesExits = false
					break
				}
			}
			if !dominatesExits {
				continue
			}

			preHeader.Instrs = append(preHeader.Instrs, inst)
			dead = append(dead, i)
			delete(definedInLoop, dest)
			changed = true
		}

		if len(dead) > 0 {
			sort.Sort(sort.Reverse(sort.IntSlice(dead)))
			for _, i := range dead {
				b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)
			}
		}
	}

	return changed
}
