package passes

import (
	"github.com/bril-tools/brilopt/internal/cfg"
	"github.com/bril-tools/brilopt/internal/ir"
)

// LivenessDCE removes instructions whose result is dead across the whole
// function: it computes liveness via backward CFG dataflow, then deletes
// any block instruction that is neither side-effecting nor used by a
// live destination.
func LivenessDCE(p *ir.Program) (bool, error) {
	changed := false
	for fi := range p.Functions {
		fn := &p.Functions[fi]
		g, err := cfg.Build(fn.Instrs)
		if err != nil {
			return false, err
		}

		def := make([]map[string]bool, len(g.Blocks))
		use := make([]map[string]bool, len(g.Blocks))
		for i, b := range g.Blocks {
			def[i] = blockDefs(b)
			use[i] = blockMeaningfulUses(b)
		}

		_, liveOut := solveLiveness(g, def, use)

		fnChanged := false
		for i, b := range g.Blocks {
			if pruneDeadInstructions(b, liveOut[i]) {
				fnChanged = true
			}
		}

		if fnChanged {
			fn.Instrs = g.Flatten()
			changed = true
		}
	}
	return changed, nil
}

func blockDefs(b *cfg.Block) map[string]bool {
	out := map[string]bool{}
	for _, inst := range b.Instrs {
		if dest, ok := inst.DestVar(); ok {
			out[dest] = true
		}
	}
	return out
}

// blockMeaningfulUses computes use(b): the operands a block needs from
// outside itself. It runs the same reverse liveness scan that the final
// pruning step runs, seeded with every variable the block defines in
// place of the (not yet known) converged live_out(b), so the last
// definition of each variable counts as possibly escaping the block.
// Operands consumed only by a side-effect-free instruction whose result
// is overwritten within the block before being read are ignored; a
// side-effect-free last definition whose result turns out to be dead
// everywhere still keeps its operands in use(b).
func blockMeaningfulUses(b *cfg.Block) map[string]bool {
	live := blockDefs(b)
	for i := len(b.Instrs) - 1; i >= 0; i-- {
		inst := b.Instrs[i]
		if inst.IsLabel() {
			continue
		}
		dest, hasDest := inst.DestVar()
		meaningful := inst.HasSideEffects() || (hasDest && live[dest])
		if !meaningful {
			continue
		}
		if hasDest {
			delete(live, dest)
		}
		for _, operand := range inst.Uses() {
			live[operand] = true
		}
	}
	return live
}

// solveLiveness runs the standard backward worklist dataflow:
//
//	live_out(b) = union of live_in(s) over successors s
//	live_in(b)  = use(b) ∪ (live_out(b) ∖ def(b))
func solveLiveness(g *cfg.Graph, def, use []map[string]bool) (liveIn, liveOut []map[string]bool) {
	n := len(g.Blocks)
	liveIn = make([]map[string]bool, n)
	liveOut = make([]map[string]bool, n)
	for i := range liveIn {
		liveIn[i] = map[string]bool{}
		liveOut[i] = map[string]bool{}
	}

	queued := make([]bool, n)
	var queue []int
	for i := 0; i < n; i++ {
		queue = append(queue, i)
		queued[i] = true
	}

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		queued[b] = false

		out := map[string]bool{}
		for s := range g.Blocks[b].Succs {
			for v := range liveIn[s] {
				out[v] = true
			}
		}
		liveOut[b] = out

		in := map[string]bool{}
		for v := range use[b] {
			in[v] = true
		}
		for v := range out {
			if !def[b][v] {
				in[v] = true
			}
		}

		if setsEqual(in, liveIn[b]) {
			continue
		}
		liveIn[b] = in
		for p := range g.Blocks[b].Preds {
			if !queued[p] {
				queue = append(queue, p)
				queued[p] = true
			}
		}
	}

	return liveIn, liveOut
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// pruneDeadInstructions reverse-scans b with a running live set seeded
// from its converged live_out, dropping any instruction that is neither
// side-effecting nor feeding a live destination.
func pruneDeadInstructions(b *cfg.Block, liveOut map[string]bool) bool {
	live := map[string]bool{}
	for v := range liveOut {
		live[v] = true
	}

	survivors := make([]ir.Instruction, len(b.Instrs))
	copy(survivors, b.Instrs)
	keep := make([]bool, len(b.Instrs))

	for i := len(b.Instrs) - 1; i >= 0; i-- {
		inst := b.Instrs[i]
		if inst.IsLabel() {
			keep[i] = true
			continue
		}
		dest, hasDest := inst.DestVar()
		meaningful := inst.HasSideEffects() || (hasDest && live[dest])
		if !meaningful {
			keep[i] = false
			continue
		}
		keep[i] = true
		if hasDest {
			delete(live, dest)
		}
		for _, operand := range inst.Uses() {
			live[operand] = true
		}
	}

	out := make([]ir.Instruction, 0, len(b.Instrs))
	changed := false
	for i, inst := range survivors {
		if keep[i] {
			out = append(out, inst)
		} else {
			changed = true
		}
	}
	if changed {
		b.Instrs = out
	}
	return changed
}
