package passes

import (
	"sort"

	"github.com/bril-tools/brilopt/internal/cfg"
	"github.com/bril-tools/brilopt/internal/ir"
)

// LocalDCE removes dead stores within each basic block: a definition
// whose destination is never used before it is reassigned (and whose
// instruction has no side effects) is deleted. Each block is scanned to
// a fixed point before moving to the next.
func LocalDCE(p *ir.Program) (bool, error) {
	changed := false
	for fi := range p.Functions {
		fn := &p.Functions[fi]
		g, err := cfg.Build(fn.Instrs)
		if err != nil {
			return false, err
		}

		fnChanged := false
		for _, b := range g.Blocks {
			for dceBlockDeadStore(b) {
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

// dceBlockDeadStore performs a single dead-store sweep over a block and
// reports whether anything was removed.
func dceBlockDeadStore(b *cfg.Block) bool {
	pending := map[string]int{} // variable -> index of its unused pending def
	var dead []int

	for i, inst := range b.Instrs {
		if inst.IsLabel() {
			continue
		}

		for _, use := range inst.Uses() {
			delete(pending, use)
		}

		if dest, ok := inst.DestVar(); ok {
			if prevIdx, ok := pending[dest]; ok {
				dead = append(dead, prevIdx)
			}
			if !inst.HasSideEffects() {
				pending[dest] = i
			} else {
				delete(pending, dest)
			}
		}
	}

	if len(dead) == 0 {
		return false
	}

	sort.Sort(sort.Reverse(sort.IntSlice(dead)))
	for _, idx := range dead {
		b.Instrs = append(b.Instrs[:idx], b.Instrs[idx+1:]...)
	}
	return true
}

// NaiveDCE removes any side-effect-free instruction whose destination is
// never referenced anywhere else in the function. It performs a single
// sweep per invocation; a pipeline that wants transitive removal must
// invoke it to a fixed point itself.
func NaiveDCE(p *ir.Program) (bool, error) {
	changed := false
	for fi := range p.Functions {
		fn := &p.Functions[fi]
		before := len(fn.Instrs)

		used := map[string]bool{}
		for _, inst := range fn.Instrs {
			for _, v := range inst.Uses() {
				used[v] = true
			}
		}

		kept := fn.Instrs[:0]
		for _, inst := range fn.Instrs {
			dest, hasDest := inst.DestVar()
			if inst.HasSideEffects() || (hasDest && used[dest]) || inst.IsLabel() {
				kept = append(kept, inst)
			}
		}
		fn.Instrs = kept

		if len(fn.Instrs) != before {
			changed = true
		}
	}
	return changed, nil
}
