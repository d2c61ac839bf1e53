// Package loop detects natural loops over a cfg.Graph via back-edge
// analysis and inserts pre-header blocks ahead of loop headers, the
// shared scaffolding LICM builds on. It lives apart from internal/passes
// to avoid an import cycle: it depends on internal/dom, and
// internal/passes depends on both.
package loop

import (
	"github.com/bril-tools/brilopt/internal/cfg"
	"github.com/bril-tools/brilopt/internal/dom"
	"github.com/bril-tools/brilopt/internal/ir"
)

// Loop is a natural loop: a header dominating a latch that back-edges to
// it, plus every other block in the loop body discovered by walking
// predecessors backward from the latch.
type Loop struct {
	Header int
	Latch  int
	// Nodes holds every loop-body block other than Header and Latch.
	Nodes []int
}

// Blocks returns every block index that is a member of the loop,
// including the header and latch.
func (l *Loop) Blocks() []int {
	out := make([]int, 0, len(l.Nodes)+2)
	out = append(out, l.Header, l.Latch)
	out = append(out, l.Nodes...)
	return out
}

// Find detects every back edge in g (an edge u -> v where v dominates u)
// and returns the natural loop it defines, with its body populated.
func Find(g *cfg.Graph, sets *dom.Sets) []*Loop {
	var loops []*Loop
	for idx, b := range g.Blocks {
		for succ := range b.Succs {
			if sets.Dominates(succ, idx) {
				l := &Loop{Header: succ, Latch: idx}
				l.collectBody(g)
				loops = append(loops, l)
			}
		}
	}
	return loops
}

func (l *Loop) collectBody(g *cfg.Graph) {
	if l.Latch == l.Header {
		// A self-loop's body is the header alone.
		return
	}
	processed := map[int]bool{l.Latch: true}
	worklist := []int{l.Latch}
	var nodes []int

	for len(worklist) > 0 {
		n := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		for p := range g.Blocks[n].Preds {
			if p == l.Header || processed[p] {
				continue
			}
			processed[p] = true
			nodes = append(nodes, p)
			worklist = append(worklist, p)
		}
	}
	l.Nodes = nodes
}

// InsertPreHeaders synthesizes an empty pre-header block ahead of each
// loop's header, mutating g in place, and updates every Loop's indices
// (including ones not yet processed) to stay consistent with the
// resulting index shifts.
func InsertPreHeaders(g *cfg.Graph, loops []*Loop) {
	for _, l := range loops {
		headerIdx, latchIdx := l.Header, l.Latch
		insertPreHeader(g, headerIdx, latchIdx)

		remap := func(x int) int {
			if x >= headerIdx {
				return x + 1
			}
			return x
		}
		for _, other := range loops {
			other.Header = remap(other.Header)
			other.Latch = remap(other.Latch)
			for i, n := range other.Nodes {
				other.Nodes[i] = remap(n)
			}
		}
	}
}

// insertPreHeader inserts a new empty block at headerIdx, pushing the
// old header (and every block at or after headerIdx) up by one index.
// The pre-header inherits the old header's entry label and predecessors;
// the old header's label is suffixed so nothing but the loop's back edge
// still targets it.
func insertPreHeader(g *cfg.Graph, headerIdx, latchIdx int) {
	oldHeader := g.Blocks[headerIdx]
	newHeaderIdx := headerIdx + 1

	preHeader := &cfg.Block{
		Preds: make(map[int]bool, len(oldHeader.Preds)),
		Succs: map[int]bool{newHeaderIdx: true},
		Idom:  -1,
	}
	for p := range oldHeader.Preds {
		// The latch's back edge still targets the old header, not the
		// pre-header, so it is not one of the pre-header's predecessors.
		if p == latchIdx {
			continue
		}
		preHeader.Preds[p] = true
	}

	var oldLabel, newLabel string
	if oldHeader.Label != "" {
		newLabel = oldHeader.Label
		oldLabel = oldHeader.Label + "@old"
		preHeader.Label = newLabel
		preHeader.Instrs = []ir.Instruction{ir.NewLabel(newLabel)}
		oldHeader.Label = oldLabel
		oldHeader.Instrs[0] = ir.NewLabel(oldLabel)
		// The pre-header falls through to the relabeled old header.
		preHeader.Out = []string{oldLabel}
	}

	// Insert the pre-header at headerIdx, shifting everything after it.
	blocks := make([]*cfg.Block, 0, len(g.Blocks)+1)
	blocks = append(blocks, g.Blocks[:headerIdx]...)
	blocks = append(blocks, preHeader)
	blocks = append(blocks, g.Blocks[headerIdx:]...)
	g.Blocks = blocks

	remap := func(x int) (int, bool) {
		switch {
		case x > headerIdx:
			return x + 1, true
		default:
			return x, false
		}
	}
	remapIn := func(x int) int {
		if x >= headerIdx {
			return x + 1
		}
		return x
	}

	if latchIdx >= headerIdx {
		latchIdx++
	}

	remappedPreHeaderPreds := make(map[int]bool, len(preHeader.Preds))
	for p := range preHeader.Preds {
		remappedPreHeaderPreds[remapIn(p)] = true
	}
	preHeader.Preds = remappedPreHeaderPreds

	for idx, b := range g.Blocks {
		if b == preHeader {
			continue
		}
		newSuccs := make(map[int]bool, len(b.Succs))
		for s := range b.Succs {
			ns, _ := remap(s)
			newSuccs[ns] = true
		}
		newPreds := make(map[int]bool, len(b.Preds))
		for p := range b.Preds {
			newPreds[remapIn(p)] = true
		}
		b.Succs = newSuccs
		b.Preds = newPreds

		if idx == latchIdx {
			// The back edge still targets the old header, not the new
			// pre-header which stole the header's original index.
			delete(b.Succs, headerIdx)
			b.Succs[newHeaderIdx] = true
			if oldLabel != "" {
				for i := range b.Instrs {
					b.Instrs[i] = retargetLabels(b.Instrs[i], newLabel, oldLabel)
				}
				for i, l := range b.Out {
					if l == newLabel {
						b.Out[i] = oldLabel
					}
				}
			}
		}
	}

	// The old header is now entered only from the pre-header and the latch.
	oldHeader.Preds = map[int]bool{headerIdx: true, latchIdx: true}

	g.Labels = make(map[string]int, len(g.Blocks))
	for idx, b := range g.Blocks {
		if b.Label != "" {
			g.Labels[b.Label] = idx
		}
	}
}

// retargetLabels rewrites a jmp/br instruction's label operands that
// point at from to instead point at to.
func retargetLabels(inst ir.Instruction, from, to string) ir.Instruction {
	if !inst.IsControl() || len(inst.Labels) == 0 {
		return inst
	}
	changed := false
	labels := make([]string, len(inst.Labels))
	for i, l := range inst.Labels {
		if l == from {
			l = to
			changed = true
		}
		labels[i] = l
	}
	if !changed {
		return inst
	}
	inst.Labels = labels
	return inst
}

// HeaderLabelSuffix is the suffix appended to a loop header's original
// label once a pre-header has stolen it, kept here purely for tests and
// diagnostics that need to recognize a retargeted label.
const HeaderLabelSuffix = "@old"
