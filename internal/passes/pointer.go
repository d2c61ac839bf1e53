package passes

import (
	"sort"

	"github.com/bril-tools/brilopt/internal/cfg"
	"github.com/bril-tools/brilopt/internal/ir"
)

// siteSet is a set of allocation-site instruction indices. A variable's
// site set approximates the memory locations it may point to; the
// universal set (every instruction index in the function) stands in for
// "unknown" whenever the analysis loses precision, e.g. after a load.
type siteSet map[int]bool

func unionSites(a, b siteSet) siteSet {
	out := make(siteSet, len(a)+len(b))
	for s := range a {
		out[s] = true
	}
	for s := range b {
		out[s] = true
	}
	return out
}

func sitesEqual(a, b siteSet) bool {
	if len(a) != len(b) {
		return false
	}
	for s := range a {
		if !b[s] {
			return false
		}
	}
	return true
}

// aliases reports whether two site sets could name the same memory.
func aliases(a, b siteSet) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for s := range a {
		if b[s] {
			return true
		}
	}
	return false
}

// ptsEnv maps a variable to the set of allocation sites it may point to.
type ptsEnv map[string]siteSet

func cloneEnv(e ptsEnv) ptsEnv {
	out := make(ptsEnv, len(e))
	for k, v := range e {
		out[k] = unionSites(nil, v)
	}
	return out
}

func envEqual(a, b ptsEnv) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || !sitesEqual(v, ov) {
			return false
		}
	}
	return true
}

// mergeEnv unions src into a copy of dst, per-variable, matching the
// set-union lattice the analysis is defined over.
func mergeEnv(dst, src ptsEnv) ptsEnv {
	out := cloneEnv(dst)
	for k, v := range src {
		out[k] = unionSites(out[k], v)
	}
	return out
}

// PointerAnalysis runs a flow-sensitive, allocation-site points-to
// analysis over each function, then eliminates stores that are
// overwritten through an aliasing address with no intervening aliasing
// load, and no intervening instruction of unknown effect, between them.
func PointerAnalysis(p *ir.Program) (bool, error) {
	changed := false
	for fi := range p.Functions {
		fn := &p.Functions[fi]
		g, err := cfg.Build(fn.Instrs)
		if err != nil {
			return false, err
		}

		blockStart := make([]int, len(g.Blocks))
		total := 0
		for i, b := range g.Blocks {
			blockStart[i] = total
			total += len(b.Instrs)
		}

		universal := make(siteSet, total)
		for i := 0; i < total; i++ {
			universal[i] = true
		}

		paramsEnv := ptsEnv{}
		for _, param := range fn.Params {
			paramsEnv[param.Name] = universal
		}

		inEnv := solvePointsTo(g, blockStart, paramsEnv, universal)

		fnChanged := false
		for idx, b := range g.Blocks {
			if dseBlock(b, cloneEnv(inEnv[idx]), blockStart[idx], universal) {
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

// advanceEnv applies the points-to transfer of a single instruction to
// env in place. globalIdx is the instruction's position in the
// function's original flat instruction list, the key an alloc is
// abstracted by.
func advanceEnv(env ptsEnv, inst ir.Instruction, globalIdx int, universal siteSet) {
	switch inst.Op {
	case ir.OpAlloc:
		if inst.Dest != "" {
			env[inst.Dest] = unionSites(env[inst.Dest], siteSet{globalIdx: true})
		}
	case ir.OpId, ir.OpPtradd:
		if inst.Dest != "" && len(inst.Args) > 0 {
			env[inst.Dest] = unionSites(env[inst.Dest], env[inst.Args[0]])
		}
	case ir.OpLoad:
		if inst.Dest != "" {
			env[inst.Dest] = universal
		}
	}
}

// transferBlock computes b's output points-to environment given its
// input environment in.
func transferBlock(b *cfg.Block, in ptsEnv, blockStartIdx int, universal siteSet) ptsEnv {
	env := cloneEnv(in)
	for i, inst := range b.Instrs {
		advanceEnv(env, inst, blockStartIdx+i, universal)
	}
	return env
}

// solvePointsTo runs the worklist to a fixed point and returns, per
// block, the input environment it converged on.
func solvePointsTo(g *cfg.Graph, blockStart []int, paramsEnv ptsEnv, universal siteSet) []ptsEnv {
	n := len(g.Blocks)
	inEnv := make([]ptsEnv, n)
	outEnv := make([]ptsEnv, n)
	for i := range outEnv {
		outEnv[i] = ptsEnv{}
	}

	queue := make([]int, n)
	for i := range queue {
		queue[i] = i
	}
	queued := make([]bool, n)
	for i := range queued {
		queued[i] = true
	}

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		queued[b] = false

		in := ptsEnv{}
		if len(g.Blocks[b].Preds) == 0 {
			in = mergeEnv(in, paramsEnv)
		}
		for pred := range g.Blocks[b].Preds {
			in = mergeEnv(in, outEnv[pred])
		}
		inEnv[b] = in

		out := transferBlock(g.Blocks[b], in, blockStart[b], universal)
		if !envEqual(out, outEnv[b]) {
			outEnv[b] = out
			for s := range g.Blocks[b].Succs {
				if !queued[s] {
					queue = append(queue, s)
					queued[s] = true
				}
			}
		}
	}

	return inEnv
}

// dseBlock scans b forward, replaying the points-to transfer
// instruction by instruction starting from env (b's converged input
// environment), and deletes stores proven dead by an aliasing store
// that overwrites them with no intervening aliasing load or call in
// between. It reports whether anything was deleted.
func dseBlock(b *cfg.Block, env ptsEnv, blockStartIdx int, universal siteSet) bool {
	unused := map[string]int{}
	var dead []int

	for i, inst := range b.Instrs {
		switch inst.Op {
		case ir.OpStore:
			if len(inst.Args) > 0 {
				addr := inst.Args[0]
				for other, idx := range unused {
					if aliases(env[other], env[addr]) {
						dead = append(dead, idx)
						delete(unused, other)
					}
				}
				unused[addr] = i
			}
		case ir.OpLoad:
			if len(inst.Args) > 0 {
				p := inst.Args[0]
				for other := range unused {
					if aliases(env[other], env[p]) {
						delete(unused, other)
					}
				}
			}
		case ir.OpCall:
			unused = map[string]int{}
		}

		advanceEnv(env, inst, blockStartIdx+i, universal)
	}

	if len(dead) == 0 {
		return false
	}
	sort.Sort(sort.Reverse(sort.IntSlice(dead)))
	for _, i := range dead {
		b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)
	}
	return true
}
