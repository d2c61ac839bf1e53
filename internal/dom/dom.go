// Package dom computes dominator sets over a cfg.Graph, the basis for
// back-edge detection and loop-invariant code motion.
package dom

import "github.com/bril-tools/brilopt/internal/cfg"

// Sets holds, for each block index, the set of block indices that
// dominate it (including itself).
type Sets struct {
	Dom []map[int]bool
}

// Dominates reports whether block a dominates block b.
func (s *Sets) Dominates(a, b int) bool {
	return s.Dom[b][a]
}

// Compute produces the dominator sets of g's blocks. Block 0 is the
// entry block, whose dominator set is always {0}.
//
// Blocks are visited in reverse post-order and a block's dominator set
// is recomputed as the intersection of its predecessors' dominator sets
// union itself; blocks are seeded to the full block set so an
// unreached-yet predecessor does not collapse the intersection to
// empty. A block not reachable from the entry is dominated only by
// itself and is left out of every intersection. RPO sweeps repeat until
// no set changes, which is sound for both reducible and irreducible
// graphs (a single sweep suffices only for reducible graphs).
func Compute(g *cfg.Graph) *Sets {
	n := len(g.Blocks)
	all := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		all[i] = true
	}

	doms := make([]map[int]bool, n)
	for i := range doms {
		doms[i] = cloneSet(all)
	}
	doms[0] = map[int]bool{0: true}

	order := reversePostOrder(g)
	reachable := make([]bool, n)
	for _, idx := range order {
		reachable[idx] = true
	}
	for i := range doms {
		if !reachable[i] {
			doms[i] = map[int]bool{i: true}
		}
	}

	for {
		changed := false
		for _, idx := range order {
			if idx == 0 {
				continue
			}
			b := g.Blocks[idx]

			var next map[int]bool
			first := true
			for p := range b.Preds {
				if !reachable[p] {
					continue
				}
				if first {
					next = cloneSet(doms[p])
					first = false
					continue
				}
				intersect(next, doms[p])
			}
			if first {
				// no reachable predecessor contributed: dominated only by itself
				next = map[int]bool{}
			}
			next[idx] = true

			if !setsEqual(next, doms[idx]) {
				doms[idx] = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return &Sets{Dom: doms}
}

// reversePostOrder returns block indices in reverse post-order of a
// depth-first traversal from block 0.
func reversePostOrder(g *cfg.Graph) []int {
	visited := make([]bool, len(g.Blocks))
	var post []int

	var visit func(idx int)
	visit = func(idx int) {
		visited[idx] = true
		b := g.Blocks[idx]
		for succ := range b.Succs {
			if !visited[succ] {
				visit(succ)
			}
		}
		post = append(post, idx)
	}
	visit(0)

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func cloneSet(s map[int]bool) map[int]bool {
	out := make(map[int]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func intersect(dst, src map[int]bool) {
	for k := range dst {
		if !src[k] {
			delete(dst, k)
		}
	}
}

func setsEqual(a, b map[int]bool) bool {
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
