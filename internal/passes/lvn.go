package passes

import (
	"sort"
	"strings"

	"github.com/bril-tools/brilopt/internal/cfg"
	"github.com/bril-tools/brilopt/internal/ir"
)

// LVN performs local value numbering and common-subexpression
// elimination within each basic block. It does not cross block
// boundaries.
func LVN(p *ir.Program) (bool, error) {
	changed := false
	for fi := range p.Functions {
		fn := &p.Functions[fi]
		g, err := cfg.Build(fn.Instrs)
		if err != nil {
			return false, err
		}

		fnChanged := false
		for _, b := range g.Blocks {
			if lvnBlock(b) {
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

// lvnTable is the per-block value-numbering state.
type lvnTable struct {
	nextVN   int
	hashToVN map[string]int
	vnToVar  map[int]string
	vnToHash map[int]string
	varToVNs map[string]map[int]bool
}

func newLVNTable() *lvnTable {
	return &lvnTable{
		nextVN:   0,
		hashToVN: map[string]int{},
		vnToVar:  map[int]string{},
		vnToHash: map[int]string{},
		varToVNs: map[string]map[int]bool{},
	}
}

// invalidate drops every recorded expression that references dest,
// because dest is about to be overwritten. Called on any destination
// write, including the id-replacement case.
func (t *lvnTable) invalidate(dest string) {
	for vn := range t.varToVNs[dest] {
		hash := t.vnToHash[vn]
		delete(t.hashToVN, hash)
		delete(t.vnToHash, vn)
		delete(t.vnToVar, vn)
	}
	delete(t.varToVNs, dest)
}

func (t *lvnTable) reference(v string, vn int) {
	if t.varToVNs[v] == nil {
		t.varToVNs[v] = map[int]bool{}
	}
	t.varToVNs[v][vn] = true
}

func lvnBlock(b *cfg.Block) bool {
	table := newLVNTable()
	changed := false

	for i, inst := range b.Instrs {
		if inst.IsLabel() || !inst.IsComputable() {
			if dest, ok := inst.DestVar(); ok {
				table.invalidate(dest)
			}
			continue
		}

		hash := exprHash(inst)
		dest, _ := inst.DestVar()

		if vn, ok := table.hashToVN[hash]; ok {
			canonical := table.vnToVar[vn]
			replacement := ir.Instruction{Op: ir.OpId, Dest: dest, Type: inst.Type, Args: []string{canonical}}
			table.invalidate(dest)
			b.Instrs[i] = replacement
			table.reference(canonical, vn)
			changed = true
			continue
		}

		vn := table.nextVN
		table.nextVN++
		table.invalidate(dest)
		table.hashToVN[hash] = vn
		table.vnToVar[vn] = dest
		table.vnToHash[vn] = hash
		for _, arg := range inst.Args {
			table.reference(arg, vn)
		}
	}

	return changed
}

// exprHash derives an expression key from the opcode, result type, and
// operand names. For commutative opcodes the operand names are sorted
// first so that a+b and b+a hash identically.
func exprHash(inst ir.Instruction) string {
	args := append([]string(nil), inst.Args...)
	if inst.IsCommutative() {
		sort.Strings(args)
	}
	typeStr := ""
	if inst.Type != nil {
		typeStr = inst.Type.String()
	}
	return inst.Op + "|" + typeStr + "|" + strings.Join(args, ",")
}
