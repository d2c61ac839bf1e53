package passes

import (
	"github.com/bril-tools/brilopt/internal/cfg"
	"github.com/bril-tools/brilopt/internal/ir"
)

// constVal is a known constant binding: a literal value together with
// its declared result type.
type constVal struct {
	Value interface{}
	Type  ir.Type
}

type constEnv map[string]constVal

// GlobalConstProp runs flow-sensitive forward constant propagation over
// each function's CFG, folding arithmetic, logic, and comparison
// instructions whose operands are all known constants.
func GlobalConstProp(p *ir.Program) (bool, error) {
	changed := false
	for fi := range p.Functions {
		fn := &p.Functions[fi]
		g, err := cfg.Build(fn.Instrs)
		if err != nil {
			return false, err
		}

		if constPropFunction(g) {
			fn.Instrs = g.Flatten()
			changed = true
		}
	}
	return changed, nil
}

// constPropFunction runs the worklist to a fixed point over g's blocks
// and reports whether any instruction was folded.
func constPropFunction(g *cfg.Graph) bool {
	n := len(g.Blocks)
	outEnv := make([]constEnv, n)
	for i := range outEnv {
		outEnv[i] = constEnv{}
	}

	queue := make([]int, n)
	for i := range queue {
		queue[i] = i
	}
	queued := make([]bool, n)
	for i := range queued {
		queued[i] = true
	}

	anyChange := false

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		queued[b] = false

		in := meetPreds(g, outEnv, b)
		out, instrChanged := constPropBlock(g.Blocks[b], in)
		outEnv[b] = out

		if instrChanged {
			anyChange = true
			for s := range g.Blocks[b].Succs {
				if !queued[s] {
					queue = append(queue, s)
					queued[s] = true
				}
			}
		}
	}

	return anyChange
}

// meetPreds joins the current output environments of b's predecessors:
// a variable survives the join only if every predecessor maps it to the
// same constant value and type.
func meetPreds(g *cfg.Graph, outEnv []constEnv, b int) constEnv {
	preds := g.Blocks[b].Preds
	if len(preds) == 0 {
		return constEnv{}
	}

	var joined constEnv
	first := true
	for p := range preds {
		if first {
			joined = constEnv{}
			for k, v := range outEnv[p] {
				joined[k] = v
			}
			first = false
			continue
		}
		for k, v := range joined {
			other, ok := outEnv[p][k]
			if !ok || other.Value != v.Value || other.Type != v.Type {
				delete(joined, k)
			}
		}
	}
	return joined
}

// constPropBlock walks b's instructions under input environment in,
// folding any instruction whose operands are all known constants, and
// returns the block's output environment plus whether anything folded.
func constPropBlock(b *cfg.Block, in constEnv) (constEnv, bool) {
	env := constEnv{}
	for k, v := range in {
		env[k] = v
	}
	changed := false

	for i, inst := range b.Instrs {
		if inst.IsLabel() {
			continue
		}

		if inst.Op == ir.OpConst {
			if inst.Dest != "" {
				t := ir.Type{}
				if inst.Type != nil {
					t = *inst.Type
				}
				env[inst.Dest] = constVal{Value: inst.Value, Type: t}
			}
			continue
		}

		if dest, ok := inst.DestVar(); ok {
			delete(env, dest)
		}

		if inst.IsFoldable() && len(inst.Args) > 0 {
			if value, resultType, ok := foldConstant(inst, env); ok {
				folded := ir.Instruction{Op: ir.OpConst, Dest: inst.Dest, Type: &resultType, Value: value}
				b.Instrs[i] = folded
				env[inst.Dest] = constVal{Value: value, Type: resultType}
				changed = true
			}
		}
	}

	return env, changed
}

// foldConstant evaluates inst given that every one of its operands is
// bound to a known constant in env.
func foldConstant(inst ir.Instruction, env constEnv) (value interface{}, resultType ir.Type, ok bool) {
	vals := make([]constVal, len(inst.Args))
	for i, arg := range inst.Args {
		v, found := env[arg]
		if !found {
			return nil, ir.Type{}, false
		}
		vals[i] = v
	}

	switch inst.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
		return foldIntArith(inst.Op, vals)
	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		return foldFloatArith(inst.Op, vals)
	case ir.OpAnd, ir.OpOr:
		return foldBoolBinary(inst.Op, vals)
	case ir.OpNot:
		return foldNot(vals)
	case ir.OpEq, ir.OpGt, ir.OpGe, ir.OpLt, ir.OpLe:
		return foldIntCompare(inst.Op, vals)
	case ir.OpFEq, ir.OpFGt, ir.OpFGe, ir.OpFLt, ir.OpFLe:
		return foldFloatCompare(inst.Op, vals)
	default:
		return nil, ir.Type{}, false
	}
}

func asInt(v constVal) (int64, bool) {
	i, ok := v.Value.(int64)
	return i, ok
}

func asFloat(v constVal) (float64, bool) {
	f, ok := v.Value.(float64)
	return f, ok
}

func asBool(v constVal) (bool, bool) {
	b, ok := v.Value.(bool)
	return b, ok
}

func foldIntArith(op string, vals []constVal) (interface{}, ir.Type, bool) {
	if len(vals) != 2 {
		return nil, ir.Type{}, false
	}
	a, ok := asInt(vals[0])
	if !ok {
		return nil, ir.Type{}, false
	}
	b, ok := asInt(vals[1])
	if !ok {
		return nil, ir.Type{}, false
	}
	var result int64
	switch op {
	case ir.OpAdd:
		result = a + b
	case ir.OpSub:
		result = a - b
	case ir.OpMul:
		result = a * b
	case ir.OpDiv:
		if b == 0 {
			return nil, ir.Type{}, false
		}
		result = a / b
	}
	return result, ir.Prim(ir.TypeInt), true
}

func foldFloatArith(op string, vals []constVal) (interface{}, ir.Type, bool) {
	if len(vals) != 2 {
		return nil, ir.Type{}, false
	}
	a, ok := asFloat(vals[0])
	if !ok {
		return nil, ir.Type{}, false
	}
	b, ok := asFloat(vals[1])
	if !ok {
		return nil, ir.Type{}, false
	}
	var result float64
	switch op {
	case ir.OpFAdd:
		result = a + b
	case ir.OpFSub:
		result = a - b
	case ir.OpFMul:
		result = a * b
	case ir.OpFDiv:
		result = a / b
	}
	return result, ir.Prim(ir.TypeFloat), true
}

func foldBoolBinary(op string, vals []constVal) (interface{}, ir.Type, bool) {
	if len(vals) != 2 {
		return nil, ir.Type{}, false
	}
	a, ok := asBool(vals[0])
	if !ok {
		return nil, ir.Type{}, false
	}
	b, ok := asBool(vals[1])
	if !ok {
		return nil, ir.Type{}, false
	}
	var result bool
	switch op {
	case ir.OpAnd:
		result = a && b
	case ir.OpOr:
		result = a || b
	}
	return result, ir.Prim(ir.TypeBool), true
}

func foldNot(vals []constVal) (interface{}, ir.Type, bool) {
	if len(vals) != 1 {
		return nil, ir.Type{}, false
	}
	a, ok := asBool(vals[0])
	if !ok {
		return nil, ir.Type{}, false
	}
	return !a, ir.Prim(ir.TypeBool), true
}

func foldIntCompare(op string, vals []constVal) (interface{}, ir.Type, bool) {
	if len(vals) != 2 {
		return nil, ir.Type{}, false
	}
	a, ok := asInt(vals[0])
	if !ok {
		return nil, ir.Type{}, false
	}
	b, ok := asInt(vals[1])
	if !ok {
		return nil, ir.Type{}, false
	}
	var result bool
	switch op {
	case ir.OpEq:
		result = a == b
	case ir.OpGt:
		result = a > b
	case ir.OpGe:
		result = a >= b
	case ir.OpLt:
		result = a < b
	case ir.OpLe:
		result = a <= b
	}
	return result, ir.Prim(ir.TypeBool), true
}

func foldFloatCompare(op string, vals []constVal) (interface{}, ir.Type, bool) {
	if len(vals) != 2 {
		return nil, ir.Type{}, false
	}
	a, ok := asFloat(vals[0])
	if !ok {
		return nil, ir.Type{}, false
	}
	b, ok := asFloat(vals[1])
	if !ok {
		return nil, ir.Type{}, false
	}
	var result bool
	switch op {
	case ir.OpFEq:
		result = a == b
	case ir.OpFGt:
		result = a > b
	case ir.OpFGe:
		result = a >= b
	case ir.OpFLt:
		result = a < b
	case ir.OpFLe:
		result = a <= b
	}
	return result, ir.Prim(ir.TypeBool), true
}
