// Package schema validates that a decoded program is well-formed before any
// pass is allowed to run over it: every opcode is recognized, every
// instruction carries the operand slots its opcode requires, and every
// branch target resolves to a label that actually exists in the function.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bril-tools/brilopt/internal/ir"
)

// arity describes, per opcode, the minimum number of Args it must carry
// and whether it requires a Dest.
type arity struct {
	minArgs int
	needsDest bool
}

var opArity = map[string]arity{
	ir.OpConst: {0, true},

	ir.OpAdd: {2, true}, ir.OpSub: {2, true}, ir.OpMul: {2, true}, ir.OpDiv: {2, true},
	ir.OpFAdd: {2, true}, ir.OpFSub: {2, true}, ir.OpFMul: {2, true}, ir.OpFDiv: {2, true},

	ir.OpEq: {2, true}, ir.OpGt: {2, true}, ir.OpGe: {2, true}, ir.OpLt: {2, true}, ir.OpLe: {2, true},
	ir.OpFEq: {2, true}, ir.OpFGt: {2, true}, ir.OpFGe: {2, true}, ir.OpFLt: {2, true}, ir.OpFLe: {2, true},

	ir.OpAnd: {2, true}, ir.OpOr: {2, true}, ir.OpNot: {1, true},

	ir.OpAlloc: {1, true}, ir.OpFree: {1, false}, ir.OpLoad: {1, true}, ir.OpStore: {2, false}, ir.OpPtradd: {2, true},

	ir.OpId: {1, true},

	ir.OpJmp: {0, false}, ir.OpBr: {1, false}, ir.OpRet: {0, false}, ir.OpPrint: {0, false},

	// call's Dest is optional (it may be a void call); arity is checked
	// separately below since it needs Funcs rather than a fixed arg count.
	ir.OpCall: {0, false},

	ir.OpNop: {0, false},
}

// Validator accumulates schema errors across a whole program, in the style
// of a one-shot linting pass: it never stops at the first problem.
type Validator struct {
	errors []string
}

// New returns an empty Validator.
func New() *Validator {
	return &Validator{errors: make([]string, 0)}
}

func (v *Validator) addError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

// ValidateProgram checks every function in p and returns a single combined
// error describing every problem found, or nil if the program is
// well-formed.
func (v *Validator) ValidateProgram(p *ir.Program) error {
	v.errors = v.errors[:0]

	names := map[string]bool{}
	for i, fn := range p.Functions {
		if fn.Name == "" {
			v.addError("function %d: name cannot be empty", i)
		}
		if names[fn.Name] {
			v.addError("duplicate function name: %s", fn.Name)
		}
		names[fn.Name] = true
		v.validateFunction(&fn)
	}

	if len(v.errors) > 0 {
		return fmt.Errorf("schema validation errors:\n%s", strings.Join(v.errors, "\n"))
	}
	return nil
}

func (v *Validator) validateFunction(fn *ir.Function) {
	labels := map[string]bool{}
	for _, inst := range fn.Instrs {
		if inst.IsLabel() {
			labels[inst.Label] = true
		}
	}

	params := map[string]bool{}
	for _, p := range fn.Params {
		if p.Name == "" {
			v.addError("function %s: parameter name cannot be empty", fn.Name)
			continue
		}
		if params[p.Name] {
			v.addError("function %s: duplicate parameter name %q", fn.Name, p.Name)
		}
		params[p.Name] = true
	}

	for i, inst := range fn.Instrs {
		v.validateInstruction(fn.Name, i, inst, labels)
	}
}

func (v *Validator) validateInstruction(fnName string, idx int, inst ir.Instruction, labels map[string]bool) {
	if inst.IsLabel() {
		if inst.Label == "" {
			v.addError("function %s instr %d: label cannot be empty", fnName, idx)
		}
		return
	}

	a, known := opArity[inst.Op]
	if !known {
		v.addError("function %s instr %d: unrecognized opcode %q", fnName, idx, inst.Op)
		return
	}

	if len(inst.Args) < a.minArgs {
		v.addError("function %s instr %d (%s): expected at least %d args, got %d", fnName, idx, inst.Op, a.minArgs, len(inst.Args))
	}
	if a.needsDest && inst.Dest == "" {
		v.addError("function %s instr %d (%s): missing dest", fnName, idx, inst.Op)
	}

	switch inst.Op {
	case ir.OpConst:
		if inst.Value == nil {
			v.addError("function %s instr %d: const must carry a value", fnName, idx)
		}
	case ir.OpJmp:
		if len(inst.Labels) != 1 {
			v.addError("function %s instr %d: jmp must name exactly one label", fnName, idx)
		}
	case ir.OpBr:
		if len(inst.Labels) != 2 {
			v.addError("function %s instr %d: br must name exactly two labels", fnName, idx)
		}
	case ir.OpCall:
		if len(inst.Funcs) != 1 {
			v.addError("function %s instr %d: call must name exactly one function", fnName, idx)
		}
	}

	for _, label := range inst.Labels {
		if !labels[label] {
			v.addError("function %s instr %d: branch target %q does not resolve to a label in this function", fnName, idx, label)
		}
	}
}

// ValidateJSON decodes a raw JSON document as a Program and validates it,
// returning the decoded program so callers need not decode it twice.
func ValidateJSON(data []byte) (*ir.Program, error) {
	var p ir.Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if err := New().ValidateProgram(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
