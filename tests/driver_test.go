package tests

import (
	"encoding/json"
	"testing"

	"github.com/bril-tools/brilopt/internal/driver"
	"github.com/bril-tools/brilopt/internal/ir"
	"github.com/bril-tools/brilopt/internal/schema"
)

// runPasses decodes program JSON, runs the named passes through the
// driver, and returns the transformed program for assertion.
func runPasses(t *testing.T, program string, passNames ...string) *ir.Program {
	t.Helper()
	p, err := schema.ValidateJSON([]byte(program))
	if err != nil {
		t.Fatalf("ValidateJSON: %v", err)
	}
	if err := driver.Run(passNames, p); err != nil {
		t.Fatalf("driver.Run: %v", err)
	}
	return p
}

func findFunc(t *testing.T, p *ir.Program, name string) *ir.Function {
	t.Helper()
	for i := range p.Functions {
		if p.Functions[i].Name == name {
			return &p.Functions[i]
		}
	}
	t.Fatalf("no function named %q", name)
	return nil
}

// S1: local DCE removes an overwritten constant before it is ever read.
func TestLocalDCEOverwrittenConstant(t *testing.T) {
	const program = `{
		"functions": [{
			"name": "main",
			"instrs": [
				{"op": "const", "dest": "a", "type": "int", "value": 1},
				{"op": "const", "dest": "a", "type": "int", "value": 2},
				{"op": "print", "args": ["a"]}
			]
		}]
	}`
	p := runPasses(t, program, "local_dce_pass")
	fn := findFunc(t, p, "main")
	if len(fn.Instrs) != 2 {
		t.Fatalf("expected 2 surviving instructions, got %d: %+v", len(fn.Instrs), fn.Instrs)
	}
	if fn.Instrs[0].Op != ir.OpConst || fn.Instrs[0].Value.(int64) != 2 {
		t.Errorf("expected surviving const to hold 2, got %+v", fn.Instrs[0])
	}
}

// S2: LVN replaces a commutative duplicate with an id from the canonical def.
func TestLVNCommutativeCSE(t *testing.T) {
	const program = `{
		"functions": [{
			"name": "main",
			"args": [{"name": "a", "type": "int"}, {"name": "b", "type": "int"}],
			"instrs": [
				{"op": "add", "dest": "x", "type": "int", "args": ["a", "b"]},
				{"op": "add", "dest": "y", "type": "int", "args": ["b", "a"]},
				{"op": "print", "args": ["y"]}
			]
		}]
	}`
	p := runPasses(t, program, "lvn_pass")
	fn := findFunc(t, p, "main")
	y := fn.Instrs[1]
	if y.Op != ir.OpId || len(y.Args) != 1 || y.Args[0] != "x" {
		t.Errorf("expected y to become id x, got %+v", y)
	}
}

// S3: constant propagation folds a use of two prior constants.
func TestConstPropFoldsAdd(t *testing.T) {
	const program = `{
		"functions": [{
			"name": "main",
			"instrs": [
				{"op": "const", "dest": "a", "type": "int", "value": 3},
				{"op": "const", "dest": "b", "type": "int", "value": 4},
				{"op": "add", "dest": "c", "type": "int", "args": ["a", "b"]},
				{"op": "print", "args": ["c"]}
			]
		}]
	}`
	p := runPasses(t, program, "global_const_propagation_pass")
	fn := findFunc(t, p, "main")
	c := fn.Instrs[2]
	if c.Op != ir.OpConst {
		t.Fatalf("expected c to be folded to a const, got %+v", c)
	}
	if got := c.Value.(int64); got != 7 {
		t.Errorf("expected folded value 7, got %v", got)
	}
}

// S4: liveness-based DCE drops a definition whose only use lives in an
// unreachable block.
func TestLivenessDCEDropsDefForUnreachableUse(t *testing.T) {
	const program = `{
		"functions": [{
			"name": "main",
			"instrs": [
				{"op": "const", "dest": "x", "type": "int", "value": 1},
				{"op": "const", "dest": "t", "type": "int", "value": 2},
				{"op": "jmp", "labels": ["exit"]},
				{"label": "dead"},
				{"op": "print", "args": ["t"]},
				{"label": "exit"},
				{"op": "print", "args": ["x"]}
			]
		}]
	}`
	p := runPasses(t, program, "global_dce_pass_using_liveness")
	fn := findFunc(t, p, "main")
	for _, inst := range fn.Instrs {
		if inst.Dest == "t" {
			t.Errorf("definition of t used only in the unreachable block should have been eliminated, found %+v", inst)
		}
	}
}

// S5: the pre-header pass rewrites a natural loop's entry edges without
// disturbing the back edge.
func TestLICMInsertsPreHeader(t *testing.T) {
	const program = `{
		"functions": [{
			"name": "main",
			"instrs": [
				{"op": "const", "dest": "i", "type": "int", "value": 0},
				{"label": "loop"},
				{"op": "const", "dest": "one", "type": "int", "value": 1},
				{"op": "add", "dest": "i", "type": "int", "args": ["i", "one"]},
				{"op": "lt", "dest": "cond", "type": "bool", "args": ["i", "one"]},
				{"op": "br", "args": ["cond"], "labels": ["loop", "done"]},
				{"label": "done"},
				{"op": "print", "args": ["i"]}
			]
		}]
	}`
	p := runPasses(t, program, "loop_invariant_code_motion_pass")
	fn := findFunc(t, p, "main")

	var labels []string
	for _, inst := range fn.Instrs {
		if inst.IsLabel() {
			labels = append(labels, inst.Label)
		}
	}
	if len(labels) < 2 {
		t.Fatalf("expected at least a pre-header and a relabeled header, got labels %v", labels)
	}
	if labels[0] != "loop" {
		t.Errorf("entry into the loop should now land on the pre-header, which carries the original header label; got %v", labels)
	}

	// The instruction that used to jump to "loop" as a back edge must still
	// target the relabeled header, not the pre-header.
	var sawBackEdgeToOriginalHeader bool
	for _, inst := range fn.Instrs {
		if inst.Op == ir.OpBr {
			for _, l := range inst.Labels {
				if l == "loop" {
					sawBackEdgeToOriginalHeader = true
				}
			}
		}
	}
	if sawBackEdgeToOriginalHeader {
		t.Errorf("back edge should target the relabeled header, not the original label still sitting on the pre-header")
	}
}

// S6: dead-store elimination respects aliasing introduced by id/ptradd.
func TestDeadStoreEliminationRespectsAlias(t *testing.T) {
	intType := ir.Prim(ir.TypeInt)
	ptrInt := ir.Type{Elem: &intType}
	p := &ir.Program{Functions: []ir.Function{{
		Name: "main",
		Instrs: []ir.Instruction{
			{Op: ir.OpConst, Dest: "one", Type: &intType, Value: int64(1)},
			{Op: ir.OpAlloc, Dest: "p", Type: &ptrInt, Args: []string{"one"}},
			{Op: ir.OpId, Dest: "q", Type: &ptrInt, Args: []string{"p"}},
			{Op: ir.OpConst, Dest: "five", Type: &intType, Value: int64(5)},
			{Op: ir.OpStore, Args: []string{"p", "five"}},
			{Op: ir.OpConst, Dest: "six", Type: &intType, Value: int64(6)},
			{Op: ir.OpStore, Args: []string{"q", "six"}},
			{Op: ir.OpLoad, Dest: "v", Type: &intType, Args: []string{"q"}},
			{Op: ir.OpPrint, Args: []string{"v"}},
		},
	}}}

	if err := driver.Run([]string{"pointer_analysis_pass"}, p); err != nil {
		t.Fatalf("driver.Run: %v", err)
	}

	fn := &p.Functions[0]
	var stores int
	for _, inst := range fn.Instrs {
		if inst.Op == ir.OpStore {
			stores++
		}
	}
	if stores != 1 {
		t.Errorf("expected the store through p to be eliminated as overwritten via the alias q, leaving 1 store, got %d", stores)
	}
}

// Round-trip: a program with no passes applied re-encodes with the same
// shape it was decoded from (property 1, spec.md §8).
func TestRoundTripNoPasses(t *testing.T) {
	const program = `{"functions":[{"name":"main","instrs":[{"op":"const","dest":"a","type":"int","value":1},{"op":"print","args":["a"]}]}]}`
	p, err := schema.ValidateJSON([]byte(program))
	if err != nil {
		t.Fatalf("ValidateJSON: %v", err)
	}
	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var want, got interface{}
	if err := json.Unmarshal([]byte(program), &want); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal got: %v", err)
	}
	wantJSON, _ := json.Marshal(want)
	gotJSON, _ := json.Marshal(got)
	if string(wantJSON) != string(gotJSON) {
		t.Errorf("round trip mismatch:\nwant %s\ngot  %s", wantJSON, gotJSON)
	}
}

func TestDriverRejectsUnknownPass(t *testing.T) {
	p := &ir.Program{Functions: []ir.Function{{Name: "main"}}}
	if err := driver.Run([]string{"not_a_real_pass"}, p); err == nil {
		t.Fatal("expected an error for an unrecognized pass name")
	}
}

func TestDriverAppliesPassesInOrder(t *testing.T) {
	const program = `{
		"functions": [{
			"name": "main",
			"instrs": [
				{"op": "const", "dest": "a", "type": "int", "value": 3},
				{"op": "const", "dest": "b", "type": "int", "value": 4},
				{"op": "add", "dest": "c", "type": "int", "args": ["a", "b"]},
				{"op": "add", "dest": "d", "type": "int", "args": ["a", "b"]},
				{"op": "print", "args": ["c", "d"]}
			]
		}]
	}`
	// const-prop runs first and folds both adds to const 7; LVN does not
	// number const instructions, so d stays a const 7. Had LVN run first,
	// d would have become id c, which const-prop does not fold.
	p := runPasses(t, program, "global_const_propagation_pass", "lvn_pass")
	fn := findFunc(t, p, "main")
	d := fn.Instrs[3]
	if d.Op != ir.OpConst || d.Value != int64(7) {
		t.Errorf("expected d to be folded to const 7 by const-prop before lvn, got %+v", d)
	}
}
