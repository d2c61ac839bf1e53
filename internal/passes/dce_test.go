package passes

import (
	"testing"

	"github.com/bril-tools/brilopt/internal/ir"
)

func TestLocalDCERemovesDeadStore(t *testing.T) {
	p := &ir.Program{Functions: []ir.Function{{
		Name: "main",
		Instrs: []ir.Instruction{
			{Op: ir.OpConst, Dest: "a", Value: int64(1)},
			{Op: ir.OpConst, Dest: "a", Value: int64(2)}, // first "a" is dead
			{Op: ir.OpPrint, Args: []string{"a"}},
		},
	}}}

	changed, err := LocalDCE(p)
	if err != nil {
		t.Fatalf("LocalDCE: %v", err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	instrs := p.Functions[0].Instrs
	if len(instrs) != 2 {
		t.Fatalf("got %d instrs, want 2: %+v", len(instrs), instrs)
	}
	if instrs[0].Value != int64(2) {
		t.Errorf("surviving const should be the second assignment, got %v", instrs[0].Value)
	}
}

func TestLocalDCEKeepsSideEffectingDef(t *testing.T) {
	p := &ir.Program{Functions: []ir.Function{{
		Name: "main",
		Instrs: []ir.Instruction{
			{Op: ir.OpCall, Dest: "a", Funcs: []string{"f"}},
			{Op: ir.OpConst, Dest: "a", Value: int64(2)},
			{Op: ir.OpPrint, Args: []string{"a"}},
		},
	}}}

	changed, err := LocalDCE(p)
	if err != nil {
		t.Fatalf("LocalDCE: %v", err)
	}
	if changed {
		t.Fatal("a call's unused result must not be deleted")
	}
}

func TestNaiveDCERemovesUnusedPureInstruction(t *testing.T) {
	p := &ir.Program{Functions: []ir.Function{{
		Name: "main",
		Instrs: []ir.Instruction{
			{Op: ir.OpConst, Dest: "unused", Value: int64(1)},
			{Op: ir.OpConst, Dest: "a", Value: int64(2)},
			{Op: ir.OpPrint, Args: []string{"a"}},
		},
	}}}

	changed, err := NaiveDCE(p)
	if err != nil {
		t.Fatalf("NaiveDCE: %v", err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	if len(p.Functions[0].Instrs) != 2 {
		t.Fatalf("got %d instrs, want 2", len(p.Functions[0].Instrs))
	}
}

func TestNaiveDCEPreservesLabels(t *testing.T) {
	p := &ir.Program{Functions: []ir.Function{{
		Name: "main",
		Instrs: []ir.Instruction{
			ir.NewLabel("start"),
			{Op: ir.OpRet},
		},
	}}}

	if _, err := NaiveDCE(p); err != nil {
		t.Fatalf("NaiveDCE: %v", err)
	}
	if len(p.Functions[0].Instrs) != 2 {
		t.Fatalf("label must survive, got %+v", p.Functions[0].Instrs)
	}
}
