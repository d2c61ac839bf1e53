package passes

import (
	"testing"

	"github.com/bril-tools/brilopt/internal/ir"
)

func TestPointerAnalysisEliminatesStoreThroughAlias(t *testing.T) {
	ptrInt := ir.PtrTo(ir.Prim(ir.TypeInt))
	p := &ir.Program{Functions: []ir.Function{{
		Name: "main",
		Instrs: []ir.Instruction{
			{Op: ir.OpAlloc, Dest: "p", Type: &ptrInt, Args: []string{"one"}},
			{Op: ir.OpId, Dest: "q", Type: &ptrInt, Args: []string{"p"}},
			{Op: ir.OpStore, Args: []string{"p", "five"}},
			{Op: ir.OpStore, Args: []string{"q", "six"}},
			{Op: ir.OpLoad, Dest: "v", Type: &ir.Type{Name: ir.TypeInt}, Args: []string{"q"}},
			{Op: ir.OpPrint, Args: []string{"v"}},
		},
	}}}

	changed, err := PointerAnalysis(p)
	if err != nil {
		t.Fatalf("PointerAnalysis: %v", err)
	}
	if !changed {
		t.Fatal("expected the first store to be eliminated")
	}

	instrs := p.Functions[0].Instrs
	storeCount := 0
	for _, inst := range instrs {
		if inst.Op == ir.OpStore {
			storeCount++
			if len(inst.Args) > 1 && inst.Args[1] != "six" {
				t.Errorf("surviving store should be the store of six, got %+v", inst)
			}
		}
	}
	if storeCount != 1 {
		t.Errorf("expected exactly one surviving store, got %d: %+v", storeCount, instrs)
	}
}

func TestPointerAnalysisKeepsStoreReadByInterveningLoad(t *testing.T) {
	ptrInt := ir.PtrTo(ir.Prim(ir.TypeInt))
	p := &ir.Program{Functions: []ir.Function{{
		Name: "main",
		Instrs: []ir.Instruction{
			{Op: ir.OpAlloc, Dest: "p", Type: &ptrInt, Args: []string{"one"}},
			{Op: ir.OpStore, Args: []string{"p", "five"}},
			{Op: ir.OpLoad, Dest: "v", Type: &ir.Type{Name: ir.TypeInt}, Args: []string{"p"}},
			{Op: ir.OpStore, Args: []string{"p", "six"}},
			{Op: ir.OpPrint, Args: []string{"v"}},
		},
	}}}

	changed, err := PointerAnalysis(p)
	if err != nil {
		t.Fatalf("PointerAnalysis: %v", err)
	}
	if changed {
		t.Fatal("the first store is read by the intervening load and must survive")
	}
}

func TestPointerAnalysisCallInvalidatesPendingStores(t *testing.T) {
	ptrInt := ir.PtrTo(ir.Prim(ir.TypeInt))
	p := &ir.Program{Functions: []ir.Function{{
		Name: "main",
		Instrs: []ir.Instruction{
			{Op: ir.OpAlloc, Dest: "p", Type: &ptrInt, Args: []string{"one"}},
			{Op: ir.OpStore, Args: []string{"p", "five"}},
			{Op: ir.OpCall, Funcs: []string{"f"}},
			{Op: ir.OpStore, Args: []string{"p", "six"}},
		},
	}}}

	changed, err := PointerAnalysis(p)
	if err != nil {
		t.Fatalf("PointerAnalysis: %v", err)
	}
	if changed {
		t.Fatal("a call of unknown effect must invalidate the pending store, not eliminate it")
	}
}

func TestPointerAnalysisDistinctAllocationsDoNotAlias(t *testing.T) {
	ptrInt := ir.PtrTo(ir.Prim(ir.TypeInt))
	p := &ir.Program{Functions: []ir.Function{{
		Name: "main",
		Instrs: []ir.Instruction{
			{Op: ir.OpAlloc, Dest: "p", Type: &ptrInt, Args: []string{"one"}},
			{Op: ir.OpAlloc, Dest: "q", Type: &ptrInt, Args: []string{"one"}},
			{Op: ir.OpStore, Args: []string{"p", "five"}},
			{Op: ir.OpStore, Args: []string{"q", "six"}},
		},
	}}}

	changed, err := PointerAnalysis(p)
	if err != nil {
		t.Fatalf("PointerAnalysis: %v", err)
	}
	if changed {
		t.Fatal("stores to distinct allocation sites must not be treated as dead")
	}
}
