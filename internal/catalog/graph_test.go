package catalog

import (
	"testing"

	"github.com/oldsharp/udtschema/pkg/types"
)

func TestDependencyGraph_AddRemove(t *testing.T) {
	g := NewDependencyGraph()
	a := types.TypeDependent(2)
	col := types.ColumnDependent("ks", "t", "c")

	g.AddDependent(a, 1)
	g.AddDependent(col, 1)
	g.AddDependent(col, 1) // duplicate edges collapse

	if !g.HasAnyDependents(1) {
		t.Fatal("expected type 1 to have dependents")
	}
	if got := g.EdgeCount(); got != 2 {
		t.Errorf("expected 2 edges, got %d", got)
	}

	deps := g.DirectDependents(1)
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependents, got %d", len(deps))
	}
	if deps[0].Kind != types.DependentType || deps[1].Kind != types.DependentTable {
		t.Errorf("expected types before tables, got %v", deps)
	}

	g.RemoveDependent(a, 1)
	g.RemoveDependent(col, 1)
	if g.HasAnyDependents(1) {
		t.Error("expected no dependents after removal")
	}
	if got := g.EdgeCount(); got != 0 {
		t.Errorf("expected 0 edges, got %d", got)
	}
}

func TestDependencyGraph_RemoveAllFrom(t *testing.T) {
	g := NewDependencyGraph()
	dep := types.TypeDependent(10)
	g.AddReference(dep, types.MapOf(types.UDTRef(1), types.ListOf(types.UDTRef(2))))

	if got := g.References(dep); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected references: %v", got)
	}

	g.RemoveAllFrom(dep)
	if g.HasAnyDependents(1) || g.HasAnyDependents(2) {
		t.Error("expected all edges from dependent removed")
	}
	if len(g.References(dep)) != 0 {
		t.Error("expected no forward references")
	}
}

func TestDependencyGraph_Reaches(t *testing.T) {
	g := NewDependencyGraph()
	// 3 -> 2 -> 1, 4 -> 1
	g.AddDependent(types.TypeDependent(2), 1)
	g.AddDependent(types.TypeDependent(3), 2)
	g.AddDependent(types.TypeDependent(4), 1)

	tests := []struct {
		from, target types.TypeID
		want         bool
	}{
		{3, 1, true},
		{3, 2, true},
		{2, 3, false},
		{1, 3, false},
		{4, 2, false},
		{1, 1, true},
	}
	for _, tt := range tests {
		if got := g.Reaches(tt.from, tt.target); got != tt.want {
			t.Errorf("Reaches(%d, %d) = %v, want %v", tt.from, tt.target, got, tt.want)
		}
	}
}

func TestDependencyGraph_TransitiveDependents(t *testing.T) {
	g := NewDependencyGraph()
	g.AddDependent(types.TypeDependent(2), 1)
	g.AddDependent(types.TypeDependent(3), 2)
	g.AddDependent(types.ColumnDependent("ks", "t", "c"), 3)

	deps := g.TransitiveDependents(1)
	if len(deps) != 3 {
		t.Fatalf("expected 3 transitive dependents, got %d: %v", len(deps), deps)
	}
	if deps[0].TypeID != 2 || deps[1].TypeID != 3 || deps[2].Table != "t" {
		t.Errorf("unexpected breadth-first order: %v", deps)
	}

	// only the direct edge blocks a drop
	if direct := g.DirectDependents(1); len(direct) != 1 {
		t.Errorf("expected 1 direct dependent, got %d", len(direct))
	}
}

func TestDependencyGraph_Rebuild(t *testing.T) {
	defs := []*types.TypeDefinition{
		{ID: 1, Name: "a", Fields: []types.FieldDef{{Name: "x", Type: types.Primitive(types.KindInt)}}},
		{ID: 2, Name: "b", Fields: []types.FieldDef{{Name: "a", Type: types.UDTRef(1)}}},
	}
	tables := []*types.TableDef{
		{Keyspace: "ks", Name: "t", Columns: []types.ColumnDef{
			{Name: "id", Type: types.Primitive(types.KindInt), PrimaryKey: true},
			{Name: "bs", Type: types.SetOf(types.UDTRef(2))},
		}},
	}

	g := NewDependencyGraph()
	g.AddDependent(types.TypeDependent(99), 1) // stale edge is discarded
	g.Rebuild(defs, tables)

	if got := g.EdgeCount(); got != 2 {
		t.Errorf("expected 2 edges after rebuild, got %d", got)
	}
	deps := g.DirectDependents(2)
	if len(deps) != 1 || deps[0].Column != "bs" {
		t.Errorf("unexpected dependents of b: %v", deps)
	}
}
