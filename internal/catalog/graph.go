package catalog

import (
	"sort"

	"github.com/oldsharp/udtschema/pkg/types"
)

// DependencyGraph indexes direct "X references type Y" edges. It is a derived
// view: it is never persisted and can be rebuilt from type and table
// definitions at any time. Transitive reachability is computed on demand.
//
// DependencyGraph is not safe for concurrent use; the owning keyspace lock
// guards it.
type DependencyGraph struct {
	// reverse maps a type to the dependents that reference it directly
	reverse map[types.TypeID]map[string]types.Dependent

	// forward maps a dependent key to the types it references directly
	forward map[string]map[types.TypeID]struct{}
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		reverse: make(map[types.TypeID]map[string]types.Dependent),
		forward: make(map[string]map[types.TypeID]struct{}),
	}
}

// AddDependent records that dep references the type on.
func (g *DependencyGraph) AddDependent(dep types.Dependent, on types.TypeID) {
	key := dep.Key()

	deps, ok := g.reverse[on]
	if !ok {
		deps = make(map[string]types.Dependent)
		g.reverse[on] = deps
	}
	deps[key] = dep

	targets, ok := g.forward[key]
	if !ok {
		targets = make(map[types.TypeID]struct{})
		g.forward[key] = targets
	}
	targets[on] = struct{}{}
}

// RemoveDependent deletes the edge dep -> on if present.
func (g *DependencyGraph) RemoveDependent(dep types.Dependent, on types.TypeID) {
	key := dep.Key()
	if deps, ok := g.reverse[on]; ok {
		delete(deps, key)
		if len(deps) == 0 {
			delete(g.reverse, on)
		}
	}
	if targets, ok := g.forward[key]; ok {
		delete(targets, on)
		if len(targets) == 0 {
			delete(g.forward, key)
		}
	}
}

// RemoveAllFrom deletes every edge whose source is dep.
func (g *DependencyGraph) RemoveAllFrom(dep types.Dependent) {
	key := dep.Key()
	for on := range g.forward[key] {
		if deps, ok := g.reverse[on]; ok {
			delete(deps, key)
			if len(deps) == 0 {
				delete(g.reverse, on)
			}
		}
	}
	delete(g.forward, key)
}

// AddReference records an edge from dep to every type named by ref.
func (g *DependencyGraph) AddReference(dep types.Dependent, ref types.TypeRef) {
	for _, id := range ref.ReferencedTypes() {
		g.AddDependent(dep, id)
	}
}

// DirectDependents returns the dependents that reference id directly.
// Types come before table columns; within a kind the order is by type id or
// by keyspace.table.column.
func (g *DependencyGraph) DirectDependents(id types.TypeID) []types.Dependent {
	deps := g.reverse[id]
	if len(deps) == 0 {
		return nil
	}

	out := make([]types.Dependent, 0, len(deps))
	for _, d := range deps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return dependentLess(out[i], out[j])
	})
	return out
}

func dependentLess(a, b types.Dependent) bool {
	if a.Kind != b.Kind {
		return a.Kind == types.DependentType
	}
	if a.Kind == types.DependentType {
		return a.TypeID < b.TypeID
	}
	return a.Key() < b.Key()
}

// HasAnyDependents reports whether anything references id directly.
func (g *DependencyGraph) HasAnyDependents(id types.TypeID) bool {
	return len(g.reverse[id]) > 0
}

// References returns the types a dependent references directly, sorted.
func (g *DependencyGraph) References(dep types.Dependent) []types.TypeID {
	targets := g.forward[dep.Key()]
	out := make([]types.TypeID, 0, len(targets))
	for id := range targets {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reaches reports whether target is reachable from the type from by following
// type-to-type references. A type reaches itself.
func (g *DependencyGraph) Reaches(from, target types.TypeID) bool {
	visited := make(map[types.TypeID]bool)
	stack := []types.TypeID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true

		for next := range g.forward[types.TypeDependent(id).Key()] {
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// TransitiveDependents returns every dependent that reaches id through any
// chain of references, in breadth-first order.
func (g *DependencyGraph) TransitiveDependents(id types.TypeID) []types.Dependent {
	var out []types.Dependent
	seen := make(map[string]bool)
	queue := []types.TypeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.DirectDependents(cur) {
			key := d.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, d)
			if d.Kind == types.DependentType {
				queue = append(queue, d.TypeID)
			}
		}
	}
	return out
}

// Rebuild replaces the graph contents with the edges implied by defs and
// tables.
func (g *DependencyGraph) Rebuild(defs []*types.TypeDefinition, tables []*types.TableDef) {
	g.reverse = make(map[types.TypeID]map[string]types.Dependent)
	g.forward = make(map[string]map[types.TypeID]struct{})

	for _, def := range defs {
		dep := types.TypeDependent(def.ID)
		for _, f := range def.Fields {
			g.AddReference(dep, f.Type)
		}
	}
	for _, t := range tables {
		for _, col := range t.Columns {
			g.AddReference(types.ColumnDependent(t.Keyspace, t.Name, col.Name), col.Type)
		}
	}
}

// EdgeCount returns the number of direct edges in the graph.
func (g *DependencyGraph) EdgeCount() int {
	n := 0
	for _, deps := range g.reverse {
		n += len(deps)
	}
	return n
}
