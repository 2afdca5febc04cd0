package catalog

import (
	"fmt"
	"sort"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
)

// DropResult is the outcome of drop validation. When Allowed is false,
// ConflictName and ConflictKind identify one blocking dependent.
type DropResult struct {
	Allowed      bool
	ConflictName string
	ConflictKind types.DependentKind
}

// Err converts a rejected result into an InUse error for the named type.
// It returns nil when the drop is allowed.
func (r DropResult) Err(typeName string) error {
	if r.Allowed {
		return nil
	}
	kind := "user type"
	if r.ConflictKind == types.DependentTable {
		kind = "table"
	}
	return errors.NewInUseError(typeName, kind, r.ConflictName)
}

// DependentInfo is a dependent together with its display name: the current
// type name for types, keyspace.table for table columns.
type DependentInfo struct {
	types.Dependent
	Name string `json:"name"`
}

// dependents returns the direct dependents of id ordered types first, then
// tables, each by display name. Caller holds ks.mu.
func (ks *keyspace) dependents(id types.TypeID) []DependentInfo {
	deps := ks.graph.DirectDependents(id)
	out := make([]DependentInfo, 0, len(deps))
	for _, d := range deps {
		out = append(out, DependentInfo{Dependent: d, Name: ks.dependentName(d)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == types.DependentType
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Column < out[j].Column
	})
	return out
}

func (ks *keyspace) dependentName(d types.Dependent) string {
	if d.Kind == types.DependentType {
		if def, ok := ks.types[d.TypeID]; ok {
			return def.Name
		}
		return d.TypeID.String()
	}
	return d.Keyspace + "." + d.Table
}

// validateDrop decides whether id may be dropped. Only direct dependents block
// a drop. It is a pure read; caller holds ks.mu.
func (ks *keyspace) validateDrop(id types.TypeID) DropResult {
	deps := ks.dependents(id)
	if len(deps) == 0 {
		return DropResult{Allowed: true}
	}
	return DropResult{ConflictName: deps[0].Name, ConflictKind: deps[0].Kind}
}

// validateFieldType checks a candidate field or column type. owner is the type
// receiving the field, or zero for a table column. Every referenced type must
// exist in this keyspace, and no reference may reach owner. Caller holds
// ks.mu.
func (ks *keyspace) validateFieldType(owner types.TypeID, ref types.TypeRef) error {
	if err := ref.Validate(); err != nil {
		return errors.NewInvalidSchemaError(err.Error())
	}

	for _, id := range ref.ReferencedTypes() {
		target, ok := ks.types[id]
		if !ok {
			return errors.NewUnknownTypeError(fmt.Sprintf("%s.<id %s>", ks.name, id))
		}
		if owner == 0 {
			continue
		}
		if id == owner || ks.graph.Reaches(id, owner) {
			ownerName := owner.String()
			if def, ok := ks.types[owner]; ok {
				ownerName = def.Name
			}
			return errors.NewCyclicReferenceError(ownerName, target.Name)
		}
	}
	return nil
}

// validateFields checks a full field list for duplicates and bad references.
func (ks *keyspace) validateFields(owner types.TypeID, fields []types.FieldDef) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return errors.NewInvalidSchemaError("field name must not be empty")
		}
		if seen[f.Name] {
			return errors.NewDuplicateNameError("field", f.Name)
		}
		seen[f.Name] = true
		if err := ks.validateFieldType(owner, f.Type); err != nil {
			return err
		}
	}
	return nil
}
