package catalog

import (
	"context"
	"time"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
)

// Rename changes the display name of a type. Dependents reference the type by
// id, so neither their definitions nor any encoded value changes; only the
// name index and the definition's name move, together, under the keyspace
// lock. Once Rename returns, ResolveName with the old name fails with an
// unknown type error while statements already holding the id keep working.
func (c *Catalog) Rename(ctx context.Context, id types.TypeID, newName string) error {
	if newName == "" {
		return errors.NewInvalidSchemaError("type name must not be empty")
	}

	ks, def, err := c.lockType(id)
	if err != nil {
		return err
	}
	defer ks.mu.Unlock()

	if other, exists := ks.names[newName]; exists {
		if other == id {
			return nil
		}
		return errors.NewDuplicateNameError("type", newName)
	}

	oldName := def.Name
	updated := def.Clone()
	updated.Name = newName
	updated.UpdatedAt = time.Now()

	m := &Mutation{
		Change: SchemaChange{
			Keyspace: ks.name,
			Kind:     ChangeRenameType,
			Target:   newName,
			Detail: map[string]interface{}{
				"type_id":    uint64(id),
				"from":       oldName,
				"to":         newName,
				"dependents": len(ks.graph.DirectDependents(id)),
			},
		},
		Version:  ks.version + 1,
		PutTypes: []*types.TypeDefinition{updated},
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	delete(ks.names, oldName)
	ks.names[newName] = id
	ks.types[id] = updated
	ks.version++
	return nil
}
