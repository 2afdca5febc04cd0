package executor

import (
	"context"
	"fmt"

	udterrors "github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/internal/query/parser"
	"github.com/oldsharp/udtschema/pkg/types"
)

// bindings maps "keyspace.name" to the type id a prepared statement saw at
// prepare time.
type bindings map[string]types.TypeID

func bindingKey(keyspace, name string) string {
	return keyspace + "." + name
}

// lookupType resolves a type name, preferring a prepared binding.
func (e *Executor) lookupType(keyspace, name string, b bindings) (types.TypeID, error) {
	if id, ok := b[bindingKey(keyspace, name)]; ok {
		if _, err := e.catalog.Resolve(id); err != nil {
			return 0, err
		}
		return id, nil
	}
	return e.catalog.ResolveName(keyspace, name)
}

// resolveType turns a written type into a reference. User types resolve in
// keyspace; a qualified name must name the same keyspace.
func (e *Executor) resolveType(keyspace string, expr parser.TypeExpr, b bindings) (types.TypeRef, error) {
	if expr.Keyspace == "" {
		switch expr.Name {
		case "list", "set":
			if len(expr.Params) != 1 {
				return types.TypeRef{}, udterrors.NewInvalidSchemaError(fmt.Sprintf("%s takes one type parameter", expr.Name))
			}
			elem, err := e.resolveType(keyspace, expr.Params[0], b)
			if err != nil {
				return types.TypeRef{}, err
			}
			if expr.Name == "list" {
				return types.ListOf(elem), nil
			}
			return types.SetOf(elem), nil
		case "map":
			if len(expr.Params) != 2 {
				return types.TypeRef{}, udterrors.NewInvalidSchemaError("map takes two type parameters")
			}
			key, err := e.resolveType(keyspace, expr.Params[0], b)
			if err != nil {
				return types.TypeRef{}, err
			}
			value, err := e.resolveType(keyspace, expr.Params[1], b)
			if err != nil {
				return types.TypeRef{}, err
			}
			return types.MapOf(key, value), nil
		}
		if kind, ok := types.PrimitiveKind(expr.Name); ok {
			return types.Primitive(kind), nil
		}
	}

	if len(expr.Params) > 0 {
		return types.TypeRef{}, udterrors.NewInvalidSchemaError(fmt.Sprintf("type %s takes no parameters", expr.Name))
	}
	if expr.Keyspace != "" && expr.Keyspace != keyspace {
		// User types are local to their keyspace
		return types.TypeRef{}, udterrors.NewUnknownTypeError(expr.Keyspace + "." + expr.Name)
	}
	id, err := e.lookupType(keyspace, expr.Name, b)
	if err != nil {
		return types.TypeRef{}, err
	}
	return types.UDTRef(id), nil
}

func (e *Executor) resolveFields(keyspace string, specs []parser.FieldSpec, b bindings) ([]types.FieldDef, error) {
	fields := make([]types.FieldDef, len(specs))
	for i, spec := range specs {
		ref, err := e.resolveType(keyspace, spec.Type, b)
		if err != nil {
			return nil, err
		}
		fields[i] = types.FieldDef{Name: spec.Name, Type: ref}
	}
	return fields, nil
}

func (e *Executor) createKeyspace(ctx context.Context, s *parser.CreateKeyspaceStatement) (*Result, error) {
	if s.Name == "system" {
		return nil, udterrors.NewQueryError(udterrors.CodeInvalidRequest, "system keyspace is not user-modifiable")
	}
	existed := e.catalog.HasKeyspace(s.Name)
	if err := e.catalog.CreateKeyspace(ctx, s.Name, s.ReplicationFactor, s.IfNotExists); err != nil {
		return nil, err
	}
	if existed {
		return &Result{}, nil
	}
	return schemaChanged(ChangeCreated, TargetKeyspace, s.Name, ""), nil
}

func (e *Executor) dropKeyspace(ctx context.Context, s *parser.DropKeyspaceStatement) (*Result, error) {
	existed := e.catalog.HasKeyspace(s.Name)
	if err := e.catalog.DropKeyspace(ctx, s.Name, s.IfExists); err != nil {
		return nil, err
	}
	if !existed {
		return &Result{}, nil
	}
	if err := e.rows.DropKeyspace(ctx, s.Name); err != nil {
		return nil, storageError(udterrors.CodeWriteFailed, "failed to drop keyspace rows", err)
	}
	return schemaChanged(ChangeDropped, TargetKeyspace, s.Name, ""), nil
}

func (e *Executor) createType(ctx context.Context, sess *Session, s *parser.CreateTypeStatement, b bindings) (*Result, error) {
	ks, err := keyspaceFor(sess, s.Name)
	if err != nil {
		return nil, err
	}
	if !e.catalog.HasKeyspace(ks) {
		return nil, udterrors.NewUnknownKeyspaceError(ks)
	}
	if s.IfNotExists {
		if _, err := e.catalog.ResolveName(ks, s.Name.Name); err == nil {
			return &Result{}, nil
		}
	}

	fields, err := e.resolveFields(ks, s.Fields, b)
	if err != nil {
		return nil, err
	}
	if _, err := e.catalog.Define(ctx, ks, s.Name.Name, fields); err != nil {
		return nil, err
	}
	return schemaChanged(ChangeCreated, TargetType, ks, s.Name.Name), nil
}

func (e *Executor) alterType(ctx context.Context, sess *Session, s *parser.AlterTypeStatement, b bindings) (*Result, error) {
	ks, err := keyspaceFor(sess, s.Name)
	if err != nil {
		return nil, err
	}
	id, err := e.lookupType(ks, s.Name.Name, b)
	if err != nil {
		return nil, err
	}

	switch s.Action {
	case parser.AlterTypeAdd:
		ref, err := e.resolveType(ks, s.Field.Type, b)
		if err != nil {
			return nil, err
		}
		if err := e.catalog.AddField(ctx, id, types.FieldDef{Name: s.Field.Name, Type: ref}); err != nil {
			return nil, err
		}

	case parser.AlterTypeRename:
		if err := e.catalog.Rename(ctx, id, s.NewName); err != nil {
			return nil, err
		}
		return schemaChanged(ChangeUpdated, TargetType, ks, s.NewName), nil

	case parser.AlterTypeRenameFields:
		if err := e.checkFieldRenames(id, s.Renames); err != nil {
			return nil, err
		}
		for _, r := range s.Renames {
			if err := e.catalog.RenameField(ctx, id, r.From, r.To); err != nil {
				return nil, err
			}
		}
	}

	name, err := e.catalog.TypeName(id)
	if err != nil {
		return nil, err
	}
	return schemaChanged(ChangeUpdated, TargetType, ks, name), nil
}

// checkFieldRenames validates a multi-field rename up front so that either
// every rename is applied or none is.
func (e *Executor) checkFieldRenames(id types.TypeID, renames []parser.FieldRename) error {
	def, err := e.catalog.Resolve(id)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		names[f.Name] = true
	}
	for _, r := range renames {
		if !names[r.From] {
			return udterrors.NewUnknownFieldError(r.From, def.Name)
		}
		if names[r.To] {
			return udterrors.NewDuplicateNameError("field", r.To)
		}
		delete(names, r.From)
		names[r.To] = true
	}
	return nil
}

func (e *Executor) dropType(ctx context.Context, sess *Session, s *parser.DropTypeStatement, b bindings) (*Result, error) {
	ks, err := keyspaceFor(sess, s.Name)
	if err != nil {
		return nil, err
	}
	id, err := e.lookupType(ks, s.Name.Name, b)
	if err != nil {
		if s.IfExists && udterrors.GetCode(err) == udterrors.CodeUnknownType {
			return &Result{}, nil
		}
		return nil, err
	}
	name, err := e.catalog.TypeName(id)
	if err != nil {
		return nil, err
	}
	if err := e.catalog.Drop(ctx, id); err != nil {
		return nil, err
	}
	return schemaChanged(ChangeDropped, TargetType, ks, name), nil
}

func (e *Executor) createTable(ctx context.Context, sess *Session, s *parser.CreateTableStatement, b bindings) (*Result, error) {
	ks, err := keyspaceFor(sess, s.Name)
	if err != nil {
		return nil, err
	}
	if !e.catalog.HasKeyspace(ks) {
		return nil, udterrors.NewUnknownKeyspaceError(ks)
	}
	if s.IfNotExists {
		if _, err := e.catalog.Table(ks, s.Name.Name); err == nil {
			return &Result{}, nil
		}
	}

	def := &types.TableDef{Keyspace: ks, Name: s.Name.Name}
	for _, spec := range s.Columns {
		ref, err := e.resolveType(ks, spec.Type, b)
		if err != nil {
			return nil, err
		}
		def.Columns = append(def.Columns, types.ColumnDef{
			Name:       spec.Name,
			Type:       ref,
			PrimaryKey: spec.Name == s.PrimaryKey,
		})
	}
	if _, ok := def.PrimaryKey(); !ok {
		return nil, udterrors.NewInvalidSchemaError(fmt.Sprintf("Unknown definition %s referenced in PRIMARY KEY", s.PrimaryKey))
	}
	if err := e.catalog.CreateTable(ctx, def, s.IfNotExists); err != nil {
		return nil, err
	}
	return schemaChanged(ChangeCreated, TargetTable, ks, def.Name), nil
}

func (e *Executor) alterTable(ctx context.Context, sess *Session, s *parser.AlterTableStatement, b bindings) (*Result, error) {
	ks, err := keyspaceFor(sess, s.Name)
	if err != nil {
		return nil, err
	}
	ref, err := e.resolveType(ks, s.Column.Type, b)
	if err != nil {
		return nil, err
	}
	if err := e.catalog.AddColumn(ctx, ks, s.Name.Name, types.ColumnDef{Name: s.Column.Name, Type: ref}); err != nil {
		return nil, err
	}
	return schemaChanged(ChangeUpdated, TargetTable, ks, s.Name.Name), nil
}

func (e *Executor) dropTable(ctx context.Context, sess *Session, s *parser.DropTableStatement) (*Result, error) {
	ks, err := keyspaceFor(sess, s.Name)
	if err != nil {
		return nil, err
	}
	if _, err := e.catalog.Table(ks, s.Name.Name); err != nil {
		if s.IfExists {
			return &Result{}, nil
		}
		return nil, err
	}
	if err := e.catalog.DropTable(ctx, ks, s.Name.Name, s.IfExists); err != nil {
		return nil, err
	}
	if err := e.rows.DropTable(ctx, ks, s.Name.Name); err != nil {
		return nil, storageError(udterrors.CodeWriteFailed, "failed to drop table rows", err)
	}
	return schemaChanged(ChangeDropped, TargetTable, ks, s.Name.Name), nil
}
