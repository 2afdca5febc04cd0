package executor

import (
	udterrors "github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/internal/query/parser"
	"github.com/oldsharp/udtschema/pkg/types"
)

const (
	systemKeyspace = "system"
	userTypesTable = "schema_usertypes"
)

func isSystemTypesTable(q parser.QualifiedName) bool {
	return q.Keyspace == systemKeyspace && q.Name == userTypesTable
}

var userTypesColumns = []column{
	{name: "keyspace_name", ref: types.Primitive(types.KindText)},
	{name: "type_name", ref: types.Primitive(types.KindText)},
	{name: "field_names", ref: types.ListOf(types.Primitive(types.KindText))},
	{name: "field_types", ref: types.ListOf(types.Primitive(types.KindText))},
}

// selectUserTypes serves system.schema_usertypes from the catalog: one row
// per type with its current name and field list, ordered by keyspace and
// type name. It may be restricted by keyspace_name or type_name.
func (e *Executor) selectUserTypes(s *parser.SelectStatement) (*Result, error) {
	picked, err := project(userTypesColumns, s.Columns)
	if err != nil {
		return nil, err
	}

	var keyspaceName, typeName string
	if s.Where != nil {
		if s.Where.Value.Kind != types.LitString {
			return nil, invalidRequest("Invalid value %s for column %s of type text", s.Where.Value, s.Where.Column)
		}
		switch s.Where.Column {
		case "keyspace_name":
			keyspaceName = s.Where.Value.Text
		case "type_name":
			typeName = s.Where.Value.Text
		default:
			if _, err := project(userTypesColumns, []string{s.Where.Column}); err != nil {
				return nil, err
			}
			return nil, invalidRequest("Cannot restrict column %s of %s.%s", s.Where.Column, systemKeyspace, userTypesTable)
		}
	}

	keyspaces := e.catalog.Keyspaces()
	if keyspaceName != "" {
		keyspaces = []string{keyspaceName}
	}

	res := e.newResult(userTypesColumns, picked)
	if err := e.appendUserTypeRows(res, keyspaces, typeName, picked); err != nil {
		return nil, err
	}
	return res, nil
}

// appendUserTypeRows adds one row per type of each keyspace. A keyspace
// that no longer exists, either never created or dropped after it was
// listed, has no types.
func (e *Executor) appendUserTypeRows(res *Result, keyspaces []string, typeName string, picked []int) error {
	for _, ks := range keyspaces {
		defs, err := e.catalog.ListTypes(ks)
		if err != nil {
			if udterrors.GetCode(err) == udterrors.CodeUnknownKeyspace {
				continue
			}
			return err
		}
		for _, def := range defs {
			if typeName != "" && def.Name != typeName {
				continue
			}
			all := []interface{}{ks, def.Name, stringList(def.FieldNames()), stringList(e.codec.FieldTypes(def))}
			values := make([]interface{}, len(picked))
			for i, p := range picked {
				values[i] = all[p]
			}
			res.Rows = append(res.Rows, values)
		}
	}
	return nil
}

func stringList(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
