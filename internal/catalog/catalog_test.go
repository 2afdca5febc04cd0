package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intField(name string) types.FieldDef {
	return types.FieldDef{Name: name, Type: types.Primitive(types.KindInt)}
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New()
	require.NoError(t, c.CreateKeyspace(context.Background(), "ks", 1, false))
	return c
}

func newPersistentCatalog(t *testing.T, path string) *Catalog {
	t.Helper()
	store, err := OpenStore(path)
	require.NoError(t, err)
	c, err := Open(context.Background(), store)
	require.NoError(t, err)
	return c
}

func TestCatalog_DefineResolve(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id, err := c.Define(ctx, "ks", "simple_type", []types.FieldDef{intField("user_number")})
	require.NoError(t, err)
	assert.NotZero(t, id)

	def, err := c.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, "simple_type", def.Name)
	assert.Equal(t, "ks", def.Keyspace)
	assert.Equal(t, []string{"user_number"}, def.FieldNames())

	// Resolve hands out copies
	def.Fields[0].Name = "mutated"
	again, err := c.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, "user_number", again.Fields[0].Name)

	byName, err := c.ResolveName("ks", "simple_type")
	require.NoError(t, err)
	assert.Equal(t, id, byName)

	v, err := c.Version("ks")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestCatalog_DefineErrors(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.Define(ctx, "ks", "t", []types.FieldDef{intField("a")})
	require.NoError(t, err)

	_, err = c.Define(ctx, "ks", "t", []types.FieldDef{intField("a")})
	assert.ErrorIs(t, err, errors.ErrDuplicateName)

	_, err = c.Define(ctx, "ks", "u", []types.FieldDef{intField("a"), intField("a")})
	assert.ErrorIs(t, err, errors.ErrDuplicateName)

	_, err = c.Define(ctx, "ks", "v", []types.FieldDef{{Name: "x", Type: types.UDTRef(999)}})
	assert.ErrorIs(t, err, errors.ErrUnknownType)

	_, err = c.Define(ctx, "missing", "w", []types.FieldDef{intField("a")})
	assert.ErrorIs(t, err, errors.ErrUnknownKeyspace)

	_, err = c.Define(ctx, "ks", "empty", nil)
	assert.Equal(t, errors.CodeInvalidSchema, errors.GetCode(err))

	// rejected definitions leave no trace
	list, err := c.ListTypes("ks")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	v, err := c.Version("ks")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestCatalog_TypesAreKeyspaceLocal(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateKeyspace(ctx, "other", 1, false))

	id, err := c.Define(ctx, "other", "t", []types.FieldDef{intField("a")})
	require.NoError(t, err)

	_, err = c.Define(ctx, "ks", "uses_other", []types.FieldDef{{Name: "x", Type: types.UDTRef(id)}})
	assert.ErrorIs(t, err, errors.ErrUnknownType)

	// same name in two keyspaces is fine
	_, err = c.Define(ctx, "ks", "t", []types.FieldDef{intField("a")})
	assert.NoError(t, err)
}

func TestCatalog_AddField(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id, err := c.Define(ctx, "ks", "t", []types.FieldDef{intField("a")})
	require.NoError(t, err)

	require.NoError(t, c.AddField(ctx, id, types.FieldDef{Name: "b", Type: types.Primitive(types.KindText)}))
	def, err := c.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, def.FieldNames())

	err = c.AddField(ctx, id, intField("a"))
	assert.ErrorIs(t, err, errors.ErrDuplicateName)

	err = c.AddField(ctx, 12345, intField("z"))
	assert.ErrorIs(t, err, errors.ErrUnknownType)
}

func TestCatalog_AddFieldRejectsCycles(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	a, err := c.Define(ctx, "ks", "a", []types.FieldDef{intField("x")})
	require.NoError(t, err)
	b, err := c.Define(ctx, "ks", "b", []types.FieldDef{{Name: "a", Type: types.UDTRef(a)}})
	require.NoError(t, err)
	cc, err := c.Define(ctx, "ks", "c", []types.FieldDef{{Name: "bs", Type: types.ListOf(types.UDTRef(b))}})
	require.NoError(t, err)

	tests := []struct {
		name  string
		owner types.TypeID
		ref   types.TypeRef
	}{
		{"self", a, types.UDTRef(a)},
		{"self in collection", a, types.SetOf(types.UDTRef(a))},
		{"two levels", a, types.UDTRef(b)},
		{"three levels through list", a, types.MapOf(types.Primitive(types.KindText), types.UDTRef(cc))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := c.Version("ks")
			err := c.AddField(ctx, tt.owner, types.FieldDef{Name: "loop", Type: tt.ref})
			assert.ErrorIs(t, err, errors.ErrCyclicReference)
			after, _ := c.Version("ks")
			assert.Equal(t, before, after)
		})
	}

	// a reference in the other direction is fine
	assert.NoError(t, c.AddField(ctx, cc, types.FieldDef{Name: "extra_a", Type: types.UDTRef(a)}))
}

func TestCatalog_DropBlockedByType(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	simple, err := c.Define(ctx, "ks", "simple_type", []types.FieldDef{intField("user_number")})
	require.NoError(t, err)
	another, err := c.Define(ctx, "ks", "another_type", []types.FieldDef{{Name: "somefield", Type: types.UDTRef(simple)}})
	require.NoError(t, err)

	err = c.Drop(ctx, simple)
	require.ErrorIs(t, err, errors.ErrInUse)
	assert.Equal(t, "Cannot drop user type simple_type as it is still used by user type another_type", errors.Message(err))

	require.NoError(t, c.Drop(ctx, another))
	require.NoError(t, c.Drop(ctx, simple))

	list, err := c.ListTypes("ks")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = c.Resolve(simple)
	assert.ErrorIs(t, err, errors.ErrUnknownType)
}

func TestCatalog_DropBlockedByTable(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.CreateKeyspace(ctx, "user_type_dropping", 1, false))

	simple, err := c.Define(ctx, "user_type_dropping", "simple_type", []types.FieldDef{intField("user_number")})
	require.NoError(t, err)

	require.NoError(t, c.CreateTable(ctx, &types.TableDef{
		Keyspace: "user_type_dropping",
		Name:     "simple_table",
		Columns: []types.ColumnDef{
			{Name: "id", Type: types.Primitive(types.KindUUID), PrimaryKey: true},
			{Name: "number", Type: types.UDTRef(simple)},
		},
	}, false))

	res, err := c.ValidateDrop(simple)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, types.DependentTable, res.ConflictKind)
	assert.Equal(t, "user_type_dropping.simple_table", res.ConflictName)

	err = c.Drop(ctx, simple)
	require.ErrorIs(t, err, errors.ErrInUse)
	assert.Equal(t,
		"Cannot drop user type simple_type as it is still used by table user_type_dropping.simple_table",
		errors.Message(err))

	require.NoError(t, c.DropTable(ctx, "user_type_dropping", "simple_table", false))
	require.NoError(t, c.Drop(ctx, simple))
}

func TestCatalog_DropReportsTypesBeforeTables(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	base, err := c.Define(ctx, "ks", "base", []types.FieldDef{intField("x")})
	require.NoError(t, err)
	require.NoError(t, c.CreateTable(ctx, &types.TableDef{
		Keyspace: "ks", Name: "aaa",
		Columns: []types.ColumnDef{
			{Name: "id", Type: types.Primitive(types.KindInt), PrimaryKey: true},
			{Name: "b", Type: types.ListOf(types.UDTRef(base))},
		},
	}, false))
	_, err = c.Define(ctx, "ks", "zzz", []types.FieldDef{{Name: "b", Type: types.UDTRef(base)}})
	require.NoError(t, err)
	_, err = c.Define(ctx, "ks", "mmm", []types.FieldDef{{Name: "b", Type: types.UDTRef(base)}})
	require.NoError(t, err)

	deps, err := c.DirectDependents(base)
	require.NoError(t, err)
	require.Len(t, deps, 3)
	assert.Equal(t, "mmm", deps[0].Name)
	assert.Equal(t, "zzz", deps[1].Name)
	assert.Equal(t, "ks.aaa", deps[2].Name)

	err = c.Drop(ctx, base)
	assert.Equal(t, "Cannot drop user type base as it is still used by user type mmm", errors.Message(err))
}

func TestCatalog_Rename(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	inner, err := c.Define(ctx, "ks", "inner", []types.FieldDef{intField("x")})
	require.NoError(t, err)
	outer, err := c.Define(ctx, "ks", "outer", []types.FieldDef{{Name: "in", Type: types.UDTRef(inner)}})
	require.NoError(t, err)
	_, err = c.Define(ctx, "ks", "taken", []types.FieldDef{intField("x")})
	require.NoError(t, err)

	err = c.Rename(ctx, inner, "taken")
	assert.ErrorIs(t, err, errors.ErrDuplicateName)

	require.NoError(t, c.Rename(ctx, inner, "renamed_inner"))

	_, err = c.ResolveName("ks", "inner")
	assert.ErrorIs(t, err, errors.ErrUnknownType)

	id, err := c.ResolveName("ks", "renamed_inner")
	require.NoError(t, err)
	assert.Equal(t, inner, id)

	// dependents still reference the same id
	def, err := c.Resolve(outer)
	require.NoError(t, err)
	assert.True(t, def.Fields[0].Type.Equal(types.UDTRef(inner)))

	deps, err := c.DirectDependents(inner)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "outer", deps[0].Name)

	// the old name is free again
	_, err = c.Define(ctx, "ks", "inner", []types.FieldDef{intField("y")})
	assert.NoError(t, err)
}

func TestCatalog_RenameField(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id, err := c.Define(ctx, "ks", "t", []types.FieldDef{intField("a"), intField("b")})
	require.NoError(t, err)

	require.NoError(t, c.RenameField(ctx, id, "a", "first"))
	def, err := c.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "b"}, def.FieldNames())

	assert.ErrorIs(t, c.RenameField(ctx, id, "missing", "x"), errors.ErrUnknownField)
	assert.ErrorIs(t, c.RenameField(ctx, id, "first", "b"), errors.ErrDuplicateName)
}

func TestCatalog_Tables(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id, err := c.Define(ctx, "ks", "t", []types.FieldDef{intField("a")})
	require.NoError(t, err)

	table := &types.TableDef{Keyspace: "ks", Name: "tbl", Columns: []types.ColumnDef{
		{Name: "id", Type: types.Primitive(types.KindInt), PrimaryKey: true},
	}}
	require.NoError(t, c.CreateTable(ctx, table, false))
	assert.ErrorIs(t, c.CreateTable(ctx, table, false), errors.ErrDuplicateName)
	assert.NoError(t, c.CreateTable(ctx, table, true))

	has, err := c.HasAnyDependents(id)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, c.AddColumn(ctx, "ks", "tbl", types.ColumnDef{Name: "m", Type: types.MapOf(types.Primitive(types.KindText), types.UDTRef(id))}))
	has, err = c.HasAnyDependents(id)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := c.Table("ks", "tbl")
	require.NoError(t, err)
	assert.Len(t, got.Columns, 2)

	assert.ErrorIs(t, c.AddColumn(ctx, "ks", "nope", types.ColumnDef{Name: "x", Type: types.Primitive(types.KindInt)}), errors.ErrUnknownTable)
	assert.ErrorIs(t, c.DropTable(ctx, "ks", "nope", false), errors.ErrUnknownTable)
	assert.NoError(t, c.DropTable(ctx, "ks", "nope", true))

	noPK := &types.TableDef{Keyspace: "ks", Name: "nopk", Columns: []types.ColumnDef{{Name: "x", Type: types.Primitive(types.KindInt)}}}
	assert.Equal(t, errors.CodeInvalidSchema, errors.GetCode(c.CreateTable(ctx, noPK, false)))
}

func TestCatalog_DropKeyspaceCascades(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id, err := c.Define(ctx, "ks", "t", []types.FieldDef{intField("a")})
	require.NoError(t, err)

	require.NoError(t, c.DropKeyspace(ctx, "ks", false))
	assert.False(t, c.HasKeyspace("ks"))

	_, err = c.Resolve(id)
	assert.ErrorIs(t, err, errors.ErrUnknownType)
	assert.ErrorIs(t, c.DropKeyspace(ctx, "ks", false), errors.ErrUnknownKeyspace)
	assert.NoError(t, c.DropKeyspace(ctx, "ks", true))

	// ids are never reused, even after the owning keyspace is gone
	require.NoError(t, c.CreateKeyspace(ctx, "ks", 1, false))
	next, err := c.Define(ctx, "ks", "t", []types.FieldDef{intField("a")})
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestCatalog_History(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id, err := c.Define(ctx, "ks", "t", []types.FieldDef{intField("a")})
	require.NoError(t, err)
	require.NoError(t, c.Rename(ctx, id, "u"))
	_ = c.Drop(ctx, 9999) // rejected mutations are not recorded

	history, err := c.History(ctx, "ks")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ChangeCreateKeyspace, history[0].Kind)
	assert.Equal(t, ChangeCreateType, history[1].Kind)
	assert.Equal(t, ChangeRenameType, history[2].Kind)
	assert.Equal(t, uint64(2), history[2].Version)
}

func TestCatalog_PersistAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	c := newPersistentCatalog(t, path)
	require.NoError(t, c.CreateKeyspace(ctx, "ks", 3, false))
	inner, err := c.Define(ctx, "ks", "inner", []types.FieldDef{intField("x")})
	require.NoError(t, err)
	outer, err := c.Define(ctx, "ks", "outer", []types.FieldDef{{Name: "ins", Type: types.ListOf(types.UDTRef(inner))}})
	require.NoError(t, err)
	require.NoError(t, c.Rename(ctx, inner, "inner2"))
	require.NoError(t, c.AddField(ctx, inner, intField("y")))
	require.NoError(t, c.CreateTable(ctx, &types.TableDef{Keyspace: "ks", Name: "t", Columns: []types.ColumnDef{
		{Name: "id", Type: types.Primitive(types.KindInt), PrimaryKey: true},
		{Name: "o", Type: types.UDTRef(outer)},
	}}, false))
	dropped, err := c.Define(ctx, "ks", "gone", []types.FieldDef{intField("x")})
	require.NoError(t, err)
	require.NoError(t, c.Drop(ctx, dropped))
	version, err := c.Version("ks")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c = newPersistentCatalog(t, path)
	defer c.Close()

	id, err := c.ResolveName("ks", "inner2")
	require.NoError(t, err)
	assert.Equal(t, inner, id)
	def, err := c.Resolve(inner)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, def.FieldNames())

	reloaded, err := c.Version("ks")
	require.NoError(t, err)
	assert.Equal(t, version, reloaded)

	// the graph is rebuilt from the stored definitions
	err = c.Drop(ctx, inner)
	assert.Equal(t, "Cannot drop user type inner2 as it is still used by user type outer", errors.Message(err))
	err = c.Drop(ctx, outer)
	assert.Equal(t, "Cannot drop user type outer as it is still used by table ks.t", errors.Message(err))

	// the allocator survives restarts
	next, err := c.Define(ctx, "ks", "fresh", []types.FieldDef{intField("x")})
	require.NoError(t, err)
	assert.Greater(t, next, dropped)

	history, err := c.History(ctx, "ks")
	require.NoError(t, err)
	assert.Len(t, history, 9)
}

func TestCatalog_ConcurrentDefineAndDrop(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	base, err := c.Define(ctx, "ks", "base", []types.FieldDef{intField("x")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	dropErrs := make(chan error, 1)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = c.Define(ctx, "ks", fmt.Sprintf("user_%d", i), []types.FieldDef{{Name: "b", Type: types.UDTRef(base)}})
		}
	}()
	go func() {
		defer wg.Done()
		dropErrs <- c.Drop(ctx, base)
	}()
	wg.Wait()

	// either the drop won and every define failed, or a define won and the
	// drop was rejected
	if err := <-dropErrs; err == nil {
		list, err := c.ListTypes("ks")
		require.NoError(t, err)
		for _, def := range list {
			for _, f := range def.Fields {
				assert.False(t, f.Type.References(base), "type %s references dropped type", def.Name)
			}
		}
	} else {
		assert.ErrorIs(t, err, errors.ErrInUse)
		has, err := c.HasAnyDependents(base)
		require.NoError(t, err)
		assert.True(t, has)
	}
}
