package catalog

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
)

// Catalog is the process-wide owner of user type definitions. Schema
// mutations are linearized per keyspace: each one validates against the
// in-memory state, commits to the store, then applies in memory, all under the
// keyspace's exclusive lock. Reads take the shared lock.
//
// Lock order: c.mu, then keyspace.mu, then c.idxMu.
type Catalog struct {
	mu        sync.RWMutex
	keyspaces map[string]*keyspace

	// idxMu guards the global id index and allocator
	idxMu  sync.RWMutex
	byID   map[types.TypeID]string
	nextID types.TypeID

	store *Store

	// in-memory change log, used only without a store
	logMu   sync.Mutex
	changes []SchemaChange
}

type keyspace struct {
	mu          sync.RWMutex
	name        string
	replication int
	version     uint64
	createdAt   time.Time
	types       map[types.TypeID]*types.TypeDefinition
	names       map[string]types.TypeID
	tables      map[string]*types.TableDef
	graph       *DependencyGraph
	dropped     bool
}

func newKeyspace(name string, replication int, createdAt time.Time) *keyspace {
	return &keyspace{
		name:        name,
		replication: replication,
		createdAt:   createdAt,
		types:       make(map[types.TypeID]*types.TypeDefinition),
		names:       make(map[string]types.TypeID),
		tables:      make(map[string]*types.TableDef),
		graph:       NewDependencyGraph(),
	}
}

// New creates an empty in-memory catalog.
func New() *Catalog {
	return &Catalog{
		keyspaces: make(map[string]*keyspace),
		byID:      make(map[types.TypeID]string),
		nextID:    1,
	}
}

// Open loads a catalog from the store and rebuilds every dependency graph.
func Open(ctx context.Context, store *Store) (*Catalog, error) {
	st, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	c := New()
	c.store = store

	for _, rec := range st.Keyspaces {
		ks := newKeyspace(rec.Name, rec.ReplicationFactor, rec.CreatedAt)
		ks.version = rec.Version
		c.keyspaces[rec.Name] = ks
	}

	for _, def := range st.Types {
		ks, ok := c.keyspaces[def.Keyspace]
		if !ok {
			log.Printf("catalog: skipping type %s (id %s) in missing keyspace %s", def.Name, def.ID, def.Keyspace)
			continue
		}
		ks.types[def.ID] = def
		ks.names[def.Name] = def.ID
		c.byID[def.ID] = def.Keyspace
		if def.ID >= c.nextID {
			c.nextID = def.ID + 1
		}
	}
	if st.NextTypeID > c.nextID {
		c.nextID = st.NextTypeID
	}

	for _, t := range st.Tables {
		ks, ok := c.keyspaces[t.Keyspace]
		if !ok {
			log.Printf("catalog: skipping table %s in missing keyspace", t.QualifiedName())
			continue
		}
		ks.tables[t.Name] = t
	}

	for _, ks := range c.keyspaces {
		ks.graph.Rebuild(ks.typeList(), ks.tableList())
	}

	log.Printf("catalog: loaded %d keyspaces, %d types, %d tables from %s",
		len(st.Keyspaces), len(st.Types), len(st.Tables), store.Path())
	return c, nil
}

// Close releases the store, if any.
func (c *Catalog) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func (ks *keyspace) typeList() []*types.TypeDefinition {
	out := make([]*types.TypeDefinition, 0, len(ks.types))
	for _, d := range ks.types {
		out = append(out, d)
	}
	return out
}

func (ks *keyspace) tableList() []*types.TableDef {
	out := make([]*types.TableDef, 0, len(ks.tables))
	for _, t := range ks.tables {
		out = append(out, t)
	}
	return out
}

// lookupKeyspace returns the keyspace without locking it.
func (c *Catalog) lookupKeyspace(name string) (*keyspace, error) {
	c.mu.RLock()
	ks, ok := c.keyspaces[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.NewUnknownKeyspaceError(name)
	}
	return ks, nil
}

// lockKeyspace returns the keyspace with its exclusive lock held.
func (c *Catalog) lockKeyspace(name string) (*keyspace, error) {
	ks, err := c.lookupKeyspace(name)
	if err != nil {
		return nil, err
	}
	ks.mu.Lock()
	if ks.dropped {
		ks.mu.Unlock()
		return nil, errors.NewUnknownKeyspaceError(name)
	}
	return ks, nil
}

// rlockKeyspace returns the keyspace with its shared lock held.
func (c *Catalog) rlockKeyspace(name string) (*keyspace, error) {
	ks, err := c.lookupKeyspace(name)
	if err != nil {
		return nil, err
	}
	ks.mu.RLock()
	if ks.dropped {
		ks.mu.RUnlock()
		return nil, errors.NewUnknownKeyspaceError(name)
	}
	return ks, nil
}

func unknownTypeID(id types.TypeID) error {
	return errors.NewUnknownTypeError("<id " + id.String() + ">")
}

// keyspaceOf finds the keyspace owning id. The returned keyspace is not
// locked; callers lock it and recheck that the type still exists.
func (c *Catalog) keyspaceOf(id types.TypeID) (*keyspace, error) {
	c.idxMu.RLock()
	name, ok := c.byID[id]
	c.idxMu.RUnlock()
	if !ok {
		return nil, unknownTypeID(id)
	}
	return c.lookupKeyspace(name)
}

// lockType locks the keyspace owning id exclusively and returns the current
// definition.
func (c *Catalog) lockType(id types.TypeID) (*keyspace, *types.TypeDefinition, error) {
	ks, err := c.keyspaceOf(id)
	if err != nil {
		return nil, nil, err
	}
	ks.mu.Lock()
	def, ok := ks.types[id]
	if ks.dropped || !ok {
		ks.mu.Unlock()
		return nil, nil, unknownTypeID(id)
	}
	return ks, def, nil
}

// rlockType is lockType with the shared lock.
func (c *Catalog) rlockType(id types.TypeID) (*keyspace, *types.TypeDefinition, error) {
	ks, err := c.keyspaceOf(id)
	if err != nil {
		return nil, nil, err
	}
	ks.mu.RLock()
	def, ok := ks.types[id]
	if ks.dropped || !ok {
		ks.mu.RUnlock()
		return nil, nil, unknownTypeID(id)
	}
	return ks, def, nil
}

func (c *Catalog) allocID() types.TypeID {
	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

func (c *Catalog) indexType(id types.TypeID, keyspace string) {
	c.idxMu.Lock()
	c.byID[id] = keyspace
	c.idxMu.Unlock()
}

func (c *Catalog) unindexType(id types.TypeID) {
	c.idxMu.Lock()
	delete(c.byID, id)
	c.idxMu.Unlock()
}

// commit persists a mutation. It must be called with the keyspace lock held
// and before any in-memory change is applied.
func (c *Catalog) commit(ctx context.Context, m *Mutation) error {
	m.Change.Version = m.Version
	m.Change.CreatedAt = time.Now()

	if c.store != nil {
		if err := c.store.Commit(ctx, m); err != nil {
			return err
		}
	} else {
		c.logMu.Lock()
		c.changes = append(c.changes, m.Change)
		c.logMu.Unlock()
	}

	log.Printf("catalog: committed %s %s in keyspace %s (version %d)",
		m.Change.Kind, m.Change.Target, m.Change.Keyspace, m.Version)
	return nil
}

// CreateKeyspace registers a keyspace. With ifNotExists an existing keyspace
// is not an error.
func (c *Catalog) CreateKeyspace(ctx context.Context, name string, replicationFactor int, ifNotExists bool) error {
	if name == "" {
		return errors.NewInvalidSchemaError("keyspace name must not be empty")
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.keyspaces[name]; ok {
		if ifNotExists {
			return nil
		}
		return errors.NewDuplicateNameError("keyspace", name)
	}

	now := time.Now()
	m := &Mutation{
		Change:      SchemaChange{Keyspace: name, Kind: ChangeCreateKeyspace, Target: name},
		PutKeyspace: &KeyspaceRecord{Name: name, ReplicationFactor: replicationFactor, CreatedAt: now},
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	c.keyspaces[name] = newKeyspace(name, replicationFactor, now)
	return nil
}

// DropKeyspace removes a keyspace together with every type and table in it.
func (c *Catalog) DropKeyspace(ctx context.Context, name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks, ok := c.keyspaces[name]
	if !ok {
		if ifExists {
			return nil
		}
		return errors.NewUnknownKeyspaceError(name)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	m := &Mutation{
		Change: SchemaChange{
			Keyspace: name,
			Kind:     ChangeDropKeyspace,
			Target:   name,
			Detail:   map[string]interface{}{"types": len(ks.types), "tables": len(ks.tables)},
		},
		DeleteKeyspace: name,
		Version:        ks.version + 1,
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	ks.dropped = true
	delete(c.keyspaces, name)
	c.idxMu.Lock()
	for id := range ks.types {
		delete(c.byID, id)
	}
	c.idxMu.Unlock()
	return nil
}

// Keyspaces returns the keyspace names in sorted order.
func (c *Catalog) Keyspaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.keyspaces))
	for name := range c.keyspaces {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasKeyspace reports whether the keyspace exists.
func (c *Catalog) HasKeyspace(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keyspaces[name]
	return ok
}

// Define creates a new user type and returns its id.
func (c *Catalog) Define(ctx context.Context, keyspace, name string, fields []types.FieldDef) (types.TypeID, error) {
	if name == "" {
		return 0, errors.NewInvalidSchemaError("type name must not be empty")
	}
	if len(fields) == 0 {
		return 0, errors.NewInvalidSchemaError(fmt.Sprintf("user type %s must have at least one field", name))
	}

	ks, err := c.lockKeyspace(keyspace)
	if err != nil {
		return 0, err
	}
	defer ks.mu.Unlock()

	if _, exists := ks.names[name]; exists {
		return 0, errors.NewDuplicateNameError("type", name)
	}

	id := c.allocID()
	if err := ks.validateFields(id, fields); err != nil {
		return 0, err
	}

	now := time.Now()
	def := &types.TypeDefinition{
		ID:        id,
		Keyspace:  keyspace,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, f := range fields {
		def.Fields = append(def.Fields, types.FieldDef{Name: f.Name, Type: f.Type.Clone()})
	}

	m := &Mutation{
		Change: SchemaChange{
			Keyspace: keyspace,
			Kind:     ChangeCreateType,
			Target:   name,
			Detail:   map[string]interface{}{"type_id": uint64(id), "fields": len(fields)},
		},
		Version:    ks.version + 1,
		PutTypes:   []*types.TypeDefinition{def},
		NextTypeID: id + 1,
	}
	if err := c.commit(ctx, m); err != nil {
		return 0, err
	}

	ks.types[id] = def
	ks.names[name] = id
	dep := types.TypeDependent(id)
	for _, f := range def.Fields {
		ks.graph.AddReference(dep, f.Type)
	}
	ks.version++
	c.indexType(id, keyspace)
	return id, nil
}

// AddField appends a field to a type. Fields are never inserted, reordered or
// removed, so values encoded before the change still decode.
func (c *Catalog) AddField(ctx context.Context, id types.TypeID, field types.FieldDef) error {
	ks, def, err := c.lockType(id)
	if err != nil {
		return err
	}
	defer ks.mu.Unlock()

	if field.Name == "" {
		return errors.NewInvalidSchemaError("field name must not be empty")
	}
	if def.FieldIndex(field.Name) >= 0 {
		return errors.NewDuplicateNameError("field", field.Name)
	}
	if err := ks.validateFieldType(id, field.Type); err != nil {
		return err
	}

	updated := def.Clone()
	updated.Fields = append(updated.Fields, types.FieldDef{Name: field.Name, Type: field.Type.Clone()})
	updated.UpdatedAt = time.Now()

	m := &Mutation{
		Change: SchemaChange{
			Keyspace: ks.name,
			Kind:     ChangeAddField,
			Target:   def.Name,
			Detail:   map[string]interface{}{"type_id": uint64(id), "field": field.Name},
		},
		Version:  ks.version + 1,
		PutTypes: []*types.TypeDefinition{updated},
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	ks.types[id] = updated
	ks.graph.AddReference(types.TypeDependent(id), field.Type)
	ks.version++
	return nil
}

// RenameField changes a field's name. Its position and type are unchanged, so
// encoded values are unaffected.
func (c *Catalog) RenameField(ctx context.Context, id types.TypeID, oldName, newName string) error {
	ks, def, err := c.lockType(id)
	if err != nil {
		return err
	}
	defer ks.mu.Unlock()

	idx := def.FieldIndex(oldName)
	if idx < 0 {
		return errors.NewUnknownFieldError(oldName, def.Name)
	}
	if newName == "" {
		return errors.NewInvalidSchemaError("field name must not be empty")
	}
	if def.FieldIndex(newName) >= 0 {
		return errors.NewDuplicateNameError("field", newName)
	}

	updated := def.Clone()
	updated.Fields[idx].Name = newName
	updated.UpdatedAt = time.Now()

	m := &Mutation{
		Change: SchemaChange{
			Keyspace: ks.name,
			Kind:     ChangeRenameField,
			Target:   def.Name,
			Detail:   map[string]interface{}{"type_id": uint64(id), "from": oldName, "to": newName},
		},
		Version:  ks.version + 1,
		PutTypes: []*types.TypeDefinition{updated},
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	ks.types[id] = updated
	ks.version++
	return nil
}

// Drop removes a type after validating that nothing references it directly.
// Validation and removal happen under one exclusive section, so no dependent
// can appear in between.
func (c *Catalog) Drop(ctx context.Context, id types.TypeID) error {
	ks, def, err := c.lockType(id)
	if err != nil {
		return err
	}
	defer ks.mu.Unlock()

	if err := ks.validateDrop(id).Err(def.Name); err != nil {
		return err
	}

	m := &Mutation{
		Change: SchemaChange{
			Keyspace: ks.name,
			Kind:     ChangeDropType,
			Target:   def.Name,
			Detail:   map[string]interface{}{"type_id": uint64(id)},
		},
		Version:     ks.version + 1,
		DeleteTypes: []types.TypeID{id},
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	delete(ks.types, id)
	delete(ks.names, def.Name)
	ks.graph.RemoveAllFrom(types.TypeDependent(id))
	ks.version++
	c.unindexType(id)
	return nil
}

// Resolve returns a copy of the current definition of id.
func (c *Catalog) Resolve(id types.TypeID) (*types.TypeDefinition, error) {
	ks, def, err := c.rlockType(id)
	if err != nil {
		return nil, err
	}
	defer ks.mu.RUnlock()
	return def.Clone(), nil
}

// ResolveName looks up a type id by its current name.
func (c *Catalog) ResolveName(keyspace, name string) (types.TypeID, error) {
	ks, err := c.rlockKeyspace(keyspace)
	if err != nil {
		return 0, err
	}
	defer ks.mu.RUnlock()

	id, ok := ks.names[name]
	if !ok {
		return 0, errors.NewUnknownTypeError(keyspace + "." + name)
	}
	return id, nil
}

// TypeName returns the current name of id.
func (c *Catalog) TypeName(id types.TypeID) (string, error) {
	ks, def, err := c.rlockType(id)
	if err != nil {
		return "", err
	}
	defer ks.mu.RUnlock()
	return def.Name, nil
}

// ListTypes returns copies of every type in the keyspace sorted by name.
func (c *Catalog) ListTypes(keyspace string) ([]*types.TypeDefinition, error) {
	ks, err := c.rlockKeyspace(keyspace)
	if err != nil {
		return nil, err
	}
	defer ks.mu.RUnlock()

	out := make([]*types.TypeDefinition, 0, len(ks.types))
	for _, def := range ks.types {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DirectDependents returns what references id directly, types first.
func (c *Catalog) DirectDependents(id types.TypeID) ([]DependentInfo, error) {
	ks, _, err := c.rlockType(id)
	if err != nil {
		return nil, err
	}
	defer ks.mu.RUnlock()
	return ks.dependents(id), nil
}

// TransitiveDependents returns everything that reaches id through any chain
// of references.
func (c *Catalog) TransitiveDependents(id types.TypeID) ([]DependentInfo, error) {
	ks, _, err := c.rlockType(id)
	if err != nil {
		return nil, err
	}
	defer ks.mu.RUnlock()

	deps := ks.graph.TransitiveDependents(id)
	out := make([]DependentInfo, len(deps))
	for i, d := range deps {
		out[i] = DependentInfo{Dependent: d, Name: ks.dependentName(d)}
	}
	return out, nil
}

// HasAnyDependents reports whether anything references id directly.
func (c *Catalog) HasAnyDependents(id types.TypeID) (bool, error) {
	ks, _, err := c.rlockType(id)
	if err != nil {
		return false, err
	}
	defer ks.mu.RUnlock()
	return ks.graph.HasAnyDependents(id), nil
}

// ValidateDrop reports whether id could be dropped right now. Drop performs
// the same check atomically with the removal.
func (c *Catalog) ValidateDrop(id types.TypeID) (DropResult, error) {
	ks, _, err := c.rlockType(id)
	if err != nil {
		return DropResult{}, err
	}
	defer ks.mu.RUnlock()
	return ks.validateDrop(id), nil
}

// ValidateFieldType checks whether ref could be added as a field of owner, or
// as a column when owner is zero.
func (c *Catalog) ValidateFieldType(keyspace string, owner types.TypeID, ref types.TypeRef) error {
	ks, err := c.rlockKeyspace(keyspace)
	if err != nil {
		return err
	}
	defer ks.mu.RUnlock()
	return ks.validateFieldType(owner, ref)
}

// Version returns the schema version of a keyspace. It increases by one for
// every committed mutation.
func (c *Catalog) Version(keyspace string) (uint64, error) {
	ks, err := c.rlockKeyspace(keyspace)
	if err != nil {
		return 0, err
	}
	defer ks.mu.RUnlock()
	return ks.version, nil
}
