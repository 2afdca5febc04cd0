// Package catalog owns user-defined type definitions, the dependency graph
// between types and table columns, and the validation that guards every
// schema mutation.
package catalog

// Schema contains the SQL schema definitions for the catalog store
// (catalog.db). The store is the durable source of truth; the in-memory
// catalog and dependency graph are rebuilt from it at startup.

// CreateKeyspacesTableSQL creates the keyspaces table.
const CreateKeyspacesTableSQL = `
CREATE TABLE IF NOT EXISTS keyspaces (
    name TEXT PRIMARY KEY,
    replication_factor INTEGER NOT NULL DEFAULT 1,
    version INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
)`

// CreateUserTypesTableSQL creates the user types table. Field lists are
// stored as JSON with type references by id, so renames only touch the name
// column of the renamed row.
const CreateUserTypesTableSQL = `
CREATE TABLE IF NOT EXISTS user_types (
    type_id INTEGER PRIMARY KEY,
    keyspace TEXT NOT NULL,
    name TEXT NOT NULL,
    fields_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (keyspace, name)
)`

// CreateTablesTableSQL creates the table definitions table.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    keyspace TEXT NOT NULL,
    name TEXT NOT NULL,
    columns_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (keyspace, name)
)`

// CreateSchemaChangesTableSQL creates the schema change log. Every committed
// mutation appends one row in the same transaction as the change itself.
const CreateSchemaChangesTableSQL = `
CREATE TABLE IF NOT EXISTS schema_changes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    keyspace TEXT NOT NULL,
    version INTEGER NOT NULL,
    kind TEXT NOT NULL,
    target TEXT NOT NULL,
    detail_json TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
)`

// CreateCatalogMetaTableSQL creates the key/value table holding the type id
// allocator.
const CreateCatalogMetaTableSQL = `
CREATE TABLE IF NOT EXISTS catalog_meta (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL
)`

// CreateCatalogIndexesSQL creates secondary indexes.
var CreateCatalogIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_user_types_keyspace ON user_types(keyspace)`,
	`CREATE INDEX IF NOT EXISTS idx_schema_changes_keyspace ON schema_changes(keyspace, version)`,
}

// SeedCatalogMetaSQL initializes the type id allocator.
const SeedCatalogMetaSQL = `INSERT OR IGNORE INTO catalog_meta (key, value) VALUES ('next_type_id', 1)`

// AllSchemaSQL returns all SQL statements needed to initialize the store.
func AllSchemaSQL() []string {
	statements := []string{
		CreateKeyspacesTableSQL,
		CreateUserTypesTableSQL,
		CreateTablesTableSQL,
		CreateSchemaChangesTableSQL,
		CreateCatalogMetaTableSQL,
		SeedCatalogMetaSQL,
	}
	statements = append(statements, CreateCatalogIndexesSQL...)
	return statements
}
