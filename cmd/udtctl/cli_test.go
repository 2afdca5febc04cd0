package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	grpcapi "github.com/oldsharp/udtschema/internal/api/grpc"
	"github.com/oldsharp/udtschema/internal/catalog"
	"github.com/oldsharp/udtschema/internal/query/executor"
	"github.com/oldsharp/udtschema/internal/storage"
	"github.com/oldsharp/udtschema/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintReply(t *testing.T) {
	reply := &grpcapi.ExecuteReply{
		Results: []grpcapi.StatementResult{
			{Change: &executor.SchemaChange{Change: "CREATED", Target: "TYPE", Keyspace: "ks", Name: "point"}},
			{Change: &executor.SchemaChange{Change: "DROPPED", Target: "KEYSPACE", Keyspace: "old"}},
			{},
			{Columns: []string{"id", "origin"}, Rows: [][]string{{"1", "{x: 1, y: 2}"}}},
		},
	}
	var out bytes.Buffer
	require.NoError(t, printReply(&out, reply))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "CREATED TYPE ks.point", lines[0])
	assert.Equal(t, "DROPPED KEYSPACE old", lines[1])
	assert.Equal(t, "id  origin", lines[2])
	assert.Equal(t, "1   {x: 1, y: 2}", lines[3])
	assert.Equal(t, "(1 rows)", lines[4])
}

func TestReadScript(t *testing.T) {
	cql, err := readScript(strings.NewReader(""), []string{"USE ks"}, "")
	require.NoError(t, err)
	assert.Equal(t, "USE ks", cql)

	path := filepath.Join(t.TempDir(), "schema.cql")
	require.NoError(t, os.WriteFile(path, []byte("CREATE TYPE a (x int);"), 0644))
	cql, err = readScript(strings.NewReader(""), nil, path)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TYPE a (x int);", cql)

	cql, err = readScript(strings.NewReader("DROP TYPE a"), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "DROP TYPE a", cql)

	_, err = readScript(strings.NewReader(""), []string{"USE ks"}, path)
	assert.Error(t, err)
}

func TestSnapshotExportListRestore(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("UDT_SNAPSHOTS_TYPE", "local")

	// An empty catalog exports nothing.
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"snapshot", "export", "--data-dir", dataDir})
	require.NoError(t, rootCmd.Execute())
	assert.Empty(t, out.String())

	out.Reset()
	rootCmd.SetArgs([]string{"snapshot", "restore", "missing", "--data-dir", dataDir})
	assert.Error(t, rootCmd.Execute())
}

func TestNewestPerKeyspace(t *testing.T) {
	infos := []catalog.SnapshotInfo{
		{Keyspace: "a", Version: 1},
		{Keyspace: "a", Version: 3},
		{Keyspace: "b", Version: 2},
	}
	got := newestPerKeyspace(infos)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].Version)
	assert.Equal(t, "b", got[1].Keyspace)

	var out bytes.Buffer
	got[0].ModTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, printSnapshots(&out, got[:1]))
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "KEYSPACE"))
	assert.Contains(t, lines[1], "2026-01-02T03:04:05Z")
}

func TestSnapshotListAndPrune(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("UDT_SNAPSHOTS_TYPE", "local")
	ctx := context.Background()

	store, err := catalog.OpenStore(filepath.Join(dataDir, "catalog.db"))
	require.NoError(t, err)
	cat, err := catalog.Open(ctx, store)
	require.NoError(t, err)
	objects, err := storage.NewLocalStorage(filepath.Join(dataDir, "snapshots"))
	require.NoError(t, err)

	require.NoError(t, cat.CreateKeyspace(ctx, "ks", 1, false))
	var exported []string
	for _, name := range []string{"a", "b", "c"} {
		_, err := cat.Define(ctx, "ks", name, []types.FieldDef{{Name: "x", Type: types.Primitive(types.KindInt)}})
		require.NoError(t, err)
		p, err := cat.ExportSnapshot(ctx, objects, "ks")
		require.NoError(t, err)
		exported = append(exported, p)
	}
	require.NoError(t, cat.Close())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"snapshot", "list", "--all", "--data-dir", dataDir})
	require.NoError(t, rootCmd.Execute())
	assert.Len(t, strings.Split(strings.TrimRight(out.String(), "\n"), "\n"), 4)

	out.Reset()
	rootCmd.SetArgs([]string{"snapshot", "prune", "--keep", "1", "--data-dir", dataDir})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "deleted "+exported[0]+"\ndeleted "+exported[1]+"\n", out.String())

	latest, err := catalog.LatestSnapshotPaths(ctx, objects)
	require.NoError(t, err)
	assert.Equal(t, exported[2], latest["ks"])
}
