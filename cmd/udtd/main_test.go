package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udtd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from/file\nhttp:\n  addr: \":1000\"\ngrpc:\n  addr: \":2000\"\n"), 0644))
	t.Setenv("UDT_HTTP_ADDR", ":3000")

	cfg, err := loadConfig(path, flagOverrides{grpcAddr: ":4000", defaultKeyspace: "app"})
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.DataDir)
	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, ":4000", cfg.GRPC.Addr)
	assert.Equal(t, "app", cfg.Executor.DefaultKeyspace)
}

func TestLoadConfigBadEnv(t *testing.T) {
	t.Setenv("UDT_GRPC_ENABLED", "sometimes")
	_, err := loadConfig("", flagOverrides{})
	assert.Error(t, err)
}
