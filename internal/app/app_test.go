package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/config"
	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

const topology = `
version: 3
ranks:
  - id: 0
    fault_domain: /rack0/node0
    target_count: 2
  - id: 1
    fault_domain: /rack1/node1
    target_count: 2
  - id: 2
    fault_domain: /rack2/node2
    target_count: 2
  - id: 3
    fault_domain: /rack3/node3
    target_count: 2
    status: draining
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(topology), 0o600))

	return &config.Config{
		FaultDomain:  config.FaultDomainConfig{Policy: "path"},
		Pool:         config.PoolConfig{Name: "tank", Class: "RP_3"},
		VersionStore: config.VersionStoreConfig{Backend: "bolt", Path: filepath.Join(dir, "zplace.db")},
		Topology:     path,
		Targets:      "mem://",
		Workers:      2,
	}
}

func TestBootstrapAndObjectService(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(cfg, Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer a.Close()

	v, err := a.Bootstrap(ctx, "tank")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	svc, err := a.NewObjectService()
	require.NoError(t, err)
	defer svc.Close()

	oid := domain.ObjectID{Hi: 1, Lo: 42}
	res, err := svc.Put(ctx, "tank", oid, domain.Redundancy{}, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	assert.Len(t, res.Layout.Shards, 3)

	rc, err := svc.Get(ctx, "tank", oid, domain.Redundancy{})
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestRestartWithPersistedVersion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := New(cfg, Options{Persist: true})
	require.NoError(t, err)
	_, err = first.Bootstrap(ctx, "tank")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(cfg, Options{Persist: true})
	require.NoError(t, err)
	defer second.Close()

	versions, err := second.Versions.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"tank": 3}, versions)

	v, err := second.Bootstrap(ctx, "tank")
	require.NoError(t, err, "the persisted version is re-adopted")
	assert.Equal(t, uint64(3), v)

	older := []byte("version: 2\nranks:\n  - id: 0\n    fault_domain: /rack0/node0\n    target_count: 1\n")
	require.NoError(t, os.WriteFile(cfg.Topology, older, 0o600))
	third, err := New(cfg, Options{Persist: false})
	require.NoError(t, err)
	_, err = third.Bootstrap(ctx, "tank")
	require.NoError(t, err, "memory store has no history")

	_, err = second.Bootstrap(ctx, "tank")
	assert.ErrorIs(t, err, zerrors.ErrStaleVersion)
}

func TestConfigErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool.Class = "nope"
	_, err := New(cfg, Options{})
	assert.ErrorIs(t, err, zerrors.ErrInvalidObjectClass)

	cfg = testConfig(t)
	cfg.VersionStore.Backend = "etcd"
	_, err = New(cfg, Options{Persist: true})
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Targets = "ftp://x"
	a, err := New(cfg, Options{})
	require.NoError(t, err)
	_, err = a.NewObjectService()
	assert.Error(t, err)
}
