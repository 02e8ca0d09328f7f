package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/domain"
	"github.com/zzenonn/zplace/internal/faultdomain"
	"github.com/zzenonn/zplace/internal/placement"
)

func newCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "zplace"}
	cmd.PersistentFlags().String("class", "", "object class")
	cmd.PersistentFlags().String("log_level", "", "log level")
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("AWS_REGION", "us-east-1")
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "bolt", cfg.VersionStore.Backend)
	assert.Equal(t, "mem://", cfg.Targets)
	assert.Equal(t, 16, cfg.Workers)
	assert.Nil(t, cfg.GcsClient)

	params, err := cfg.PlacementParams()
	require.NoError(t, err)
	assert.Equal(t, placement.DefaultParams(), params)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, faultdomain.PathPolicy{}, policy)
}

func TestLoadConfigPriority(t *testing.T) {
	viper.Reset()
	t.Setenv("AWS_REGION", "us-east-1")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
fault_domain:
  policy: prefix
  prefix_separator: "_"
pool:
  algorithm: ring
  class: RP_2
  virtual_nodes: 8
version_store:
  backend: memory
workers: 4
`), 0o600))

	t.Setenv("WORKERS", "8")
	t.Setenv("POOL_VIRTUAL_NODES", "64")

	cmd := newCommand()
	require.NoError(t, cmd.PersistentFlags().Set("class", "EC_4P2"))

	cfg, err := LoadConfig(path, cmd)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.VersionStore.Backend)
	assert.Equal(t, 8, cfg.Workers, "environment overrides file")
	assert.Equal(t, "EC_4P2", cfg.Pool.Class, "flag overrides file")

	params, err := cfg.PlacementParams()
	require.NoError(t, err)
	assert.Equal(t, placement.Ring, params.Algorithm)
	assert.Equal(t, domain.ErasureCoded(4, 2), params.Redundancy)
	assert.Equal(t, 64, params.VirtualNodes)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, faultdomain.PrefixPolicy{Separator: "_"}, policy)
}

func TestPlacementParamsInvalid(t *testing.T) {
	cfg := &Config{Pool: PoolConfig{Algorithm: "maglev", Class: "RP_3"}}
	_, err := cfg.PlacementParams()
	assert.Error(t, err)

	cfg.Pool = PoolConfig{Class: "RP_0"}
	_, err = cfg.PlacementParams()
	assert.Error(t, err)

	cfg.FaultDomain.Policy = "hexagonal"
	_, err = cfg.Policy()
	assert.Error(t, err)
}
