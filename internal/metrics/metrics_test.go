package metrics_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/metrics"
)

func TestPlacementMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := metrics.NewPlacementMetrics(reg)

	m.SetVersion("tank", 7)
	m.IncPublish("tank", "ok")
	m.IncPublish("tank", "stale")
	m.IncPublish("tank", "stale")
	m.AddLiveMaps("tank", 2)
	m.AddLiveMaps("tank", -1)
	m.ObserveLayout("tank", "ok", 3*time.Microsecond)
	m.IncShardOp("put", 4, nil)
	m.IncShardOp("get", 4, errors.New("boom"))

	expected := `
# HELP zplace_registry_map_version Version of the current placement map of the pool
# TYPE zplace_registry_map_version gauge
zplace_registry_map_version{pool="tank"} 7
# HELP zplace_registry_publish_total Cluster map publish attempts by result
# TYPE zplace_registry_publish_total counter
zplace_registry_publish_total{pool="tank",result="ok"} 1
zplace_registry_publish_total{pool="tank",result="stale"} 2
# HELP zplace_registry_live_maps Placement maps not yet released, including pinned old versions
# TYPE zplace_registry_live_maps gauge
zplace_registry_live_maps{pool="tank"} 1
# HELP zplace_object_shard_ops_total Shard reads, writes and deletes against targets by result
# TYPE zplace_object_shard_ops_total counter
zplace_object_shard_ops_total{op="get",result="error",target="4"} 1
zplace_object_shard_ops_total{op="put",result="ok",target="4"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"zplace_registry_map_version",
		"zplace_registry_publish_total",
		"zplace_registry_live_maps",
		"zplace_object_shard_ops_total",
	))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "zplace_registry_layout_duration_seconds"))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { metrics.NewPlacementMetrics(reg) })
	require.Panics(t, func() { metrics.NewPlacementMetrics(reg) })
}
