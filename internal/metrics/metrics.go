package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "zplace"

	registrySubsystem = "registry"
	objectSubsystem   = "object"

	poolLabelKey   = "pool"
	resultLabelKey = "result"
	opLabelKey     = "op"
	targetLabelKey = "target"
)

// PlacementMetrics collects registry and object service metrics.
type PlacementMetrics struct {
	registryMetrics
	objectMetrics
}

type registryMetrics struct {
	version        *prometheus.GaugeVec
	publishes      *prometheus.CounterVec
	liveMaps       *prometheus.GaugeVec
	layoutDuration *prometheus.HistogramVec
}

type objectMetrics struct {
	shardOps *prometheus.CounterVec
}

// NewPlacementMetrics creates the collectors and registers them with reg,
// or with the default registry when reg is nil.
func NewPlacementMetrics(reg prometheus.Registerer) *PlacementMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PlacementMetrics{
		registryMetrics: newRegistryMetrics(),
		objectMetrics:   newObjectMetrics(),
	}
	m.registryMetrics.register(reg)
	m.objectMetrics.register(reg)
	return m
}

func newRegistryMetrics() registryMetrics {
	return registryMetrics{
		version: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: registrySubsystem,
			Name:      "map_version",
			Help:      "Version of the current placement map of the pool",
		}, []string{poolLabelKey}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: registrySubsystem,
			Name:      "publish_total",
			Help:      "Cluster map publish attempts by result",
		}, []string{poolLabelKey, resultLabelKey}),
		liveMaps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: registrySubsystem,
			Name:      "live_maps",
			Help:      "Placement maps not yet released, including pinned old versions",
		}, []string{poolLabelKey}),
		layoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: registrySubsystem,
			Name:      "layout_duration_seconds",
			Help:      "Object layout computation time",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{poolLabelKey, resultLabelKey}),
	}
}

func (m registryMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.version)
	reg.MustRegister(m.publishes)
	reg.MustRegister(m.liveMaps)
	reg.MustRegister(m.layoutDuration)
}

func (m registryMetrics) SetVersion(pool string, version uint64) {
	m.version.With(prometheus.Labels{poolLabelKey: pool}).Set(float64(version))
}

func (m registryMetrics) IncPublish(pool, result string) {
	m.publishes.With(prometheus.Labels{poolLabelKey: pool, resultLabelKey: result}).Inc()
}

func (m registryMetrics) AddLiveMaps(pool string, delta int) {
	m.liveMaps.With(prometheus.Labels{poolLabelKey: pool}).Add(float64(delta))
}

func (m registryMetrics) ObserveLayout(pool, result string, d time.Duration) {
	m.layoutDuration.With(prometheus.Labels{poolLabelKey: pool, resultLabelKey: result}).Observe(d.Seconds())
}

func newObjectMetrics() objectMetrics {
	return objectMetrics{
		shardOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: objectSubsystem,
			Name:      "shard_ops_total",
			Help:      "Shard reads, writes and deletes against targets by result",
		}, []string{opLabelKey, targetLabelKey, resultLabelKey}),
	}
}

func (m objectMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.shardOps)
}

func (m objectMetrics) IncShardOp(op string, target uint32, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.shardOps.With(prometheus.Labels{
		opLabelKey:     op,
		targetLabelKey: strconv.FormatUint(uint64(target), 10),
		resultLabelKey: result,
	}).Inc()
}
