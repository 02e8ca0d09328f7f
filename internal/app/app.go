// Package app wires configuration into a running registry: the version
// store, the topology source, metrics and the object service.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/clustermap"
	"github.com/zzenonn/zplace/internal/config"
	"github.com/zzenonn/zplace/internal/metrics"
	"github.com/zzenonn/zplace/internal/registry"
	"github.com/zzenonn/zplace/internal/repository/db"
	"github.com/zzenonn/zplace/internal/repository/objectstore"
	"github.com/zzenonn/zplace/internal/repository/paramstore"
	"github.com/zzenonn/zplace/internal/service"
)

// ssmPrefix marks a topology setting that names an SSM parameter.
const ssmPrefix = "ssm:"

// VersionStore is a registry version store that can also list every pool.
type VersionStore interface {
	registry.VersionStore
	ListVersions(ctx context.Context) (map[string]uint64, error)
}

// Options controls what New sets up.
type Options struct {
	// Persist uses the configured version store instead of process memory.
	Persist bool
	// Registerer receives the metrics; nil disables them.
	Registerer prometheus.Registerer
}

type App struct {
	Config   *config.Config
	Registry *registry.Registry
	Metrics  *metrics.PlacementMetrics
	Versions VersionStore

	closeStore func() error
}

// New builds the registry described by cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	params, err := cfg.PlacementParams()
	if err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}

	a := &App{Config: cfg}

	if opts.Persist {
		a.Versions, a.closeStore, err = OpenVersionStore(cfg)
		if err != nil {
			return nil, err
		}
	} else {
		a.Versions = db.NewMemoryVersionRepository()
	}

	regOpts := []registry.Option{
		registry.WithVersionStore(a.Versions),
		registry.WithDefaultParams(params),
	}
	if opts.Registerer != nil {
		a.Metrics = metrics.NewPlacementMetrics(opts.Registerer)
		regOpts = append(regOpts, registry.WithMetrics(a.Metrics))
	}
	a.Registry = registry.New(regOpts...)

	return a, nil
}

// OpenVersionStore opens the configured version store. The returned function
// closes it and may be nil.
func OpenVersionStore(cfg *config.Config) (VersionStore, func() error, error) {
	switch strings.ToLower(cfg.VersionStore.Backend) {
	case "bolt":
		repo, err := db.NewBoltVersionRepository(cfg.VersionStore.Path)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "dynamodb":
		dynamoDb, err := db.NewDatabase(cfg.AwsConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to the database: %w", err)
		}
		repo := db.NewVersionRepository(dynamoDb.Client, cfg.DynamoDBTable)
		return &repo, nil, nil
	case "memory", "":
		return db.NewMemoryVersionRepository(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown version store backend %q", cfg.VersionStore.Backend)
}

// LoadTopology reads the configured topology document from a file or from
// SSM Parameter Store.
func (a *App) LoadTopology(ctx context.Context) (*clustermap.Topology, error) {
	if name, ok := strings.CutPrefix(a.Config.Topology, ssmPrefix); ok {
		return paramstore.NewTopologySourceFromConfig(a.Config.AwsConfig, name).Load(ctx)
	}
	return clustermap.LoadTopologyFile(a.Config.Topology)
}

// Bootstrap publishes the configured topology to pool. A version equal to
// the persisted one is re-adopted, so restarting with an unchanged topology
// works.
func (a *App) Bootstrap(ctx context.Context, pool string) (uint64, error) {
	topo, err := a.LoadTopology(ctx)
	if err != nil {
		return 0, err
	}
	if err := a.PublishTopology(ctx, pool, topo); err != nil {
		return 0, err
	}
	return topo.Version, nil
}

// PublishTopology builds the fault-domain tree of topo and publishes it.
func (a *App) PublishTopology(ctx context.Context, pool string, topo *clustermap.Topology) error {
	policy, err := a.Config.Policy()
	if err != nil {
		return err
	}
	tree, statuses, err := topo.Build(policy)
	if err != nil {
		return err
	}

	if err := a.Registry.Restore(ctx, pool, topo.Version, statuses, tree); err != nil {
		return fmt.Errorf("failed to publish topology version %d: %w", topo.Version, err)
	}
	log.WithFields(log.Fields{
		"pool":    pool,
		"version": topo.Version,
		"targets": tree.TargetCount(),
	}).Debug("Topology published")
	return nil
}

// NewObjectService connects the registry to the configured target store.
func (a *App) NewObjectService() (*service.ObjectService, error) {
	bucket, err := objectstore.ParseBucketConfig(a.Config.Targets)
	if err != nil {
		return nil, err
	}
	store, err := objectstore.NewTargetStoreFactory(a.Config.AwsConfig, a.Config.GcsClient).CreateStore(bucket)
	if err != nil {
		return nil, err
	}

	var opts []service.Option
	if a.Metrics != nil {
		opts = append(opts, service.WithMetrics(a.Metrics))
	}
	return service.NewObjectService(a.Registry, store, a.Config.Workers, opts...)
}

// Close releases the version store.
func (a *App) Close() error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}
