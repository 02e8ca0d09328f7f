package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zplace/internal/app"
	"github.com/zzenonn/zplace/internal/config"
	zhttp "github.com/zzenonn/zplace/internal/http"
	"github.com/zzenonn/zplace/internal/logging"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "zplace-server",
	Short: "HTTP server for object layouts",
	Long:  "Serves object layouts and rebuild plans and accepts new cluster map snapshots",
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	flags.String("log_level", "", "log level: trace, debug, info, warn, error")
	flags.String("listen_addr", "", "address to listen on")
	flags.String("topology", "", "topology YAML file, or ssm:<parameter-name>; empty starts without a map")
	flags.String("pool", "", "pool the topology is published to")
	flags.String("store", "", "version store backend: bolt, dynamodb or memory")
	flags.String("db", "", "bolt version store file")
}

func serve() error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(cfg, app.Options{Persist: true, Registerer: promReg})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Topology != "" {
		version, err := a.Bootstrap(ctx, cfg.Pool.Name)
		if err != nil {
			return fmt.Errorf("failed to load initial topology: %w", err)
		}
		log.WithFields(log.Fields{
			"pool":    cfg.Pool.Name,
			"version": version,
		}).Info("Initial cluster map published")
	}

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	srv := zhttp.NewServer(a.Registry, policy, promReg, cfg.ListenAddr)
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down")
	if err := srv.Stop(); err != nil {
		return err
	}

	for _, pool := range a.Registry.Pools() {
		if err := a.Registry.Retire(context.Background(), pool); err != nil {
			log.Warnf("Failed to retire pool %s: %v", pool, err)
		}
	}
	return nil
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(configPath, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
