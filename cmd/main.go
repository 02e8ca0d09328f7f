package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zplace/internal/app"
	"github.com/zzenonn/zplace/internal/config"
	"github.com/zzenonn/zplace/internal/domain"
	"github.com/zzenonn/zplace/internal/logging"
	"github.com/zzenonn/zplace/internal/repository/db"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "zplace",
	Short: "Object placement engine",
	Long:  "Computes deterministic object layouts over a versioned cluster map and stores objects on the chosen targets",
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	flags.String("log_level", "", "log level: trace, debug, info, warn, error")
	flags.String("topology", "", "topology YAML file, or ssm:<parameter-name>")
	flags.String("targets", "", "target store: mem://, s3://bucket or gs://bucket")
	flags.String("class", "", "default object class, e.g. RP_3 or EC_4P2")
	flags.String("algorithm", "", "placement algorithm: pseudo_random or ring")
	flags.String("policy", "", "fault domain policy: path, prefix or flat")
	flags.String("store", "", "version store backend: bolt, dynamodb or memory")
	flags.String("db", "", "bolt version store file")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the DynamoDB pool version table",
	Run: func(cmd *cobra.Command, args []string) {
		dynamoDb, err := db.NewDatabase(cfg.AwsConfig)
		if err != nil {
			fmt.Printf("Failed to connect to the database: %v\n", err)
			return
		}

		if err := dynamoDb.MigrateDb(context.Background(), cfg.DynamoDBTable); err != nil {
			fmt.Printf("Failed to migrate the database: %v\n", err)
			return
		}

		fmt.Println("Database initialized and migrated successfully")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		dynamoDb, err := db.NewDatabase(cfg.AwsConfig)
		if err != nil {
			fmt.Printf("Failed to connect to the database: %v\n", err)
			return
		}

		if err := dynamoDb.MigrateDown(context.Background(), cfg.DynamoDBTable); err != nil {
			fmt.Printf("Failed to roll back migrations: %v\n", err)
			return
		}

		fmt.Println("Database migrations rolled back successfully")
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish [pool]",
	Short: "Publish the configured topology and persist its version",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := app.New(cfg, app.Options{Persist: true})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer a.Close()

		pool := poolArg(args)
		version, err := a.Bootstrap(context.Background(), pool)
		if err != nil {
			fmt.Printf("Error publishing topology: %v\n", err)
			return
		}
		fmt.Printf("Pool %s is at version %d\n", pool, version)
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List the persisted map version of every pool",
	Run: func(cmd *cobra.Command, args []string) {
		store, closeStore, err := app.OpenVersionStore(cfg)
		if err != nil {
			fmt.Printf("Error opening version store: %v\n", err)
			return
		}
		if closeStore != nil {
			defer closeStore()
		}

		versions, err := store.ListVersions(context.Background())
		if err != nil {
			fmt.Printf("Error listing versions: %v\n", err)
			return
		}
		pools := make([]string, 0, len(versions))
		for p := range versions {
			pools = append(pools, p)
		}
		slices.Sort(pools)
		for _, p := range pools {
			fmt.Printf("%s\t%d\n", p, versions[p])
		}
	},
}

var layoutCmd = &cobra.Command{
	Use:   "layout [pool] [oid...]",
	Short: "Print the layout of objects on the configured topology",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		pool := args[0]
		a, err := openPool(context.Background(), pool)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer a.Close()

		red, err := classFlag(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		for _, arg := range args[1:] {
			oid, err := domain.ParseObjectID(arg)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}

			layout, err := a.Registry.ComputeLayout(pool, oid, red)
			if err != nil && layout == nil {
				fmt.Printf("Error computing layout of %s: %v\n", oid, err)
				continue
			}
			if err != nil {
				log.Warnf("Layout of %s is degraded: %v", oid, err)
			}

			if asJSON {
				out, _ := json.Marshal(layout)
				fmt.Println(string(out))
				continue
			}
			fmt.Println(layout)
		}
	},
}

// openPool loads the configured topology into an in-memory registry.
func openPool(ctx context.Context, pool string) (*app.App, error) {
	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return nil, err
	}
	if _, err := a.Bootstrap(ctx, pool); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func poolArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Pool.Name
}

// classFlag returns the --class override, or the zero class for the pool
// default.
func classFlag(cmd *cobra.Command) (domain.Redundancy, error) {
	class, _ := cmd.Flags().GetString("class")
	if strings.TrimSpace(class) == "" {
		return domain.Redundancy{}, nil
	}
	return domain.ParseObjectClass(class)
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(configPath, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)
}

func init() {
	layoutCmd.Flags().Bool("json", false, "print layouts as JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(layoutCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
