package config

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zzenonn/zplace/internal/domain"
	"github.com/zzenonn/zplace/internal/faultdomain"
	"github.com/zzenonn/zplace/internal/placement"
)

// FaultDomainConfig selects how ranks are grouped into fault domains.
type FaultDomainConfig struct {
	Policy          string `yaml:"policy"`
	MaxDepth        int    `yaml:"max_depth"`
	PrefixSeparator string `yaml:"prefix_separator"`
}

// PoolConfig holds the placement parameters of newly created pools.
type PoolConfig struct {
	// Name is the pool the configured topology is published to.
	Name         string `yaml:"name"`
	Algorithm    string `yaml:"algorithm"`
	Class        string `yaml:"class"`
	VirtualNodes int    `yaml:"virtual_nodes"`
}

// VersionStoreConfig selects where published versions are persisted.
type VersionStoreConfig struct {
	// Backend is one of bolt, dynamodb or memory.
	Backend string `yaml:"backend"`
	// Path is the bolt database file.
	Path string `yaml:"path"`
}

// Config holds the application configuration
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// AwsConfig: AWS SDK uses a shared configuration object that contains
	// credentials, region, retry policies, etc. Multiple AWS services
	// (S3, DynamoDB, SSM) are created from this single config.
	AwsConfig aws.Config
	// GcsClient is only created when a gs:// target backend is configured;
	// the client needs credentials that S3 users do not have.
	GcsClient     *storage.Client
	DynamoDBTable string             `yaml:"dynamodb_table"`
	FaultDomain   FaultDomainConfig  `yaml:"fault_domain"`
	Pool          PoolConfig         `yaml:"pool"`
	VersionStore  VersionStoreConfig `yaml:"version_store"`
	// Topology is a YAML file path, or ssm:<parameter-name>.
	Topology   string `yaml:"topology"`
	Targets    string `yaml:"targets"`
	Workers    int    `yaml:"workers"`
	ListenAddr string `yaml:"listen_addr"`
}

// flagKeys maps CLI flag names to the nested keys they override.
var flagKeys = map[string]string{
	"pool":      "pool.name",
	"class":     "pool.class",
	"algorithm": "pool.algorithm",
	"policy":    "fault_domain.policy",
	"store":     "version_store.backend",
	"db":        "version_store.path",
}

// LoadConfig loads configuration from config.yaml, environment variables, or CLI flags
// Priority: CLI flags > Environment variables > config.yaml > defaults
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	if err := setupViper(configPath, rootCmd); err != nil {
		return nil, err
	}

	awsConfig, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:      viper.GetString("log_level"),
		LogFormat:     viper.GetString("log_format"),
		AwsConfig:     awsConfig,
		DynamoDBTable: viper.GetString("dynamodb_table"),
		FaultDomain: FaultDomainConfig{
			Policy:          viper.GetString("fault_domain.policy"),
			MaxDepth:        viper.GetInt("fault_domain.max_depth"),
			PrefixSeparator: viper.GetString("fault_domain.prefix_separator"),
		},
		Pool: PoolConfig{
			Name:         viper.GetString("pool.name"),
			Algorithm:    viper.GetString("pool.algorithm"),
			Class:        viper.GetString("pool.class"),
			VirtualNodes: viper.GetInt("pool.virtual_nodes"),
		},
		VersionStore: VersionStoreConfig{
			Backend: viper.GetString("version_store.backend"),
			Path:    viper.GetString("version_store.path"),
		},
		Topology:   viper.GetString("topology"),
		Targets:    viper.GetString("targets"),
		Workers:    viper.GetInt("workers"),
		ListenAddr: viper.GetString("listen_addr"),
	}

	if strings.HasPrefix(strings.ToLower(cfg.Targets), "gs://") {
		cfg.GcsClient, err = loadGCSClient()
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// setupViper configures Viper with defaults, paths, and bindings
func setupViper(configPath string, rootCmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	setDefaults()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if rootCmd != nil {
		flags := rootCmd.PersistentFlags()
		if err := viper.BindPFlags(flags); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := viper.BindPFlag(key, f); err != nil {
					return fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("dynamodb_table", "pool_versions")
	viper.SetDefault("fault_domain.policy", "path")
	viper.SetDefault("fault_domain.max_depth", 0)
	viper.SetDefault("fault_domain.prefix_separator", "-")
	viper.SetDefault("pool.name", "default")
	viper.SetDefault("pool.algorithm", placement.PseudoRandom.String())
	viper.SetDefault("pool.class", "RP_3")
	viper.SetDefault("pool.virtual_nodes", placement.DefaultVirtualNodes)
	viper.SetDefault("version_store.backend", "bolt")
	viper.SetDefault("version_store.path", "zplace.db")
	viper.SetDefault("topology", "")
	viper.SetDefault("targets", "mem://")
	viper.SetDefault("workers", 16)
	viper.SetDefault("listen_addr", ":8080")
}

// PlacementParams converts the pool section into placement parameters.
func (c *Config) PlacementParams() (placement.Params, error) {
	algo, err := placement.ParseAlgorithm(c.Pool.Algorithm)
	if err != nil {
		return placement.Params{}, err
	}
	red, err := domain.ParseObjectClass(c.Pool.Class)
	if err != nil {
		return placement.Params{}, err
	}
	return placement.Params{
		Algorithm:    algo,
		Redundancy:   red,
		VirtualNodes: c.Pool.VirtualNodes,
	}, nil
}

// Policy returns the configured fault-domain policy.
func (c *Config) Policy() (faultdomain.Policy, error) {
	return faultdomain.PolicyByName(c.FaultDomain.Policy, c.FaultDomain.MaxDepth, c.FaultDomain.PrefixSeparator)
}

// loadAWSConfig loads AWS SDK configuration
func loadAWSConfig() (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %v", err)
	}
	return cfg, nil
}

// loadGCSClient loads Google Cloud Storage client
func loadGCSClient() (*storage.Client, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("unable to create GCS client: %v", err)
	}
	return client, nil
}

// SetConfigValue sets a configuration value (used for CLI flags)
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}
