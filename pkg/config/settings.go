package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Settings is the full service configuration, loaded from YAML with
// environment overrides.
type Settings struct {
	Database             DbSettings     `mapstructure:"database"`
	Broker               BrokerSettings `mapstructure:"broker"`
	PollInterval         time.Duration  `mapstructure:"poll_interval"`
	ConsumeRetryInterval time.Duration  `mapstructure:"consume_retry_interval"`
	Observability        Observability  `mapstructure:"observability"`
}

// DbSettings selects and configures the backing store.
type DbSettings struct {
	Type string `mapstructure:"type" validate:"required,oneof=postgres spanner"`
	// DSN is used by the postgres store.
	DSN string `mapstructure:"dsn"`
	// URI is the full database path used by the spanner store.
	URI string `mapstructure:"uri"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	viper.SetConfigType("yaml")
	viper.SetConfigName("cartservice")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	err := mergeConfig(filePath, "cartservice."+env)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error merging %s config: %s\n", env, err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load from env: %w", err)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ConsumeRetryInterval <= 0 {
		cfg.ConsumeRetryInterval = time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CARTSVC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like CARTSVC_DATABASE_TYPE

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("database.type")
	viper.BindEnv("database.dsn")
	viper.BindEnv("database.uri")
	viper.BindEnv("broker.type")
	viper.BindEnv("broker.url")
	viper.BindEnv("broker.queue")
	viper.BindEnv("broker.projectID")
	viper.BindEnv("broker.topic")
	viper.BindEnv("broker.subscription")
	viper.BindEnv("poll_interval")
	viper.BindEnv("consume_retry_interval")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")
	viper.BindEnv("observability.metrics_url")

	if err := viper.Unmarshal(&c); err != nil {
		return err
	}
	return nil
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
