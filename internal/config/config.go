package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	NotifierMemory = "memory"
	NotifierRedis  = "redis"
	NotifierKafka  = "kafka"
)

type Config struct {
	ServerPort   string `yaml:"server_port"`
	JWTSecret    string `yaml:"jwt_secret"`
	DemoPassword string `yaml:"demo_password"`
	Development  bool   `yaml:"development"`

	Store            string `yaml:"store"`
	DatabaseHost     string `yaml:"database_host"`
	DatabasePort     string `yaml:"database_port"`
	DatabaseUser     string `yaml:"database_user"`
	DatabasePassword string `yaml:"database_password"`
	DatabaseName     string `yaml:"database_name"`

	Notifier     string   `yaml:"notifier"`
	RedisAddr    string   `yaml:"redis_addr"`
	KafkaBrokers []string `yaml:"kafka_brokers"`

	MockLatency  time.Duration `yaml:"mock_latency"`
	ScanDelay    time.Duration `yaml:"scan_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func defaults() *Config {
	return &Config{
		ServerPort:       "8080",
		JWTSecret:        "secret",
		DemoPassword:     "green",
		Store:            StoreMemory,
		DatabaseHost:     "localhost",
		DatabasePort:     "5432",
		DatabaseUser:     "postgres",
		DatabasePassword: "password",
		DatabaseName:     "green_reward",
		Notifier:         NotifierMemory,
		RedisAddr:        "localhost:6379",
		MockLatency:      250 * time.Millisecond,
		ScanDelay:        600 * time.Millisecond,
		PollInterval:     time.Second,
	}
}

// LoadConfig layers defaults, the optional YAML file and the environment,
// in that order. An empty path falls back to GREEN_REWARD_CONFIG. A .env
// file in the working directory is loaded first if present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()

	if path == "" {
		path = os.Getenv("GREEN_REWARD_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.DemoPassword = getEnv("DEMO_PASSWORD", cfg.DemoPassword)
	cfg.Store = getEnv("LEDGER_STORE", cfg.Store)
	cfg.DatabaseHost = getEnv("DATABASE_HOST", cfg.DatabaseHost)
	cfg.DatabasePort = getEnv("DATABASE_PORT", cfg.DatabasePort)
	cfg.DatabaseUser = getEnv("DATABASE_USER", cfg.DatabaseUser)
	cfg.DatabasePassword = getEnv("DATABASE_PASSWORD", cfg.DatabasePassword)
	cfg.DatabaseName = getEnv("DATABASE_NAME", cfg.DatabaseName)
	cfg.Notifier = getEnv("NOTIFIER", cfg.Notifier)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}
	cfg.Development = getEnv("DEVELOPMENT", "") == "true" || cfg.Development

	var err error
	if cfg.MockLatency, err = getEnvDuration("MOCK_LATENCY", cfg.MockLatency); err != nil {
		return nil, err
	}
	if cfg.ScanDelay, err = getEnvDuration("SCAN_DELAY", cfg.ScanDelay); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getEnvDuration("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown ledger store %q", c.Store)
	}
	switch c.Notifier {
	case NotifierMemory, NotifierRedis:
	case NotifierKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("kafka notifier requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown notifier %q", c.Notifier)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
