// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"custody-service/internal/domain"

	"go.uber.org/zap"
)

type Config struct {
	Server          ServerConfig
	Storage         StorageConfig
	Monitor         MonitorConfig
	Kafka           KafkaConfig
	Security        SecurityConfig
	Chains          ChainsConfig
	BalanceCacheTTL time.Duration
	PingTimeout     time.Duration
}

type ServerConfig struct {
	Port            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	Backend string // memory or remote
	DB      DBConfig
	Redis   RedisConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

type RedisConfig struct {
	Addrs      []string
	Password   string
	UseCluster bool
}

type MonitorConfig struct {
	Enabled       bool
	Interval      time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	IncomingLimit int
}

type KafkaConfig struct {
	Brokers       []string
	IncomingTopic string
}

type SecurityConfig struct {
	MasterKey     string
	VaultProvider string // "env", "file"
	FileVaultDir  string
	FileVaultKey  string
}

const (
	BackendMemory = "memory"
	BackendRemote = "remote"
)

func Load(logger *zap.Logger) (*Config, error) {
	network := getEnv("CHAIN_NETWORK", "mainnet")

	chains := defaultChains(network)
	applyChainEnv(&chains)
	if path := os.Getenv("CHAIN_CONFIG_FILE"); path != "" {
		if err := applyChainFile(&chains, path); err != nil {
			return nil, err
		}
		logger.Info("chain overrides loaded", zap.String("file", path))
	}
	chains.Enabled = parseChains(getEnv("ENABLED_CHAINS", ""))

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"*"}),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
			DB: DBConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnv("DB_PORT", "5432"),
				User:     getEnv("DB_USER", "postgres"),
				Password: os.Getenv("DB_PASSWORD"),
				Name:     getEnv("DB_NAME", "custody"),
				SSLMode:  getEnv("DB_SSLMODE", "disable"),
				MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 20)),
				MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 2)),
			},
			Redis: RedisConfig{
				Addrs:      getEnvAsList("REDIS_ADDR", []string{"localhost:6379"}),
				Password:   os.Getenv("REDIS_PASS"),
				UseCluster: getEnvAsBool("REDIS_CLUSTER", false),
			},
		},
		Monitor: MonitorConfig{
			Enabled:       getEnvAsBool("MONITOR_ENABLED", true),
			Interval:      getEnvAsDuration("MONITOR_INTERVAL", 30*time.Second),
			BackoffBase:   getEnvAsDuration("MONITOR_BACKOFF_BASE", time.Minute),
			BackoffCap:    getEnvAsDuration("MONITOR_BACKOFF_CAP", 15*time.Minute),
			IncomingLimit: getEnvAsInt("MONITOR_INCOMING_LIMIT", 25),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsList("KAFKA_BROKERS", nil),
			IncomingTopic: getEnv("KAFKA_INCOMING_TOPIC", "custody.incoming"),
		},
		Security: SecurityConfig{
			MasterKey:     os.Getenv("CRYPTO_MASTER_KEY"),
			VaultProvider: getEnv("VAULT_PROVIDER", "env"),
			FileVaultDir:  getEnv("FILE_VAULT_DIR", "./vault"),
			FileVaultKey:  os.Getenv("FILE_VAULT_KEY"),
		},
		Chains:          chains,
		BalanceCacheTTL: getEnvAsDuration("BALANCE_CACHE_TTL", time.Minute),
		PingTimeout:     getEnvAsDuration("PING_TIMEOUT", 5*time.Second),
	}

	logger.Info("configuration loaded",
		zap.String("network", network),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("monitor", cfg.Monitor.Enabled),
		zap.Bool("kafka", len(cfg.Kafka.Brokers) > 0))
	return cfg, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseChains(list string) []domain.ChainID {
	var out []domain.ChainID
	for _, v := range strings.Split(list, ",") {
		if id := domain.ParseChain(v); id.Known() {
			out = append(out, id)
		}
	}
	return out
}
