package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/domain/model"
)

const (
	StorageBackendMemory = "memory"
	StorageBackendRedis  = "redis"

	defaultMainnetConfigURL = "https://ton.org/global.config.json"
)

type Config struct {
	Network  NetworkConfig
	Accounts []string
	Polling  PollingConfig
	RPC      RPCConfig
	UI       UIConfig
	Storage  StorageConfig
	Server   ServerConfig
	Log      LogConfig
	Tracing  TracingConfig
}

type NetworkConfig struct {
	Name      string
	Group     string
	ConfigURL string
}

// Params returns the network parameters used when nothing is persisted.
func (n NetworkConfig) Params() model.NetworkParams {
	return model.NetworkParams{Name: n.Name, Group: n.Group, ConfigURL: n.ConfigURL}
}

type PollingConfig struct {
	Interval          time.Duration
	IntensiveInterval time.Duration
	NextBlockTimeout  time.Duration
	LatestBlockRetry  time.Duration
}

type RPCConfig struct {
	RPS                     int
	Burst                   int
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
}

type UIConfig struct {
	BroadcastDebounce time.Duration
}

type StorageConfig struct {
	Backend   string
	RedisURL  string
	Namespace string
}

type ServerConfig struct {
	HealthPort int
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Network: NetworkConfig{
			Name:      getEnv("NETWORK_NAME", "mainnet"),
			Group:     getEnv("NETWORK_GROUP", "ton"),
			ConfigURL: getEnv("NETWORK_CONFIG_URL", defaultMainnetConfigURL),
		},
		Polling: PollingConfig{
			Interval:          time.Duration(getEnvInt("POLLING_INTERVAL_MS", 10000)) * time.Millisecond,
			IntensiveInterval: time.Duration(getEnvInt("INTENSIVE_POLLING_INTERVAL_MS", 2000)) * time.Millisecond,
			NextBlockTimeout:  time.Duration(getEnvInt("NEXT_BLOCK_TIMEOUT_SEC", 60)) * time.Second,
			LatestBlockRetry:  time.Duration(getEnvInt("LATEST_BLOCK_RETRY_MS", 1000)) * time.Millisecond,
		},
		RPC: RPCConfig{
			RPS:                     getEnvInt("RPC_RPS", 10),
			Burst:                   getEnvInt("RPC_BURST", 20),
			BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerOpenTimeout:      time.Duration(getEnvInt("BREAKER_OPEN_TIMEOUT_SEC", 30)) * time.Second,
		},
		UI: UIConfig{
			BroadcastDebounce: time.Duration(getEnvInt("BROADCAST_DEBOUNCE_MS", 200)) * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend:   strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendMemory)),
			RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379"),
			Namespace: getEnv("STORAGE_NAMESPACE", "wallet"),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("TRACING_INSECURE", true),
			SampleRatio: getEnvFloat("TRACING_SAMPLE_RATIO", 1.0),
		},
	}

	if accounts := getEnv("ACCOUNTS", ""); accounts != "" {
		for _, addr := range strings.Split(accounts, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				cfg.Accounts = append(cfg.Accounts, addr)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Network.ConfigURL == "" {
		return fmt.Errorf("NETWORK_CONFIG_URL is required")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("POLLING_INTERVAL_MS must be positive")
	}
	if c.Polling.IntensiveInterval <= 0 {
		return fmt.Errorf("INTENSIVE_POLLING_INTERVAL_MS must be positive")
	}
	if c.Polling.NextBlockTimeout <= 0 {
		return fmt.Errorf("NEXT_BLOCK_TIMEOUT_SEC must be positive")
	}
	switch c.Storage.Backend {
	case StorageBackendMemory:
	case StorageBackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for redis storage")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageBackendMemory, StorageBackendRedis, c.Storage.Backend)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within [0, 1]")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
