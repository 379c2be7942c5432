package redispoco

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Default connection parameters
const (
	DefaultRedisHost = "localhost"
	DefaultRedisPort = 6379
)

// RedisOptions returns redis.Options populated from standard environment variables.
//
// Environment variables read (with defaults):
//   - REDIS_ADDR (default: "localhost:6379")
//   - REDIS_PASSWORD (default: "")
//   - REDIS_DB (default: 0)
//
// Example usage:
//
//	client := redis.NewClient(redispoco.RedisOptions())
//	store, err := redispoco.New(redispoco.NewRedisStorageWithOwnedClient(client), opts)
func RedisOptions() *redis.Options {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = net.JoinHostPort(DefaultRedisHost, strconv.Itoa(DefaultRedisPort))
	}

	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// ConnectionConfig describes how to reach Redis.
//
// Endpoint, when set, is a redis:// or rediss:// URL and wins over every
// other field. Otherwise Host and Port are used, falling back to the
// REDIS_* environment variables and finally localhost:6379.
type ConnectionConfig struct {
	Endpoint string `yaml:"endpoint"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Options converts the connection parameters into redis.Options.
func (c ConnectionConfig) Options() (*redis.Options, error) {
	if c.Endpoint != "" {
		opts, err := redis.ParseURL(c.Endpoint)
		if err != nil {
			return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Endpoint",
				"value":  c.Endpoint,
				"reason": err.Error(),
			})
		}
		if c.PoolSize > 0 {
			opts.PoolSize = c.PoolSize
		}
		return opts, nil
	}

	if c.Port < 0 || c.Port > 65535 {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Port",
			"value":  c.Port,
			"reason": "must be between 0 and 65535",
		})
	}

	addr := ""
	if c.Host != "" || c.Port != 0 {
		host, port := c.Host, c.Port
		if host == "" {
			host = DefaultRedisHost
		}
		if port == 0 {
			port = DefaultRedisPort
		}
		addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	opts := RedisOptionsWithOverrides(addr, c.Password, c.PoolSize, 0)
	if c.DB > 0 {
		opts.DB = c.DB
	}
	return opts, nil
}

// String renders the target without credentials, for logs.
func (c ConnectionConfig) String() string {
	opts, err := c.Options()
	if err != nil {
		return fmt.Sprintf("invalid(%v)", err)
	}
	return fmt.Sprintf("%s/%d", opts.Addr, opts.DB)
}

// RedisOptionsWithOverrides returns redis.Options with explicit overrides for common parameters.
//
// Parameters:
//   - addr: Redis server address (empty = use REDIS_ADDR env var or "localhost:6379")
//   - password: Redis password (empty = use REDIS_PASSWORD env var)
//   - poolSize: Connection pool size (0 = use Redis default of 10)
//   - minIdleConns: Minimum idle connections (0 = use Redis default of 0)
func RedisOptionsWithOverrides(addr, password string, poolSize, minIdleConns int) *redis.Options {
	opts := RedisOptions()

	if addr != "" {
		opts.Addr = addr
	}
	if password != "" {
		opts.Password = password
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	if minIdleConns > 0 {
		opts.MinIdleConns = minIdleConns
	}

	return opts
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}
