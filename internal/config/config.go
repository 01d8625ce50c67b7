// Package config loads the YAML configuration recognized by §6.5, with
// ${VAR:default} environment-variable expansion applied before parsing.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainConfig binds one EVM chain (§6.5 "per-chain rpcUrl, bridgeAddress,
// chainId, name, startBlock").
type ChainConfig struct {
	Name          string   `yaml:"name"`
	ChainID       int64    `yaml:"chainId"`
	RPCURL        string   `yaml:"rpcUrl"`
	BackupRPCURLs []string `yaml:"backupRpcUrls"`
	BridgeAddress string   `yaml:"bridgeAddress"`
	StartBlock    int64    `yaml:"startBlock"`
}

// PostgresConfig is the Store's connection configuration.
type PostgresConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	MaxConnections  int    `yaml:"maxConnections"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime int    `yaml:"connMaxLifetimeSeconds"`
}

// RedisConfig backs the nonce manager's distributed lock.
type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"poolSize"`
}

// LogConfig is the ambient logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus HTTP listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Common holds the options every binary needs (§6.5, minus the
// Relayer-only validatorPrivateKey / signature mode switch).
type Common struct {
	Chains             []ChainConfig `yaml:"chains"`
	Postgres           PostgresConfig `yaml:"postgres"`
	Redis              RedisConfig    `yaml:"redis"`
	Log                LogConfig      `yaml:"log"`
	Metrics            MetricsConfig  `yaml:"metrics"`
	PollIntervalMs     int            `yaml:"pollInterval"`
	MinConfirmations   int            `yaml:"minConfirmations"`
	BatchSize          int            `yaml:"batchSize"`
	GRPCPort           int            `yaml:"grpcPort"`
}

// SignatureMode is the §9 configuration switch between the two supported
// relaying modes: submitting withdraw directly, or only storing a
// validator signature for out-of-band pickup.
type SignatureMode string

const (
	SignatureModeSubmit SignatureMode = "submit"
	SignatureModeStore  SignatureMode = "store"
)

// RelayerConfig is the Relayer binary's configuration.
type RelayerConfig struct {
	Common              `yaml:",inline"`
	ValidatorPrivateKey string        `yaml:"validatorPrivateKey"`
	MaxGasPriceGwei     int64         `yaml:"maxGasPriceGwei"`
	GasLimitMultiplier  float64       `yaml:"gasLimitMultiplier"`
	SignatureMode       SignatureMode `yaml:"signatureMode"`
}

// IndexerConfig is the Indexer binary's configuration.
type IndexerConfig struct {
	Common `yaml:",inline"`
}

// LoadRelayerConfig reads and validates a Relayer configuration file.
func LoadRelayerConfig(path string) (*RelayerConfig, error) {
	var cfg RelayerConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	setCommonDefaults(&cfg.Common)
	if cfg.MaxGasPriceGwei == 0 {
		cfg.MaxGasPriceGwei = 100
	}
	if cfg.GasLimitMultiplier == 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.SignatureMode == "" {
		cfg.SignatureMode = SignatureModeSubmit
	}
	if len(cfg.Chains) < 2 {
		return nil, errors.New("relayer requires at least two configured chains")
	}
	if !hasDistinctPairing(cfg.Chains) {
		return nil, errors.New("relayer requires at least two chains with distinct (sourceChainId, targetChainId) pairings")
	}
	if cfg.ValidatorPrivateKey == "" {
		return nil, errors.New("validatorPrivateKey is required")
	}
	return &cfg, nil
}

// LoadIndexerConfig reads and validates an Indexer configuration file.
func LoadIndexerConfig(path string) (*IndexerConfig, error) {
	var cfg IndexerConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	setCommonDefaults(&cfg.Common)
	if len(cfg.Chains) < 1 {
		return nil, errors.New("indexer requires at least one configured chain")
	}
	return &cfg, nil
}

func hasDistinctPairing(chains []ChainConfig) bool {
	seen := map[int64]bool{}
	for _, c := range chains {
		seen[c.ChainID] = true
	}
	return len(seen) >= 2
}

func load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := expandEnvVars(string(data))
	return yaml.Unmarshal([]byte(content), out)
}

// expandEnvVars replaces ${VAR:default} occurrences with the environment
// value, falling back to the given default when the variable is unset or
// empty.
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

func setCommonDefaults(c *Common) {
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = 12000
	}
	if c.MinConfirmations == 0 {
		c.MinConfirmations = 12
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 10
	}
	if c.Postgres.ConnMaxLifetime == 0 {
		c.Postgres.ConnMaxLifetime = 3600
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.GRPCPort == 0 {
		c.GRPCPort = 50060
	}
}

// GetEnvInt reads an integer environment variable, falling back to
// defaultVal when unset or unparsable.
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString reads a string environment variable, falling back to
// defaultVal when unset.
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
