// Package config loads the indexer's settings from environment
// variables, with an optional YAML file overlay for operators who
// prefer a file. Env vars always take precedence so a container
// deployment can override a baked-in config file without a rebuild.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds everything the indexer process needs to run.
type Config struct {
	RPCURL         string `yaml:"rpc_url"`
	TokenAddress   string `yaml:"token_address"`
	StartBlock     uint64 `yaml:"start_block"`
	BatchSize      uint64 `yaml:"batch_size"`
	Confirmations  uint64 `yaml:"confirmations"`
	ChainID        int    `yaml:"chain_id"`
	DBPath         string `yaml:"db_path"`
	ExplorerAPIKey string `yaml:"explorer_api_key"`
	ExplorerURL    string `yaml:"explorer_url"`
	ListenAddr     string `yaml:"listen_addr"`
}

const (
	defaultBatchSize     = 2000
	defaultConfirmations = 20
	defaultChainID       = 137 // Polygon mainnet
	defaultDBPath        = "indexer.db"
	defaultExplorerURL   = "https://api.etherscan.io/v2/api"
	defaultListenAddr    = ":8080"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)(:-([^}]*))?\}`)

// Load builds a Config from environment variables, optionally overlaid
// by a YAML file at path (pass "" to skip the file). Env vars win over
// the file so a deployment can override one setting at a time.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		substituted := substituteEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(c *Config) {
	if v, ok := os.LookupEnv("RPC_URL"); ok {
		c.RPCURL = v
	}
	if v, ok := os.LookupEnv("TOKEN_ADDRESS"); ok {
		c.TokenAddress = v
	}
	if v, ok := os.LookupEnv("START_BLOCK"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.StartBlock = n
		}
	}
	if v, ok := os.LookupEnv("BATCH_SIZE"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.BatchSize = n
		}
	}
	if v, ok := os.LookupEnv("CONFIRMATIONS"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Confirmations = n
		}
	}
	if v, ok := os.LookupEnv("CHAIN_ID"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChainID = n
		}
	}
	if v, ok := os.LookupEnv("DB_PATH"); ok {
		c.DBPath = v
	}
	if v, ok := os.LookupEnv("EXPLORER_API_KEY"); ok {
		c.ExplorerAPIKey = v
	}
	if v, ok := os.LookupEnv("EXPLORER_URL"); ok {
		c.ExplorerURL = v
	}
	if v, ok := os.LookupEnv("LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
}

func applyDefaults(c *Config) {
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Confirmations == 0 {
		c.Confirmations = defaultConfirmations
	}
	if c.ChainID == 0 {
		c.ChainID = defaultChainID
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.ExplorerURL == "" {
		c.ExplorerURL = defaultExplorerURL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
}

// Validate rejects a Config that would fail obviously and confusingly
// once the indexer tried to use it.
func (c *Config) Validate() error {
	var problems []string

	if c.RPCURL == "" {
		problems = append(problems, "rpc_url (RPC_URL) is required")
	}
	if c.TokenAddress == "" {
		problems = append(problems, "token_address (TOKEN_ADDRESS) is required")
	} else if !common.IsHexAddress(c.TokenAddress) {
		problems = append(problems, fmt.Sprintf("token_address %q is not a valid address", c.TokenAddress))
	}
	if c.BatchSize == 0 {
		problems = append(problems, "batch_size must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} with the
// environment, leaving unmatched patterns untouched.
func substituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], ""
		if len(groups) > 3 {
			def = groups[3]
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		if def != "" {
			return def
		}
		return match
	})
}
