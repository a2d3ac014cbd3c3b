package node

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/utils"
	"gopkg.in/yaml.v3"
)

type NodeConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Chain       ChainConfig       `yaml:"chain"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Genesis     GenesisConfig     `yaml:"genesis"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Auth        AuthConfig        `yaml:"auth"`
	CORS        CORSConfig        `yaml:"cors"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
	Owner       OwnerConfig       `yaml:"-"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ChainConfig struct {
	Network string `yaml:"network"`
}

type MarketplaceConfig struct {
	FeeCollector     string `yaml:"fee_collector"`
	FeeRecipient     string `yaml:"fee_recipient"`
	DisableDelegated bool   `yaml:"disable_delegated_transfers"`
}

type GenesisConfig struct {
	Balances    []GenesisBalance  `yaml:"balances"`
	Collections CollectionsConfig `yaml:"collections"`
}

// GenesisBalance mints Amount USDC, a decimal string such as "1000.50", to
// Address at startup.
type GenesisBalance struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

type CollectionsConfig struct {
	ERC721Name   string `yaml:"erc721_name"`
	ERC721Symbol string `yaml:"erc721_symbol"`
	ERC1155URI   string `yaml:"erc1155_uri"`
}

type IndexerConfig struct {
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OwnerConfig is the account that deploys and administers every contract.
// It is only ever loaded from the environment. Admin calls are authorized by
// API key, so the node never holds the owner's private key.
type OwnerConfig struct {
	Address common.Address
}

// envSecrets are read from the process environment after .env is loaded.
type envSecrets struct {
	OwnerAddress string   `env:"USDCMARKET_OWNER_ADDRESS,required"`
	IndexerDSN   string   `env:"USDCMARKET_INDEXER_DSN"`
	AdminAPIKeys []string `env:"USDCMARKET_ADMIN_API_KEYS" envSeparator:","`
}

func LoadConfig(configPath string) (*NodeConfig, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var nodeConfig NodeConfig
	if err := yaml.Unmarshal(data, &nodeConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	nodeConfig.applyDefaults()

	// Load secrets from environment variables
	if err := loadEnvVars(&nodeConfig); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Validate config
	if err := nodeConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &nodeConfig, nil
}

func (config *NodeConfig) applyDefaults() {
	if config.Chain.Network == "" {
		config.Chain.Network = "eip155:31337"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "json"
	}
	if config.Genesis.Collections.ERC721Name == "" {
		config.Genesis.Collections.ERC721Name = "Market Collectibles"
	}
	if config.Genesis.Collections.ERC721Symbol == "" {
		config.Genesis.Collections.ERC721Symbol = "MKT"
	}
}

// FeeCollectorAddress falls back to the owner when no collector is set.
func (config *NodeConfig) FeeCollectorAddress() common.Address {
	if config.Marketplace.FeeCollector == "" {
		return config.Owner.Address
	}
	return common.HexToAddress(config.Marketplace.FeeCollector)
}

// FeeRecipientAddress falls back to the owner when no recipient is set.
func (config *NodeConfig) FeeRecipientAddress() common.Address {
	if config.Marketplace.FeeRecipient == "" {
		return config.Owner.Address
	}
	return common.HexToAddress(config.Marketplace.FeeRecipient)
}

func (config *NodeConfig) Validate() error {
	// Validate server config
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", config.Server.Port)
	}

	// Validate chain config
	if _, err := utils.GetChainID(config.Chain.Network); err != nil {
		return fmt.Errorf("invalid chain network: %w", err)
	}

	// Validate fee accounts
	for name, addr := range map[string]string{
		"fee_collector": config.Marketplace.FeeCollector,
		"fee_recipient": config.Marketplace.FeeRecipient,
	} {
		if addr == "" {
			continue
		}
		if !common.IsHexAddress(addr) || common.HexToAddress(addr) == (common.Address{}) {
			return fmt.Errorf("invalid marketplace %s: %s", name, addr)
		}
	}

	// Validate genesis balances
	for i, balance := range config.Genesis.Balances {
		if !common.IsHexAddress(balance.Address) {
			return fmt.Errorf("genesis balance %d has invalid address: %s", i, balance.Address)
		}
		if _, err := fees.ParseUSDC(balance.Amount); err != nil {
			return fmt.Errorf("genesis balance %d has invalid amount: %w", i, err)
		}
	}

	// Validate auth config
	for i, key := range config.Auth.APIKeys {
		if key == "" {
			return fmt.Errorf("api key %d cannot be empty", i)
		}
	}

	// Validate log config
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Log.Level)
	}
	if config.Log.Format != "json" && config.Log.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Log.Format)
	}

	// Validate owner is set
	if config.Owner.Address == (common.Address{}) {
		return fmt.Errorf("owner address must be set")
	}

	return nil
}

func loadEnvVars(config *NodeConfig) error {
	// A missing .env file is fine; the variables may come from the shell
	_ = godotenv.Load()

	// ex: export USDCMARKET_OWNER_ADDRESS=0xf39F...
	var secrets envSecrets
	if err := env.Parse(&secrets); err != nil {
		return err
	}

	if !common.IsHexAddress(secrets.OwnerAddress) {
		return fmt.Errorf("invalid USDCMARKET_OWNER_ADDRESS: %q", secrets.OwnerAddress)
	}
	config.Owner = OwnerConfig{Address: common.HexToAddress(secrets.OwnerAddress)}

	if secrets.IndexerDSN != "" {
		config.Indexer.DSN = secrets.IndexerDSN
	}
	config.Auth.APIKeys = append(config.Auth.APIKeys, secrets.AdminAPIKeys...)

	return nil
}
