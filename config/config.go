package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"sealedbid/crypto"
)

// Config carries the auctiond runtime settings. Identities are bech32
// strings; transaction signing and key custody live in external
// collaborators, so the daemon only needs addresses, never keys.
type Config struct {
	ListenAddress      string `toml:"ListenAddress"`
	DataDir            string `toml:"DataDir"`
	Environment        string `toml:"Environment"`
	LogFile            string `toml:"LogFile"`
	OwnerAddress       string `toml:"OwnerAddress"`
	ContractAddress    string `toml:"ContractAddress"`
	GatewayAddress     string `toml:"GatewayAddress"`
	EnableLocalGateway bool   `toml:"EnableLocalGateway"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./auctiond-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
}

// Validate checks the address fields decode as bech32 identities.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.OwnerAddress) == "" {
		return fmt.Errorf("config: OwnerAddress is required")
	}
	if _, err := crypto.DecodeAddress(cfg.OwnerAddress); err != nil {
		return fmt.Errorf("config: invalid OwnerAddress: %w", err)
	}
	if strings.TrimSpace(cfg.ContractAddress) == "" {
		return fmt.Errorf("config: ContractAddress is required")
	}
	if _, err := crypto.DecodeAddress(cfg.ContractAddress); err != nil {
		return fmt.Errorf("config: invalid ContractAddress: %w", err)
	}
	if strings.TrimSpace(cfg.GatewayAddress) != "" {
		if _, err := crypto.DecodeAddress(cfg.GatewayAddress); err != nil {
			return fmt.Errorf("config: invalid GatewayAddress: %w", err)
		}
	}
	if cfg.EnableLocalGateway && strings.TrimSpace(cfg.GatewayAddress) == "" {
		return fmt.Errorf("config: EnableLocalGateway requires GatewayAddress")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	owner, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	contract, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	gateway, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		OwnerAddress:       owner.PubKey().Address().String(),
		ContractAddress:    contract.PubKey().Address().String(),
		GatewayAddress:     gateway.PubKey().Address().String(),
		EnableLocalGateway: true,
	}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Address decodes a configured bech32 identity into its raw 20 bytes. Empty
// strings yield the zero address.
func Address(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, nil
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}
