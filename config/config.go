package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	BackendEthereum = "ethereum"
	BackendLedger   = "ledger"
)

type Config struct {
	APIConf         APIConf        `yaml:"APIConf"`
	RegistryAddress common.Address `yaml:"RegistryAddress"`
	Node            string         `yaml:"Node"`
	Chain           Chain          `yaml:"Chain"`
	Store           Store          `yaml:"Store"`
	Registration    Registration   `yaml:"Registration"`
}

type APIConf struct {
	Port string `yaml:"Port" default:"8081"`
	Host string `yaml:"Host" default:"0.0.0.0"`
}

// Chain selects the registry backend. "ledger" runs the registry in process
// and is meant for development only.
type Chain struct {
	Backend        string        `yaml:"Backend" default:"ethereum"`
	ConfirmTimeout time.Duration `yaml:"ConfirmTimeout" default:"2m"`
	CallTimeout    time.Duration `yaml:"CallTimeout" default:"15s"`
}

type Store struct {
	Path     string `yaml:"Path"`
	InMemory bool   `yaml:"InMemory"`
}

type Registration struct {
	Workers         int           `yaml:"Workers" default:"4"`
	MaxAttempts     uint64        `yaml:"MaxAttempts" default:"5"`
	InitialInterval time.Duration `yaml:"InitialInterval" default:"5s"`
	MaxInterval     time.Duration `yaml:"MaxInterval" default:"5m"`
	TaskExpiration  time.Duration `yaml:"TaskExpiration" default:"4h"`
}

// Load reads a YAML config file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.APIConf.Port == "" {
		c.APIConf.Port = "8081"
	}
	if c.APIConf.Host == "" {
		c.APIConf.Host = "0.0.0.0"
	}

	if c.Chain.Backend == "" {
		c.Chain.Backend = BackendEthereum
	}
	if c.Chain.ConfirmTimeout == 0 {
		c.Chain.ConfirmTimeout = 2 * time.Minute
	}
	if c.Chain.CallTimeout == 0 {
		c.Chain.CallTimeout = 15 * time.Second
	}

	if c.Store.Path == "" && !c.Store.InMemory {
		c.Store.Path = "data/certificates"
	}

	if c.Registration.Workers == 0 {
		c.Registration.Workers = 4
	}
	if c.Registration.MaxAttempts == 0 {
		c.Registration.MaxAttempts = 5
	}
	if c.Registration.InitialInterval == 0 {
		c.Registration.InitialInterval = 5 * time.Second
	}
	if c.Registration.MaxInterval == 0 {
		c.Registration.MaxInterval = 5 * time.Minute
	}
	if c.Registration.TaskExpiration == 0 {
		c.Registration.TaskExpiration = 4 * time.Hour
	}
}

func (c *Config) Validate() error {
	switch c.Chain.Backend {
	case BackendEthereum:
		if c.Node == "" {
			return errors.New("config: Node is required for the ethereum backend")
		}
		if c.RegistryAddress == (common.Address{}) {
			return errors.New("config: RegistryAddress is required for the ethereum backend")
		}
	case BackendLedger:
	default:
		return fmt.Errorf("config: unknown chain backend %q", c.Chain.Backend)
	}

	if c.Registration.Workers < 0 {
		return errors.New("config: Registration.Workers must not be negative")
	}
	if c.Registration.MaxInterval < c.Registration.InitialInterval {
		return errors.New("config: Registration.MaxInterval is shorter than InitialInterval")
	}

	return nil
}
