package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var Values Config

type (
	ChainName string

	Config struct {
		Log      Log                       `mapstructure:"log"`
		Chains   map[ChainName]ChainConfig `mapstructure:"chains"`
		Wallet   Wallet                    `mapstructure:"wallet"`
		Deployer Deployer                  `mapstructure:"deployer"`
		Escrow   Escrow                    `mapstructure:"escrow"`
		Rollout  Rollout                   `mapstructure:"rollout"`
		Watch    Watch                     `mapstructure:"watch"`
	}

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	ChainConfig struct {
		ID     int    `mapstructure:"id"`
		RPCURL string `mapstructure:"rpc-url"`
	}

	Wallet struct {
		PrivateKey string `mapstructure:"private-key"`
	}

	Deployer struct {
		Address string `mapstructure:"address"`
		Salt    string `mapstructure:"salt"`
	}

	Escrow struct {
		Address      string `mapstructure:"address"`
		Owner        string `mapstructure:"owner"`
		Artifact     string `mapstructure:"artifact"`
		ContractName string `mapstructure:"contract-name"`
	}

	Rollout struct {
		WaitForReceipt  bool   `mapstructure:"wait-for-receipt"`
		GasLimit        int    `mapstructure:"gas-limit"`
		RPCWaitAttempts int    `mapstructure:"rpc-wait-attempts"`
		Output          string `mapstructure:"output"`
	}

	Watch struct {
		Chain        ChainName     `mapstructure:"chain"`
		FromBlock    int           `mapstructure:"from-block"`
		BatchSize    int           `mapstructure:"batch-size"`
		PollInterval time.Duration `mapstructure:"poll-interval"`
		MetricsAddr  string        `mapstructure:"metrics-addr"`
	}
)

// SaltBytes returns the configured salt. A 0x-prefixed 32-byte hex string is used as is;
// anything else is treated as a label and hashed.
func (d Deployer) SaltBytes() [32]byte {
	if strings.HasPrefix(d.Salt, "0x") && len(d.Salt) == 66 {
		if raw, err := hexutil.Decode(d.Salt); err == nil {
			return [32]byte(raw)
		}
	}
	return crypto.Keccak256Hash([]byte(d.Salt))
}

func (c *Log) Validate() error {
	var errs []error

	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Level))
	}
	if c.Format != "json" && c.Format != "text" {
		errs = append(errs, errors.New("log.format must be either 'json' or 'text'"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("log configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// ValidateRollout checks everything the rollout command needs.
func (c *Config) ValidateRollout() error {
	errs := c.chainErrors()

	if c.Wallet.PrivateKey == "" {
		errs = append(errs, errors.New("wallet.private-key is required"))
	}
	errs = append(errs, addressErrors("deployer.address", c.Deployer.Address)...)
	if c.Deployer.Salt == "" {
		errs = append(errs, errors.New("deployer.salt is required"))
	}
	errs = append(errs, addressErrors("escrow.owner", c.Escrow.Owner)...)
	if c.Escrow.Artifact == "" {
		errs = append(errs, errors.New("escrow.artifact is required"))
	}
	if c.Rollout.GasLimit <= 0 {
		errs = append(errs, errors.New("rollout.gas-limit must be positive"))
	}
	if c.Rollout.RPCWaitAttempts <= 0 {
		errs = append(errs, errors.New("rollout.rpc-wait-attempts must be positive"))
	}
	if c.Rollout.Output == "" {
		errs = append(errs, errors.New("rollout.output is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("rollout configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// ValidateAddress checks the inputs of the address command, which needs no chain access.
func (c *Config) ValidateAddress() error {
	var errs []error

	errs = append(errs, addressErrors("deployer.address", c.Deployer.Address)...)
	if c.Deployer.Salt == "" {
		errs = append(errs, errors.New("deployer.salt is required"))
	}
	errs = append(errs, addressErrors("escrow.owner", c.Escrow.Owner)...)
	if c.Escrow.Artifact == "" {
		errs = append(errs, errors.New("escrow.artifact is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("address configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// ValidateWatch checks the watch section and the chain it points at.
func (c *Config) ValidateWatch() error {
	var errs []error

	errs = append(errs, c.chainRefErrors("watch.chain", c.Watch.Chain)...)
	errs = append(errs, addressErrors("escrow.address", c.Escrow.Address)...)
	if c.Watch.FromBlock < 0 {
		errs = append(errs, errors.New("watch.from-block must not be negative"))
	}
	if c.Watch.BatchSize <= 0 {
		errs = append(errs, errors.New("watch.batch-size must be positive"))
	}
	if c.Watch.PollInterval <= 0 {
		errs = append(errs, errors.New("watch.poll-interval must be positive"))
	}
	if c.Watch.MetricsAddr == "" {
		errs = append(errs, errors.New("watch.metrics-addr is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("watch configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// ValidatePool checks the inputs of the pool command against chain.
func (c *Config) ValidatePool(chain ChainName) error {
	errs := c.chainRefErrors("pool chain", chain)
	errs = append(errs, addressErrors("escrow.address", c.Escrow.Address)...)

	if len(errs) > 0 {
		return fmt.Errorf("pool configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (c *Config) chainErrors() []error {
	var errs []error

	if len(c.Chains) == 0 {
		return append(errs, errors.New("chains: at least one chain is required"))
	}

	for name, chain := range c.Chains {
		if chain.ID <= 0 {
			errs = append(errs, fmt.Errorf("chains.%s.id is required", name))
		}
		if chain.RPCURL == "" {
			errs = append(errs, fmt.Errorf("chains.%s.rpc-url is required", name))
		}
	}

	return errs
}

func (c *Config) chainRefErrors(key string, name ChainName) []error {
	if name == "" {
		return []error{fmt.Errorf("%s is required", key)}
	}

	chain, ok := c.Chains[name]
	if !ok {
		return []error{fmt.Errorf("%s: chain %q is not configured", key, name)}
	}
	if chain.RPCURL == "" {
		return []error{fmt.Errorf("chains.%s.rpc-url is required", name)}
	}

	return nil
}

func addressErrors(key, value string) []error {
	if value == "" {
		return []error{fmt.Errorf("%s is required", key)}
	}
	if !common.IsHexAddress(value) {
		return []error{fmt.Errorf("%s %q is not a hex address", key, value)}
	}
	if common.HexToAddress(value) == (common.Address{}) {
		return []error{fmt.Errorf("%s must not be the zero address", key)}
	}
	return nil
}
