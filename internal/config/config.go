// Package config loads and validates the daemon's YAML configuration.
// The tree returned by Load is immutable; nothing mutates it after startup.
package config

import (
	"math/big"

	"github.com/pkg/errors"
)

// Config is the root of the YAML document.
type Config struct {
	Networks        []Network        `yaml:"networks" validate:"required,min=1,dive"`
	Datafeeds       []Datafeed       `yaml:"datafeeds" validate:"required,min=1,dive"`
	ScheduledTasks  []ScheduledTask  `yaml:"scheduled_tasks" validate:"dive"`
	KeyStorage      KeyStorage       `yaml:"key_storage"`
	DatabaseCleanup DatabaseCleanup  `yaml:"database_cleanup"`
	Metrics         Metrics          `yaml:"metrics"`
}

// Network names an EVM chain and how to reach and pay for it.
type Network struct {
	Name            string    `yaml:"name" validate:"required"`
	RPCURL          string    `yaml:"rpc_url" validate:"required"`
	TransactionType string    `yaml:"transaction_type" validate:"omitempty,oneof=legacy eip1559"`
	GasConfig       GasConfig `yaml:"gas_config"`
}

// GasConfig carries optional fee ceilings and the estimation multiplier.
// Unset ceilings mean "no ceiling"; the estimator then trusts the node.
type GasConfig struct {
	GasLimit                 *uint64  `yaml:"gas_limit"`
	GasPriceGwei             *float64 `yaml:"gas_price_gwei" validate:"omitempty,gt=0"`
	MaxFeePerGasGwei         *float64 `yaml:"max_fee_per_gas_gwei" validate:"omitempty,gt=0"`
	MaxPriorityFeePerGasGwei *float64 `yaml:"max_priority_fee_per_gas_gwei" validate:"omitempty,gt=0"`
	GasMultiplier            *float64 `yaml:"gas_multiplier" validate:"omitempty,gte=1,lte=5"`
	FeeBumping               FeeBumping `yaml:"fee_bumping"`
}

// FeeBumping controls stuck-transaction replacement.
type FeeBumping struct {
	Enabled            *bool    `yaml:"enabled"`
	MaxRetries         *uint8   `yaml:"max_retries" validate:"omitempty,lte=10"`
	InitialWaitSeconds *uint64  `yaml:"initial_wait_seconds" validate:"omitempty,gte=10,lte=600"`
	FeeIncreasePercent *float64 `yaml:"fee_increase_percent" validate:"omitempty,gte=5,lte=100"`
}

// Datafeed binds one external price source to one FluxAggregator contract.
type Datafeed struct {
	Name                   string   `yaml:"name" validate:"required"`
	Networks               string   `yaml:"networks" validate:"required"`
	CheckFrequency         *uint64  `yaml:"check_frequency" validate:"omitempty,gte=1"`
	ContractAddress        string   `yaml:"contract_address" validate:"required"`
	ContractType           string   `yaml:"contract_type" validate:"omitempty,oneof=fluxmon"`
	ReadContractConfig     bool     `yaml:"read_contract_config"`
	MinimumUpdateFrequency *uint64  `yaml:"minimum_update_frequency"`
	DeviationThresholdPct  *float64 `yaml:"deviation_threshold_pct" validate:"omitempty,gte=0,lte=100"`
	FeedURL                string   `yaml:"feed_url" validate:"required,url"`
	FeedJSONPath           string   `yaml:"feed_json_path" validate:"required"`
	FeedJSONPathTimestamp  string   `yaml:"feed_json_path_timestamp"`
	Decimals               *uint8   `yaml:"decimals" validate:"omitempty,lte=18"`
	MinValue               *BigInt  `yaml:"min_value"`
	MaxValue               *BigInt  `yaml:"max_value"`
	DataRetentionDays      *uint32  `yaml:"data_retention_days" validate:"omitempty,gte=1,lte=365"`
}

// ScheduledTask is a cron-driven contract call, optionally gated on an
// on-chain condition.
type ScheduledTask struct {
	Name           string          `yaml:"name" validate:"required"`
	Network        string          `yaml:"network" validate:"required"`
	Schedule       string          `yaml:"schedule" validate:"required"`
	CheckCondition *CheckCondition `yaml:"check_condition"`
	TargetFunction TargetFunction  `yaml:"target_function" validate:"required"`
	GasConfig      *TaskGasConfig  `yaml:"gas_config"`
}

// CheckCondition gates a task run on a boolean read from the chain. Exactly
// one of Property (public bool variable) or Function (zero-arg view) is set.
type CheckCondition struct {
	ContractAddress string `yaml:"contract_address" validate:"required"`
	Property        string `yaml:"property"`
	Function        string `yaml:"function"`
	ExpectedValue   bool   `yaml:"expected_value"`
}

// TargetFunction is the call a task performs when its condition passes.
type TargetFunction struct {
	ContractAddress string      `yaml:"contract_address" validate:"required"`
	Function        string      `yaml:"function" validate:"required"`
	Parameters      []Parameter `yaml:"parameters" validate:"dive"`
}

// Parameter is a typed argument for a task's target function.
type Parameter struct {
	Value interface{} `yaml:"value"`
	Type  string      `yaml:"type" validate:"required,oneof=uint256 address bool address[]"`
}

// TaskGasConfig overrides network gas settings for a single task.
type TaskGasConfig struct {
	MaxGasPriceGwei *float64 `yaml:"max_gas_price_gwei" validate:"omitempty,gt=0"`
	GasLimit        *uint64  `yaml:"gas_limit"`
	PriorityFeeGwei *float64 `yaml:"priority_fee_gwei" validate:"omitempty,gt=0"`
}

// KeyStorage selects and parameterizes the signing-key backend.
type KeyStorage struct {
	StorageType string            `yaml:"storage_type" validate:"omitempty,oneof=env keyring vault aws-secrets"`
	Keyring     KeyringConfig     `yaml:"keyring"`
	Env         EnvKeyConfig      `yaml:"env"`
	Vault       VaultConfig       `yaml:"vault"`
	AWSSecrets  AWSSecretsConfig  `yaml:"aws_secrets"`
}

type KeyringConfig struct {
	Service string `yaml:"service"`
}

type EnvKeyConfig struct {
	Prefix string `yaml:"prefix"`
}

type VaultConfig struct {
	URL             string `yaml:"url"`
	MountPath       string `yaml:"mount_path"`
	PathPrefix      string `yaml:"path_prefix"`
	AuthMethod      string `yaml:"auth_method" validate:"omitempty,oneof=token"`
	Token           string `yaml:"token"`
	CacheTTLSeconds uint64 `yaml:"cache_ttl_seconds"`
}

type AWSSecretsConfig struct {
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	CacheTTLSeconds uint64 `yaml:"cache_ttl_seconds"`
}

// DatabaseCleanup schedules the retention sweep over the log tables.
type DatabaseCleanup struct {
	Enabled  *bool  `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled *bool  `yaml:"enabled"`
	Port    uint16 `yaml:"port" validate:"omitempty,gte=1"`
}

// BigInt accepts YAML integers or quoted strings for values wider than int64,
// e.g. submission bounds on 18-decimal feeds.
type BigInt struct {
	big.Int
}

func (b *BigInt) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		b.SetInt64(int64(v))
	case int64:
		b.SetInt64(v)
	case uint64:
		b.SetUint64(v)
	case string:
		if _, ok := b.SetString(v, 10); !ok {
			return errors.Errorf("cannot parse %q as integer", v)
		}
	case float64:
		i, acc := big.NewFloat(v).Int(nil)
		if acc != big.Exact {
			return errors.Errorf("value %v is not an integer", v)
		}
		b.Set(i)
	default:
		return errors.Errorf("cannot parse %T as integer", raw)
	}
	return nil
}

func (b *BigInt) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// Network returns the network with the given name, or nil.
func (c *Config) Network(name string) *Network {
	for i := range c.Networks {
		if c.Networks[i].Name == name {
			return &c.Networks[i]
		}
	}
	return nil
}

// Datafeed returns the datafeed with the given name, or nil.
func (c *Config) Datafeed(name string) *Datafeed {
	for i := range c.Datafeeds {
		if c.Datafeeds[i].Name == name {
			return &c.Datafeeds[i]
		}
	}
	return nil
}
