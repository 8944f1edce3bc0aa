package config

import (
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ijonas/omikuji/internal/utils"
)

var validate = validator.New()

// Validate applies struct-tag rules plus the cross-field invariants the tags
// cannot express. It assumes defaults have been set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "config validation failed")
	}

	var merr error
	merr = multierr.Append(merr, c.validateNetworks())
	merr = multierr.Append(merr, c.validateDatafeeds())
	merr = multierr.Append(merr, c.validateScheduledTasks())
	merr = multierr.Append(merr, c.validateKeyStorage())
	merr = multierr.Append(merr, c.validateCleanup())
	return merr
}

func (c *Config) validateNetworks() error {
	var merr error
	seen := make(map[string]bool, len(c.Networks))
	for _, n := range c.Networks {
		if seen[n.Name] {
			merr = multierr.Append(merr, errors.Errorf("duplicate network name %q", n.Name))
		}
		seen[n.Name] = true

		u, err := url.Parse(n.RPCURL)
		if err != nil {
			merr = multierr.Append(merr, errors.Wrapf(err, "network %q: invalid rpc_url", n.Name))
			continue
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			merr = multierr.Append(merr, errors.Errorf(
				"network %q: rpc_url scheme must be http(s) or ws(s), got %q", n.Name, u.Scheme))
		}

		if n.TransactionType == "legacy" && n.GasConfig.MaxFeePerGasGwei != nil {
			merr = multierr.Append(merr, errors.Errorf(
				"network %q: max_fee_per_gas_gwei has no effect on legacy transactions", n.Name))
		}
	}
	return merr
}

func (c *Config) validateDatafeeds() error {
	var merr error
	seen := make(map[string]bool, len(c.Datafeeds))
	for _, d := range c.Datafeeds {
		if seen[d.Name] {
			merr = multierr.Append(merr, errors.Errorf("duplicate datafeed name %q", d.Name))
		}
		seen[d.Name] = true

		if c.Network(d.Networks) == nil {
			merr = multierr.Append(merr, errors.Errorf(
				"datafeed %q references unknown network %q", d.Name, d.Networks))
		}
		if !common.IsHexAddress(d.ContractAddress) {
			merr = multierr.Append(merr, errors.Errorf(
				"datafeed %q: contract_address %q is not a valid address", d.Name, d.ContractAddress))
		}
		if !d.ReadContractConfig && d.Decimals == nil {
			merr = multierr.Append(merr, errors.Errorf(
				"datafeed %q: decimals is required when read_contract_config is false", d.Name))
		}
		if *d.MinimumUpdateFrequency == 0 && *d.DeviationThresholdPct == 0 {
			merr = multierr.Append(merr, errors.Errorf(
				"datafeed %q: at least one of minimum_update_frequency, deviation_threshold_pct must be set", d.Name))
		}
		if d.MinValue != nil && d.MaxValue != nil && d.MinValue.Cmp(&d.MaxValue.Int) > 0 {
			merr = multierr.Append(merr, errors.Errorf(
				"datafeed %q: min_value exceeds max_value", d.Name))
		}
	}
	return merr
}

func (c *Config) validateScheduledTasks() error {
	var merr error
	seen := make(map[string]bool, len(c.ScheduledTasks))
	for _, t := range c.ScheduledTasks {
		if seen[t.Name] {
			merr = multierr.Append(merr, errors.Errorf("duplicate scheduled task name %q", t.Name))
		}
		seen[t.Name] = true

		if c.Network(t.Network) == nil {
			merr = multierr.Append(merr, errors.Errorf(
				"scheduled task %q references unknown network %q", t.Name, t.Network))
		}
		if err := utils.ValidateCronSchedule(t.Schedule); err != nil {
			merr = multierr.Append(merr, errors.Wrapf(err, "scheduled task %q", t.Name))
		}
		if !common.IsHexAddress(t.TargetFunction.ContractAddress) {
			merr = multierr.Append(merr, errors.Errorf(
				"scheduled task %q: target contract_address %q is not a valid address",
				t.Name, t.TargetFunction.ContractAddress))
		}
		if cond := t.CheckCondition; cond != nil {
			if !common.IsHexAddress(cond.ContractAddress) {
				merr = multierr.Append(merr, errors.Errorf(
					"scheduled task %q: condition contract_address %q is not a valid address",
					t.Name, cond.ContractAddress))
			}
			hasProperty := cond.Property != ""
			hasFunction := cond.Function != ""
			if hasProperty == hasFunction {
				merr = multierr.Append(merr, errors.Errorf(
					"scheduled task %q: check_condition needs exactly one of property, function", t.Name))
			}
		}
	}
	return merr
}

func (c *Config) validateKeyStorage() error {
	var merr error
	switch c.KeyStorage.StorageType {
	case "vault":
		if c.KeyStorage.Vault.URL == "" {
			merr = multierr.Append(merr, errors.New("key_storage: vault.url is required for the vault backend"))
		}
		if strings.TrimSpace(expandEnvVars(c.KeyStorage.Vault.Token)) == "" {
			merr = multierr.Append(merr, errors.New("key_storage: vault.token is required for the vault backend"))
		}
	case "aws-secrets":
		if c.KeyStorage.AWSSecrets.Region == "" {
			merr = multierr.Append(merr, errors.New("key_storage: aws_secrets.region is required for the aws-secrets backend"))
		}
	}
	return merr
}

func (c *Config) validateCleanup() error {
	if c.DatabaseCleanup.Enabled != nil && !*c.DatabaseCleanup.Enabled {
		return nil
	}
	return errors.Wrap(utils.ValidateCronSchedule(c.DatabaseCleanup.Schedule), "database_cleanup")
}
