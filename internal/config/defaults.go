package config

// Defaults applied after unmarshalling and before validation. Values match
// the documented configuration reference.
const (
	DefaultTransactionType        = "eip1559"
	DefaultGasMultiplier          = 1.2
	DefaultFeeBumpMaxRetries      = uint8(3)
	DefaultFeeBumpInitialWaitSecs = uint64(30)
	DefaultFeeBumpIncreasePercent = 10.0
	DefaultCheckFrequency         = uint64(60)
	DefaultMinimumUpdateFrequency = uint64(3600)
	DefaultDeviationThresholdPct  = 0.5
	DefaultContractType           = "fluxmon"
	DefaultDataRetentionDays      = uint32(7)
	DefaultKeyStorageType         = "env"
	DefaultKeyringService         = "omikuji"
	DefaultEnvKeyPrefix           = "OMIKUJI_PRIVATE_KEY"
	DefaultVaultMountPath         = "secret"
	DefaultVaultPathPrefix        = "omikuji"
	DefaultVaultAuthMethod        = "token"
	DefaultAWSSecretsPrefix       = "omikuji"
	DefaultKeyCacheTTLSeconds     = uint64(300)
	DefaultCleanupSchedule        = "0 0 * * * *" // hourly, at second 0 minute 0
	DefaultMetricsPort            = uint16(9090)
)

func boolPtr(b bool) *bool          { return &b }
func uint8Ptr(v uint8) *uint8       { return &v }
func uint32Ptr(v uint32) *uint32    { return &v }
func uint64Ptr(v uint64) *uint64    { return &v }
func float64Ptr(v float64) *float64 { return &v }

// setDefaults fills every unset optional field in place.
func (c *Config) setDefaults() {
	for i := range c.Networks {
		c.Networks[i].setDefaults()
	}
	for i := range c.Datafeeds {
		c.Datafeeds[i].setDefaults()
	}
	c.KeyStorage.setDefaults()

	if c.DatabaseCleanup.Enabled == nil {
		c.DatabaseCleanup.Enabled = boolPtr(true)
	}
	if c.DatabaseCleanup.Schedule == "" {
		c.DatabaseCleanup.Schedule = DefaultCleanupSchedule
	}
	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = boolPtr(true)
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
}

func (n *Network) setDefaults() {
	if n.TransactionType == "" {
		n.TransactionType = DefaultTransactionType
	}
	n.GasConfig.setDefaults()
}

func (g *GasConfig) setDefaults() {
	if g.GasMultiplier == nil {
		g.GasMultiplier = float64Ptr(DefaultGasMultiplier)
	}
	if g.FeeBumping.Enabled == nil {
		g.FeeBumping.Enabled = boolPtr(true)
	}
	if g.FeeBumping.MaxRetries == nil {
		g.FeeBumping.MaxRetries = uint8Ptr(DefaultFeeBumpMaxRetries)
	}
	if g.FeeBumping.InitialWaitSeconds == nil {
		g.FeeBumping.InitialWaitSeconds = uint64Ptr(DefaultFeeBumpInitialWaitSecs)
	}
	if g.FeeBumping.FeeIncreasePercent == nil {
		g.FeeBumping.FeeIncreasePercent = float64Ptr(DefaultFeeBumpIncreasePercent)
	}
}

func (d *Datafeed) setDefaults() {
	if d.CheckFrequency == nil {
		d.CheckFrequency = uint64Ptr(DefaultCheckFrequency)
	}
	if d.ContractType == "" {
		d.ContractType = DefaultContractType
	}
	if d.MinimumUpdateFrequency == nil {
		d.MinimumUpdateFrequency = uint64Ptr(DefaultMinimumUpdateFrequency)
	}
	if d.DeviationThresholdPct == nil {
		d.DeviationThresholdPct = float64Ptr(DefaultDeviationThresholdPct)
	}
	if d.DataRetentionDays == nil {
		d.DataRetentionDays = uint32Ptr(DefaultDataRetentionDays)
	}
}

func (k *KeyStorage) setDefaults() {
	if k.StorageType == "" {
		k.StorageType = DefaultKeyStorageType
	}
	if k.Keyring.Service == "" {
		k.Keyring.Service = DefaultKeyringService
	}
	if k.Env.Prefix == "" {
		k.Env.Prefix = DefaultEnvKeyPrefix
	}
	if k.Vault.MountPath == "" {
		k.Vault.MountPath = DefaultVaultMountPath
	}
	if k.Vault.PathPrefix == "" {
		k.Vault.PathPrefix = DefaultVaultPathPrefix
	}
	if k.Vault.AuthMethod == "" {
		k.Vault.AuthMethod = DefaultVaultAuthMethod
	}
	if k.Vault.CacheTTLSeconds == 0 {
		k.Vault.CacheTTLSeconds = DefaultKeyCacheTTLSeconds
	}
	if k.AWSSecrets.Prefix == "" {
		k.AWSSecrets.Prefix = DefaultAWSSecretsPrefix
	}
	if k.AWSSecrets.CacheTTLSeconds == 0 {
		k.AWSSecrets.CacheTTLSeconds = DefaultKeyCacheTTLSeconds
	}
}
