package config

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/ijonas/omikuji/internal/utils"
)

// DefaultConfigFile is looked up in the working directory before falling
// back to ~/.omikuji/config.yaml.
const DefaultConfigFile = "config.yaml"

// Load reads, defaults and validates the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	return Parse(raw)
}

// Parse unmarshals a YAML document, applies defaults and validates.
// Unknown fields are rejected so typos surface at startup.
func Parse(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(raw, &c); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	c.setDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.KeyStorage.Vault.Token = expandEnvVars(c.KeyStorage.Vault.Token)
	return &c, nil
}

// ResolvePath returns the config file to load: the explicit path when given,
// else ./config.yaml, else ~/.omikuji/config.yaml.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if utils.FileExists(DefaultConfigFile) {
		return DefaultConfigFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}
	fallback := filepath.Join(home, ".omikuji", DefaultConfigFile)
	if utils.FileExists(fallback) {
		return fallback, nil
	}
	return "", errors.Errorf("no config file found at ./%s or %s", DefaultConfigFile, fallback)
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars substitutes ${VAR} references with the environment value.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}
