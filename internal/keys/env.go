package keys

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/logger"
)

const envBackendName = "env"

// EnvStorage reads keys from process environment variables. One variable per
// network, ${PREFIX}_${UPPERCASE_NETWORK} with hyphens mapped to underscores,
// plus a single legacy variable for one-network deployments.
type EnvStorage struct {
	lggr      *logger.Logger
	prefix    string
	legacyVar string
}

func NewEnvStorage(lggr *logger.Logger, prefix, legacyVar string) *EnvStorage {
	return &EnvStorage{
		lggr:      lggr.Named("EnvKeys"),
		prefix:    prefix,
		legacyVar: legacyVar,
	}
}

func (e *EnvStorage) Backend() string { return envBackendName }

func (e *EnvStorage) envVarName(network string) string {
	return e.prefix + "_" + strings.ToUpper(strings.ReplaceAll(network, "-", "_"))
}

func (e *EnvStorage) GetKey(ctx context.Context, network string) (string, error) {
	name := e.envVarName(network)
	if key := os.Getenv(name); key != "" {
		e.lggr.Debugw("Using private key from environment", "var", name, "network", network)
		audit(e.lggr, envBackendName, "get_key", network, nil)
		return key, nil
	}

	if e.legacyVar != "" {
		if key := os.Getenv(e.legacyVar); key != "" {
			e.lggr.Warnw("Using legacy single-key environment variable; set the per-network variable or migrate to a keyring backend",
				"var", e.legacyVar, "network", network)
			audit(e.lggr, envBackendName, "get_key", network, nil)
			return key, nil
		}
	}

	err := errors.Errorf("private key not found: looked for %q and %q environment variables", name, e.legacyVar)
	audit(e.lggr, envBackendName, "get_key", network, err)
	return "", err
}

func (e *EnvStorage) StoreKey(ctx context.Context, network, key string) error {
	err := errors.New("environment storage cannot store keys; set the variable in the process environment or use a keyring backend")
	audit(e.lggr, envBackendName, "store_key", network, err)
	return err
}

func (e *EnvStorage) RemoveKey(ctx context.Context, network string) error {
	err := errors.New("environment storage cannot remove keys; unset the variable in the process environment")
	audit(e.lggr, envBackendName, "remove_key", network, err)
	return err
}

// ListKeys reports networks that have a per-network variable set. When only
// the legacy variable is present the single entry "default" is returned.
func (e *EnvStorage) ListKeys(ctx context.Context) ([]string, error) {
	var networks []string
	prefix := e.prefix + "_"
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		network := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, prefix)), "_", "-")
		networks = append(networks, network)
	}
	if len(networks) == 0 && e.legacyVar != "" && os.Getenv(e.legacyVar) != "" {
		networks = append(networks, "default")
	}
	sort.Strings(networks)
	audit(e.lggr, envBackendName, "list_keys", "", nil)
	return networks, nil
}
