package keys

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/logger"
)

const vaultBackendName = "vault"

// secretFields are the accepted key names inside a vault secret, in lookup
// order.
var secretFields = []string{"private_key", "key", "value"}

// VaultStorage keeps keys in a KV-v2 secrets engine under
// {mount}/{prefix}/{network}.
type VaultStorage struct {
	lggr   *logger.Logger
	client *api.Client
	mount  string
	prefix string
}

func NewVaultStorage(lggr *logger.Logger, cfg config.VaultConfig) (*VaultStorage, error) {
	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = cfg.URL
	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating vault client")
	}
	client.SetToken(cfg.Token)
	return &VaultStorage{
		lggr:   lggr.Named("VaultKeys"),
		client: client,
		mount:  cfg.MountPath,
		prefix: strings.Trim(cfg.PathPrefix, "/"),
	}, nil
}

func (v *VaultStorage) Backend() string { return vaultBackendName }

func (v *VaultStorage) secretPath(network string) string {
	if v.prefix == "" {
		return network
	}
	return v.prefix + "/" + network
}

func (v *VaultStorage) GetKey(ctx context.Context, network string) (string, error) {
	secret, err := v.client.KVv2(v.mount).Get(ctx, v.secretPath(network))
	if err != nil {
		err = errors.Wrapf(err, "reading key for network %q from vault", network)
		audit(v.lggr, vaultBackendName, "get_key", network, err)
		return "", err
	}
	for _, field := range secretFields {
		if key, ok := secret.Data[field].(string); ok && key != "" {
			audit(v.lggr, vaultBackendName, "get_key", network, nil)
			return key, nil
		}
	}
	err = errors.Errorf("no private_key, key, or value field in vault secret for network %q", network)
	audit(v.lggr, vaultBackendName, "get_key", network, err)
	return "", err
}

func (v *VaultStorage) StoreKey(ctx context.Context, network, key string) error {
	data := map[string]interface{}{
		"private_key": key,
		"network":     network,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
		"created_by":  "omikuji",
	}
	_, err := v.client.KVv2(v.mount).Put(ctx, v.secretPath(network), data)
	if err != nil {
		err = errors.Wrapf(err, "storing key for network %q in vault", network)
	}
	audit(v.lggr, vaultBackendName, "store_key", network, err)
	return err
}

// RemoveKey deletes the latest version of the secret; vault retains prior
// versions per the engine's configuration.
func (v *VaultStorage) RemoveKey(ctx context.Context, network string) error {
	err := v.client.KVv2(v.mount).Delete(ctx, v.secretPath(network))
	if err != nil {
		err = errors.Wrapf(err, "removing key for network %q from vault", network)
	}
	audit(v.lggr, vaultBackendName, "remove_key", network, err)
	return err
}

func (v *VaultStorage) ListKeys(ctx context.Context) ([]string, error) {
	secret, err := v.client.Logical().ListWithContext(ctx, path.Join(v.mount, "metadata", v.prefix))
	if err != nil {
		err = errors.Wrap(err, "listing vault secrets")
		audit(v.lggr, vaultBackendName, "list_keys", "", err)
		return nil, err
	}
	var networks []string
	if secret != nil && secret.Data != nil {
		entries, _ := secret.Data["keys"].([]interface{})
		for _, entry := range entries {
			name, ok := entry.(string)
			if !ok || strings.HasSuffix(name, "/") {
				continue
			}
			networks = append(networks, name)
		}
	}
	audit(v.lggr, vaultBackendName, "list_keys", "", nil)
	return networks, nil
}
