package keys

import (
	"bytes"
	"context"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/logger"
)

const keyringBackendName = "keyring"

// KeyringStorage keeps keys in the OS credential store. Only native session
// backends are allowed so a headless host fails fast instead of prompting.
type KeyringStorage struct {
	lggr    *logger.Logger
	service string
	open    func() (keyring.Keyring, error)
}

func NewKeyringStorage(lggr *logger.Logger, service string) *KeyringStorage {
	s := &KeyringStorage{
		lggr:    lggr.Named("KeyringKeys"),
		service: service,
	}
	s.open = s.openRing
	return s
}

func (k *KeyringStorage) Backend() string { return keyringBackendName }

func (k *KeyringStorage) openRing() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: k.service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.WinCredBackend,
		},
	})
	return ring, errors.Wrap(err, "opening OS keyring (no desktop session available?)")
}

func (k *KeyringStorage) GetKey(ctx context.Context, network string) (string, error) {
	ring, err := k.open()
	if err != nil {
		audit(k.lggr, keyringBackendName, "get_key", network, err)
		return "", err
	}
	item, err := ring.Get(network)
	if err != nil {
		if err == keyring.ErrKeyNotFound {
			err = errors.Errorf("no key stored for network %q in keyring service %q", network, k.service)
		} else {
			err = errors.Wrapf(err, "reading key for network %q from keyring", network)
		}
		audit(k.lggr, keyringBackendName, "get_key", network, err)
		return "", err
	}
	audit(k.lggr, keyringBackendName, "get_key", network, nil)
	return string(item.Data), nil
}

func (k *KeyringStorage) StoreKey(ctx context.Context, network, key string) error {
	ring, err := k.open()
	if err != nil {
		audit(k.lggr, keyringBackendName, "store_key", network, err)
		return err
	}
	err = ring.Set(keyring.Item{
		Key:         network,
		Data:        []byte(key),
		Label:       "omikuji " + network,
		Description: "omikuji signing key",
	})
	if err != nil {
		err = errors.Wrapf(err, "storing key for network %q in keyring", network)
		audit(k.lggr, keyringBackendName, "store_key", network, err)
		return err
	}

	// Read back to catch backends that accept writes without persisting.
	item, err := ring.Get(network)
	if err != nil || !bytes.Equal(item.Data, []byte(key)) {
		k.lggr.Warnw("Stored key could not be read back; keyring backend may not persist",
			"network", network, "service", k.service)
	}
	audit(k.lggr, keyringBackendName, "store_key", network, nil)
	return nil
}

func (k *KeyringStorage) RemoveKey(ctx context.Context, network string) error {
	ring, err := k.open()
	if err != nil {
		audit(k.lggr, keyringBackendName, "remove_key", network, err)
		return err
	}
	if err := ring.Remove(network); err != nil {
		err = errors.Wrapf(err, "removing key for network %q from keyring", network)
		audit(k.lggr, keyringBackendName, "remove_key", network, err)
		return err
	}
	audit(k.lggr, keyringBackendName, "remove_key", network, nil)
	return nil
}

func (k *KeyringStorage) ListKeys(ctx context.Context) ([]string, error) {
	ring, err := k.open()
	if err != nil {
		audit(k.lggr, keyringBackendName, "list_keys", "", err)
		return nil, err
	}
	names, err := ring.Keys()
	if err != nil {
		err = errors.Wrap(err, "listing keyring entries")
		audit(k.lggr, keyringBackendName, "list_keys", "", err)
		return nil, err
	}
	audit(k.lggr, keyringBackendName, "list_keys", "", nil)
	return names, nil
}
