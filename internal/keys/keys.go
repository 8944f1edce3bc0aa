package keys

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
)

// Storage persists one signing key per network. Implementations must never
// log, print, or embed key material in errors; callers get the raw hex
// string and nothing else sees it.
type Storage interface {
	GetKey(ctx context.Context, network string) (string, error)
	StoreKey(ctx context.Context, network, key string) error
	RemoveKey(ctx context.Context, network string) error
	ListKeys(ctx context.Context) ([]string, error)
	Backend() string
}

// NewStorage builds the backend selected in config. Remote backends are
// fronted by a TTL cache so transient outages do not stall submissions.
func NewStorage(lggr *logger.Logger, cfg config.KeyStorage, legacyEnvVar string) (Storage, error) {
	switch cfg.StorageType {
	case "env":
		return NewEnvStorage(lggr, cfg.Env.Prefix, legacyEnvVar), nil
	case "keyring":
		return NewKeyringStorage(lggr, cfg.Keyring.Service), nil
	case "vault":
		s, err := NewVaultStorage(lggr, cfg.Vault)
		if err != nil {
			return nil, err
		}
		return newCachedStorage(lggr, s, cfg.Vault.CacheTTLSeconds), nil
	case "aws-secrets":
		s, err := NewAWSSecretsStorage(lggr, cfg.AWSSecrets)
		if err != nil {
			return nil, err
		}
		return newCachedStorage(lggr, s, cfg.AWSSecrets.CacheTTLSeconds), nil
	}
	return nil, errors.Errorf("unsupported key storage type %q", cfg.StorageType)
}

// audit records a key operation to the log stream and the metrics sink.
// Errors are stringified here because backends guarantee they carry no key
// material.
func audit(lggr *logger.Logger, backend, operation, network string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	monitoring.IncKeyOperation(operation, backend, status)

	fields := []interface{}{
		"backend", backend,
		"operation", operation,
		"network", network,
		"success", err == nil,
	}
	if err != nil {
		lggr.Warnw("Key storage operation failed", append(fields, "err", err.Error())...)
		return
	}
	lggr.Infow("Key storage operation", fields...)
}
