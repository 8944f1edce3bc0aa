package keys

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/utils"
)

// Provider resolves signing keys for networks. Keys are fetched from the
// backend per call and handed straight to the signer; the provider holds no
// key material of its own.
type Provider struct {
	lggr    *logger.Logger
	storage Storage
}

func NewProvider(lggr *logger.Logger, storage Storage) *Provider {
	return &Provider{
		lggr:    lggr.Named("Keys"),
		storage: storage,
	}
}

func (p *Provider) PrivateKey(ctx context.Context, network string) (*ecdsa.PrivateKey, error) {
	raw, err := p.storage.GetKey(ctx, network)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving key for network %q", network)
	}
	return ParsePrivateKey(raw)
}

// Address derives the wallet address for a network's key.
func (p *Provider) Address(ctx context.Context, network string) (common.Address, error) {
	key, err := p.PrivateKey(ctx, network)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// ParsePrivateKey decodes a hex-encoded secp256k1 private key. Errors never
// echo the input.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	trimmed := utils.RemoveHexPrefix(strings.TrimSpace(raw))
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key")
	}
	return key, nil
}
