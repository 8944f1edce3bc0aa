package eth

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/utils"
)

// KeySource yields the signing key for a network. Implemented by the key
// provider; declared here so the registry depends only on what it uses.
type KeySource interface {
	PrivateKey(ctx context.Context, network string) (*ecdsa.PrivateKey, error)
}

// Registry owns one read-only client per configured network. Read clients
// are shared and safe for parallel use; signer-bound clients are minted per
// submission and never cached, so key material stays scoped to one send.
type Registry struct {
	utils.StartStopOnce

	logger   *logger.Logger
	networks []config.Network
	keys     KeySource

	mu       sync.RWMutex
	clients  map[string]Client
	chainIDs map[string]*big.Int
}

func NewRegistry(lggr *logger.Logger, networks []config.Network, keys KeySource) *Registry {
	return &Registry{
		logger:   lggr.Named("ProviderRegistry"),
		networks: networks,
		keys:     keys,
		clients:  make(map[string]Client, len(networks)),
		chainIDs: make(map[string]*big.Int, len(networks)),
	}
}

// Start dials every configured network and verifies it responds to
// eth_chainId and eth_blockNumber. Any unreachable network fails startup.
func (r *Registry) Start() error {
	return r.StartOnce("ProviderRegistry", func() error {
		ctx, cancel := DefaultQueryCtx()
		defer cancel()

		for _, n := range r.networks {
			client, err := NewClient(r.logger, n.Name, n.RPCURL)
			if err != nil {
				return err
			}
			if err := client.Dial(ctx); err != nil {
				return err
			}

			chainID, err := client.ChainID(ctx)
			if err != nil {
				return errors.Wrapf(err, "verifying network %s", n.Name)
			}
			head, err := client.BlockNumber(ctx)
			if err != nil {
				return errors.Wrapf(err, "verifying network %s", n.Name)
			}

			r.mu.Lock()
			r.clients[n.Name] = client
			r.chainIDs[n.Name] = chainID
			r.mu.Unlock()

			r.logger.Infow("Connected to network",
				"network", n.Name,
				"chainID", chainID.String(),
				"blockNumber", head,
			)
		}
		return nil
	})
}

func (r *Registry) Close() error {
	return r.StopOnce("ProviderRegistry", func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range r.clients {
			c.Close()
		}
		return nil
	})
}

// Get returns the shared read-only client for the named network.
func (r *Registry) Get(network string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[network]
	if !ok {
		return nil, errors.Errorf("no client for network %q", network)
	}
	return c, nil
}

// ChainID returns the chain id recorded when the network was dialled.
func (r *Registry) ChainID(network string) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.chainIDs[network]
	if !ok {
		return nil, errors.Errorf("no chain id for network %q", network)
	}
	return new(big.Int).Set(id), nil
}

func (r *Registry) BlockNumber(ctx context.Context, network string) (uint64, error) {
	c, err := r.Get(network)
	if err != nil {
		return 0, err
	}
	return c.BlockNumber(ctx)
}

func (r *Registry) Balance(ctx context.Context, network string, account common.Address) (*big.Int, error) {
	c, err := r.Get(network)
	if err != nil {
		return nil, err
	}
	return c.BalanceAt(ctx, account, nil)
}

func (r *Registry) EstimateGas(ctx context.Context, network string, call ethereum.CallMsg) (uint64, error) {
	c, err := r.Get(network)
	if err != nil {
		return 0, err
	}
	return c.EstimateGas(ctx, call)
}

// NewSigner fetches the network's key and binds it to the shared client.
// Callers must not retain the signer beyond the submission that needed it.
func (r *Registry) NewSigner(ctx context.Context, network string) (*Signer, error) {
	c, err := r.Get(network)
	if err != nil {
		return nil, err
	}
	chainID, err := r.ChainID(network)
	if err != nil {
		return nil, err
	}
	key, err := r.keys.PrivateKey(ctx, network)
	if err != nil {
		return nil, errors.Wrapf(err, "acquiring signer for network %q", network)
	}
	return NewSigner(c, chainID, key), nil
}
