package eth

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Signer binds a private key to a network client for the duration of one
// submission. The key never leaves this struct: it is not exported, not
// stringered, and must never be logged.
type Signer struct {
	Client

	chainID *big.Int
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(client Client, chainID *big.Int, key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		Client:  client,
		chainID: chainID,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address is the account derived from the bound key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID the signer signs for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs with the bound key using the latest supported signer for the
// chain, covering both legacy and dynamic-fee transactions.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	return signed, errors.Wrap(err, "signing transaction")
}
