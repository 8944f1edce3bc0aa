// Package eth wraps go-ethereum's RPC clients with the narrow surface the
// daemon needs, classifies send errors, and keeps per-network connections.
package eth

import (
	"context"
	"math/big"
	"net/url"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
)

// Client is the read/submit surface over one network's RPC endpoint.
// All implementations must be safe for concurrent use.
type Client interface {
	Dial(ctx context.Context) error
	Close()

	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, n *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)

	Call(result interface{}, method string, args ...interface{}) error
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// DefaultQueryCtx returns a context with the default RPC deadline applied.
func DefaultQueryCtx(ctxs ...context.Context) (ctx context.Context, cancel context.CancelFunc) {
	if len(ctxs) > 0 {
		ctx = ctxs[0]
	} else {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 15*time.Second)
}

type client struct {
	logger  *logger.Logger
	network string
	uri     string

	rpc  *rpc.Client
	geth *ethclient.Client
}

var _ Client = (*client)(nil)

// NewClient builds an undialed client for the named network.
func NewClient(lggr *logger.Logger, network, rpcURL string) (*client, error) {
	parsed, err := url.ParseRequestURI(rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "network %s: invalid rpc url", network)
	}
	switch parsed.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, errors.Errorf("network %s: rpc url scheme must be http(s) or ws(s): %s", network, parsed.String())
	}

	return &client{
		logger:  lggr.Named("EthClient").With("network", network),
		network: network,
		uri:     rpcURL,
	}, nil
}

func (c *client) Dial(ctx context.Context) error {
	c.logger.Debugw("eth.Client#Dial(...)")
	rpcClient, err := rpc.DialContext(ctx, c.uri)
	if err != nil {
		return errors.Wrapf(err, "dialling %s", c.network)
	}
	c.rpc = rpcClient
	c.geth = ethclient.NewClient(rpcClient)
	return nil
}

func (c *client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

func (c *client) record(method string, start time.Time, err error) {
	monitoring.RecordRPC(c.network, method, time.Since(start), err)
}

func (c *client) ChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := c.geth.ChainID(ctx)
	c.record("eth_chainId", start, err)
	return id, err
}

func (c *client) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, err := c.geth.BlockNumber(ctx)
	c.record("eth_blockNumber", start, err)
	if err == nil {
		monitoring.SetChainHeadBlock(c.network, float64(n))
	}
	return n, err
}

func (c *client) HeaderByNumber(ctx context.Context, n *big.Int) (*types.Header, error) {
	start := time.Now()
	head, err := c.geth.HeaderByNumber(ctx, n)
	c.record("eth_getBlockByNumber", start, err)
	return head, err
}

func (c *client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	start := time.Now()
	bal, err := c.geth.BalanceAt(ctx, account, blockNumber)
	c.record("eth_getBalance", start, err)
	return bal, err
}

func (c *client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	start := time.Now()
	nonce, err := c.geth.PendingNonceAt(ctx, account)
	c.record("eth_getTransactionCount", start, err)
	return nonce, err
}

func (c *client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	start := time.Now()
	nonce, err := c.geth.NonceAt(ctx, account, blockNumber)
	c.record("eth_getTransactionCount", start, err)
	return nonce, err
}

func (c *client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.logger.Debugw("eth.Client#SendTransaction(...)", "tx", tx.Hash())
	start := time.Now()
	err := c.geth.SendTransaction(ctx, tx)
	c.record("eth_sendRawTransaction", start, err)
	return err
}

func (c *client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := c.geth.TransactionReceipt(ctx, txHash)
	c.record("eth_getTransactionReceipt", start, err)

	if err != nil && strings.Contains(err.Error(), "missing required field") {
		return nil, ethereum.NotFound
	}
	return receipt, err
}

func (c *client) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	start := time.Now()
	gas, err := c.geth.EstimateGas(ctx, call)
	c.record("eth_estimateGas", start, err)
	return gas, err
}

func (c *client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	price, err := c.geth.SuggestGasPrice(ctx)
	c.record("eth_gasPrice", start, err)
	return price, err
}

func (c *client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	tip, err := c.geth.SuggestGasTipCap(ctx)
	c.record("eth_maxPriorityFeePerGas", start, err)
	return tip, err
}

func (c *client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	start := time.Now()
	out, err := c.geth.CallContract(ctx, msg, blockNumber)
	c.record("eth_call", start, err)
	return out, err
}

func (c *client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	start := time.Now()
	code, err := c.geth.CodeAt(ctx, account, blockNumber)
	c.record("eth_getCode", start, err)
	return code, err
}

func (c *client) Call(result interface{}, method string, args ...interface{}) error {
	ctx, cancel := DefaultQueryCtx()
	defer cancel()
	return c.CallContext(ctx, result, method, args...)
}

func (c *client) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	start := time.Now()
	err := c.rpc.CallContext(ctx, result, method, args...)
	c.record(method, start, err)
	return err
}
