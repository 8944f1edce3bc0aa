// Package gas prices transactions: it quotes legacy and EIP-1559 fees from
// the node, applies configured floors, ceilings and the safety multiplier,
// and computes replacement quotes when a transaction is stuck.
package gas

import (
	"context"
	"math"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/eth"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
)

const (
	TxTypeLegacy  = "legacy"
	TxTypeEIP1559 = "eip1559"
)

// Quote is a priced fee for one transaction attempt. Legacy quotes carry
// GasPrice; EIP-1559 quotes carry MaxFeePerGas, MaxPriorityFeePerGas and
// the base fee observed when the quote was made.
type Quote struct {
	TxType               string
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	BaseFee              *big.Int
}

// CapGwei is the quote's price cap in gwei, whichever form it takes.
func (q Quote) CapGwei() float64 {
	if q.TxType == TxTypeLegacy {
		return GweiFromWei(q.GasPrice)
	}
	return GweiFromWei(q.MaxFeePerGas)
}

// Estimator prices transactions for one network.
type Estimator struct {
	logger  *logger.Logger
	client  eth.Client
	network config.Network
}

func NewEstimator(lggr *logger.Logger, client eth.Client, network config.Network) *Estimator {
	return &Estimator{
		logger:  lggr.Named("GasEstimator").With("network", network.Name),
		client:  client,
		network: network,
	}
}

// Quote produces the initial fee for a submission. The override carries
// per-task ceilings and wins over the network configuration where set.
func (e *Estimator) Quote(ctx context.Context, override *config.TaskGasConfig) (Quote, error) {
	var (
		quote Quote
		err   error
	)
	switch e.network.TransactionType {
	case TxTypeLegacy:
		quote, err = e.legacyQuote(ctx, override)
	default:
		quote, err = e.eip1559Quote(ctx, override)
	}
	if err != nil {
		return Quote{}, err
	}

	monitoring.ObserveGasPriceGwei(quote.CapGwei())
	e.logger.Debugw("Fee quote",
		"txType", quote.TxType,
		"gasPrice", quote.GasPrice,
		"maxFeePerGas", quote.MaxFeePerGas,
		"maxPriorityFeePerGas", quote.MaxPriorityFeePerGas,
		"baseFee", quote.BaseFee,
	)
	return quote, nil
}

func (e *Estimator) legacyQuote(ctx context.Context, override *config.TaskGasConfig) (Quote, error) {
	floor := weiFromGweiPtr(e.network.GasConfig.GasPriceGwei)
	ceiling := floor
	if override != nil && override.MaxGasPriceGwei != nil {
		ceiling = WeiFromGwei(*override.MaxGasPriceGwei)
	}

	// A configured price with no separate ceiling pins the quote outright;
	// the node's opinion cannot move it in either direction.
	if floor != nil && (override == nil || override.MaxGasPriceGwei == nil) {
		return Quote{TxType: TxTypeLegacy, GasPrice: floor}, nil
	}

	rpcPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return Quote{}, errors.Wrapf(err, "network %s: fetching gas price", e.network.Name)
	}
	price := mulByFloat(rpcPrice, e.multiplier())
	if floor != nil && price.Cmp(floor) < 0 {
		price = floor
	}
	if ceiling != nil && price.Cmp(ceiling) > 0 {
		price = ceiling
	}
	return Quote{TxType: TxTypeLegacy, GasPrice: price}, nil
}

func (e *Estimator) eip1559Quote(ctx context.Context, override *config.TaskGasConfig) (Quote, error) {
	cfg := e.network.GasConfig

	var priority *big.Int
	switch {
	case override != nil && override.PriorityFeeGwei != nil:
		priority = WeiFromGwei(*override.PriorityFeeGwei)
	case cfg.MaxPriorityFeePerGasGwei != nil:
		priority = WeiFromGwei(*cfg.MaxPriorityFeePerGasGwei)
	default:
		tip, err := e.client.SuggestGasTipCap(ctx)
		if err != nil {
			return Quote{}, errors.Wrapf(err, "network %s: fetching suggested priority fee", e.network.Name)
		}
		priority = mulByFloat(tip, e.multiplier())
	}

	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Quote{}, errors.Wrapf(err, "network %s: fetching latest head", e.network.Name)
	}
	if head.BaseFee == nil {
		return Quote{}, errors.Errorf("network %s: node reported no base fee; set transaction_type to legacy", e.network.Name)
	}

	maxFee := mulByFloat(new(big.Int).Add(head.BaseFee, priority), e.multiplier())

	ceiling := weiFromGweiPtr(cfg.MaxFeePerGasGwei)
	if override != nil && override.MaxGasPriceGwei != nil {
		ceiling = WeiFromGwei(*override.MaxGasPriceGwei)
	}
	if ceiling != nil && maxFee.Cmp(ceiling) > 0 {
		e.logger.Debugw("Max fee clamped to configured ceiling", "computed", maxFee, "ceiling", ceiling)
		maxFee = ceiling
	}
	if maxFee.Cmp(priority) < 0 {
		priority = maxFee
	}

	return Quote{
		TxType:               TxTypeEIP1559,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: priority,
		BaseFee:              head.BaseFee,
	}, nil
}

// Bump reprices the original quote for a replacement attempt. attempt is the
// 1-based bump number; scaling always compounds from the original quote so
// repeated bumps cannot drift. The returned quote is capped at the ceiling
// when one is configured, with an error the caller can act on.
func (e *Estimator) Bump(q Quote, attempt uint8, override *config.TaskGasConfig) (Quote, error) {
	factor := math.Pow(1+e.bumpPercent()/100, float64(attempt))

	switch q.TxType {
	case TxTypeLegacy:
		bumped := mulByFloat(q.GasPrice, factor)
		ceiling := weiFromGweiPtr(e.network.GasConfig.GasPriceGwei)
		if override != nil && override.MaxGasPriceGwei != nil {
			ceiling = WeiFromGwei(*override.MaxGasPriceGwei)
		}
		if ceiling != nil && bumped.Cmp(ceiling) > 0 {
			monitoring.IncGasBumpExceedsLimit()
			capped := Quote{TxType: TxTypeLegacy, GasPrice: ceiling}
			return capped, errors.Errorf("bumped gas price of %s wei would exceed configured max of %s wei (original price was %s wei)",
				bumped, ceiling, q.GasPrice)
		}
		monitoring.IncGasBump()
		return Quote{TxType: TxTypeLegacy, GasPrice: bumped}, nil

	case TxTypeEIP1559:
		fee := mulByFloat(q.MaxFeePerGas, factor)
		priority := mulByFloat(q.MaxPriorityFeePerGas, factor)
		if q.BaseFee != nil {
			if minFee := new(big.Int).Add(q.BaseFee, priority); fee.Cmp(minFee) < 0 {
				fee = minFee
			}
		}
		ceiling := weiFromGweiPtr(e.network.GasConfig.MaxFeePerGasGwei)
		if override != nil && override.MaxGasPriceGwei != nil {
			ceiling = WeiFromGwei(*override.MaxGasPriceGwei)
		}
		if ceiling != nil && fee.Cmp(ceiling) > 0 {
			monitoring.IncGasBumpExceedsLimit()
			cappedPriority := priority
			if cappedPriority.Cmp(ceiling) > 0 {
				cappedPriority = ceiling
			}
			capped := Quote{TxType: TxTypeEIP1559, MaxFeePerGas: ceiling, MaxPriorityFeePerGas: cappedPriority, BaseFee: q.BaseFee}
			return capped, errors.Errorf("bumped max fee of %s wei would exceed configured max of %s wei (original fee was %s wei)",
				fee, ceiling, q.MaxFeePerGas)
		}
		monitoring.IncGasBump()
		return Quote{TxType: TxTypeEIP1559, MaxFeePerGas: fee, MaxPriorityFeePerGas: priority, BaseFee: q.BaseFee}, nil
	}
	return Quote{}, errors.Errorf("unknown tx type %q", q.TxType)
}

// GasLimit settles the gas limit for one call. The node is always asked for
// an estimate: it doubles as the revert pre-flight, and a configured limit
// below the node's estimate is an error rather than a silent cap.
func (e *Estimator) GasLimit(ctx context.Context, msg ethereum.CallMsg, override *config.TaskGasConfig) (uint64, error) {
	configured := e.network.GasConfig.GasLimit
	if override != nil && override.GasLimit != nil {
		configured = override.GasLimit
	}

	estimate, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, errors.Wrapf(err, "network %s: estimating gas", e.network.Name)
	}

	if configured != nil {
		if estimate > *configured {
			return 0, errors.Errorf("network %s: configured gas limit %d is below estimated %d", e.network.Name, *configured, estimate)
		}
		return *configured, nil
	}
	return applyMultiplier(estimate, e.multiplier()), nil
}

func (e *Estimator) multiplier() float64 {
	if m := e.network.GasConfig.GasMultiplier; m != nil {
		return *m
	}
	return config.DefaultGasMultiplier
}

func (e *Estimator) bumpPercent() float64 {
	if p := e.network.GasConfig.FeeBumping.FeeIncreasePercent; p != nil {
		return *p
	}
	return config.DefaultFeeBumpIncreasePercent
}

func applyMultiplier(gasLimit uint64, multiplier float64) uint64 {
	return uint64(decimal.NewFromBigInt(new(big.Int).SetUint64(gasLimit), 0).Mul(decimal.NewFromFloat(multiplier)).IntPart())
}

func mulByFloat(x *big.Int, m float64) *big.Int {
	return decimal.NewFromBigInt(x, 0).Mul(decimal.NewFromFloat(m)).BigInt()
}

// WeiFromGwei converts a configured gwei quantity into wei.
func WeiFromGwei(gwei float64) *big.Int {
	return decimal.NewFromFloat(gwei).Shift(9).BigInt()
}

// GweiFromWei renders a wei quantity in gwei for logs and metrics.
func GweiFromWei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(wei, -9).Float64()
	return f
}

func weiFromGweiPtr(gwei *float64) *big.Int {
	if gwei == nil {
		return nil
	}
	return WeiFromGwei(*gwei)
}
