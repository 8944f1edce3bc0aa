// Package contracts is the typed gateway to on-chain code: the
// FluxAggregator binding used by datafeeds and the signature-based call
// codec used by scheduled tasks.
package contracts

import (
	"context"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/eth"
	"github.com/ijonas/omikuji/internal/logger"
)

// FluxAggregatorABI is the aggregator interface the daemon reads and writes.
const FluxAggregatorABI = `[{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"description","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"version","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"latestAnswer","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"latestTimestamp","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"latestRound","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"uint256","name":"_roundId","type":"uint256"}],"name":"getAnswer","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"uint256","name":"_roundId","type":"uint256"}],"name":"getTimestamp","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"minSubmissionValue","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"maxSubmissionValue","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"uint80","name":"_roundId","type":"uint80"}],"name":"getRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"_oracle","type":"address"},{"internalType":"uint32","name":"_queriedRoundId","type":"uint32"}],"name":"oracleRoundState","outputs":[{"internalType":"bool","name":"_eligibleToSubmit","type":"bool"},{"internalType":"uint32","name":"_roundId","type":"uint32"},{"internalType":"int256","name":"_latestSubmission","type":"int256"},{"internalType":"uint64","name":"_startedAt","type":"uint64"},{"internalType":"uint64","name":"_timeout","type":"uint64"},{"internalType":"uint128","name":"_availableFunds","type":"uint128"},{"internalType":"uint8","name":"_oracleCount","type":"uint8"},{"internalType":"uint128","name":"_paymentAmount","type":"uint128"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"uint256","name":"_roundId","type":"uint256"},{"internalType":"int256","name":"_submission","type":"int256"}],"name":"submit","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var fluxAggregatorABI = MustGetABI(FluxAggregatorABI)

// MustGetABI parses an ABI JSON blob or panics. Only call it from
// package-level variable initializers.
func MustGetABI(json string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(json))
	if err != nil {
		panic("could not parse ABI: " + err.Error())
	}
	return parsed
}

// RoundData mirrors the latestRoundData and getRoundData return tuple.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// RoundState mirrors the oracleRoundState return tuple for one oracle.
type RoundState struct {
	EligibleToSubmit bool
	RoundID          uint32
	LatestSubmission *big.Int
	StartedAt        uint64
	Timeout          uint64
	AvailableFunds   *big.Int
	OracleCount      uint8
	PaymentAmount    *big.Int
}

// FluxAggregator reads from and encodes writes against one deployed
// aggregator contract. Reads go straight to the RPC client; writes are
// encoded here and carried out by the transaction executor.
type FluxAggregator struct {
	logger  *logger.Logger
	client  eth.Client
	address common.Address
}

func NewFluxAggregator(lggr *logger.Logger, client eth.Client, network string, address common.Address) *FluxAggregator {
	return &FluxAggregator{
		logger:  lggr.Named("FluxAggregator").With("network", network, "contract", address.Hex()),
		client:  client,
		address: address,
	}
}

func (fa *FluxAggregator) Address() common.Address {
	return fa.address
}

func (fa *FluxAggregator) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	calldata, err := fluxAggregatorABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "packing %s", method)
	}
	fa.logger.Debugw("Calling aggregator", "method", method)

	callCtx, cancel := eth.DefaultQueryCtx(ctx)
	defer cancel()
	raw, err := fa.client.CallContract(callCtx, ethereum.CallMsg{To: &fa.address, Data: calldata}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "calling %s", method)
	}
	out, err := fluxAggregatorABI.Unpack(method, raw)
	return out, errors.Wrapf(err, "unpacking %s response", method)
}

// Decimals returns the scale the aggregator expects submissions in.
func (fa *FluxAggregator) Decimals(ctx context.Context) (uint8, error) {
	out, err := fa.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// Description returns the on-chain label of the aggregator, e.g. "ETH / USD".
func (fa *FluxAggregator) Description(ctx context.Context) (string, error) {
	out, err := fa.call(ctx, "description")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// MinSubmissionValue returns the smallest submission the contract accepts.
func (fa *FluxAggregator) MinSubmissionValue(ctx context.Context) (*big.Int, error) {
	out, err := fa.call(ctx, "minSubmissionValue")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// MaxSubmissionValue returns the largest submission the contract accepts.
func (fa *FluxAggregator) MaxSubmissionValue(ctx context.Context) (*big.Int, error) {
	out, err := fa.call(ctx, "maxSubmissionValue")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// LatestRoundData returns the most recent accepted round. The contract
// reverts with "No data present" before the first round completes; callers
// treat that as an empty contract, not a failure.
func (fa *FluxAggregator) LatestRoundData(ctx context.Context) (RoundData, error) {
	out, err := fa.call(ctx, "latestRoundData")
	if err != nil {
		return RoundData{}, err
	}
	return RoundData{
		RoundID:         *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Answer:          *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		StartedAt:       *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		UpdatedAt:       *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		AnsweredInRound: *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
	}, nil
}

// OracleRoundState reports whether the given oracle may submit and to which
// round. The queried round id is pinned to zero so the contract picks the
// round it wants a submission for.
func (fa *FluxAggregator) OracleRoundState(ctx context.Context, oracle common.Address) (RoundState, error) {
	out, err := fa.call(ctx, "oracleRoundState", oracle, uint32(0))
	if err != nil {
		return RoundState{}, err
	}
	return RoundState{
		EligibleToSubmit: *abi.ConvertType(out[0], new(bool)).(*bool),
		RoundID:          *abi.ConvertType(out[1], new(uint32)).(*uint32),
		LatestSubmission: *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		StartedAt:        *abi.ConvertType(out[3], new(uint64)).(*uint64),
		Timeout:          *abi.ConvertType(out[4], new(uint64)).(*uint64),
		AvailableFunds:   *abi.ConvertType(out[5], new(*big.Int)).(**big.Int),
		OracleCount:      *abi.ConvertType(out[6], new(uint8)).(*uint8),
		PaymentAmount:    *abi.ConvertType(out[7], new(*big.Int)).(**big.Int),
	}, nil
}

// SubmitCalldata encodes submit(roundId, submission) for the transaction
// executor. Encoding happens here so the executor stays contract-agnostic.
func (fa *FluxAggregator) SubmitCalldata(roundID, submission *big.Int) ([]byte, error) {
	payload, err := fluxAggregatorABI.Pack("submit", roundID, submission)
	return payload, errors.Wrap(err, "abi.Pack failed")
}
