package contracts_test

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ijonas/omikuji/internal/contracts"
	"github.com/ijonas/omikuji/internal/eth"
	"github.com/ijonas/omikuji/internal/logger"
)

var (
	fluxABI     = contracts.MustGetABI(contracts.FluxAggregatorABI)
	aggAddr     = common.HexToAddress("0x1D9b291e76a07e2469CcC4ee614556978fb86f52")
	oracleAddr  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testContext = context.Background()
)

// fakeClient serves canned eth_call responses keyed by 4-byte selector.
// Anything beyond CallContract panics, which is what we want in these tests.
type fakeClient struct {
	eth.Client
	t         *testing.T
	responses map[string][]byte
	calls     []ethereum.CallMsg
}

func (f *fakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	require.GreaterOrEqual(f.t, len(msg.Data), 4)
	resp, ok := f.responses[hex.EncodeToString(msg.Data[:4])]
	require.True(f.t, ok, "unexpected selector %x", msg.Data[:4])
	return resp, nil
}

func (f *fakeClient) respondTo(method string, values ...interface{}) {
	out, err := fluxABI.Methods[method].Outputs.Pack(values...)
	require.NoError(f.t, err)
	f.responses[hex.EncodeToString(fluxABI.Methods[method].ID)] = out
}

func newFakeAggregator(t *testing.T) (*contracts.FluxAggregator, *fakeClient) {
	client := &fakeClient{t: t, responses: map[string][]byte{}}
	fa := contracts.NewFluxAggregator(logger.CreateTestLogger(), client, "base-sepolia", aggAddr)
	return fa, client
}

func TestFluxAggregator_Decimals(t *testing.T) {
	fa, client := newFakeAggregator(t)

	// Raw wire word rather than a packed value, to pin the decoding.
	client.responses["313ce567"] = common.FromHex(
		"0x0000000000000000000000000000000000000000000000000000000000000008")

	decimals, err := fa.Decimals(testContext)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), decimals)

	require.Len(t, client.calls, 1)
	assert.Equal(t, aggAddr, *client.calls[0].To)
}

func TestFluxAggregator_SubmissionBounds(t *testing.T) {
	fa, client := newFakeAggregator(t)
	client.respondTo("minSubmissionValue", big.NewInt(100000000))
	client.respondTo("maxSubmissionValue", new(big.Int).Mul(big.NewInt(1e9), big.NewInt(1e8)))

	minSub, err := fa.MinSubmissionValue(testContext)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100000000), minSub)

	maxSub, err := fa.MaxSubmissionValue(testContext)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000", maxSub.String())
}

func TestFluxAggregator_Description(t *testing.T) {
	fa, client := newFakeAggregator(t)
	client.respondTo("description", "ETH / USD")

	desc, err := fa.Description(testContext)
	require.NoError(t, err)
	assert.Equal(t, "ETH / USD", desc)
}

func TestFluxAggregator_LatestRoundData(t *testing.T) {
	fa, client := newFakeAggregator(t)
	client.respondTo("latestRoundData",
		big.NewInt(42),                // roundId
		big.NewInt(312452000000),      // answer, 3124.52 at 8 decimals
		big.NewInt(1735689600),        // startedAt
		big.NewInt(1735689660),        // updatedAt
		big.NewInt(42),                // answeredInRound
	)

	round, err := fa.LatestRoundData(testContext)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), round.RoundID)
	assert.Equal(t, big.NewInt(312452000000), round.Answer)
	assert.Equal(t, big.NewInt(1735689600), round.StartedAt)
	assert.Equal(t, big.NewInt(1735689660), round.UpdatedAt)
	assert.Equal(t, big.NewInt(42), round.AnsweredInRound)

	// latestRoundData selector is pinned so a wire change cannot sneak by.
	require.Len(t, client.calls, 1)
	assert.Equal(t, common.FromHex("0xfeaf968c"), client.calls[0].Data)
}

func TestFluxAggregator_OracleRoundState(t *testing.T) {
	fa, client := newFakeAggregator(t)
	client.respondTo("oracleRoundState",
		true,                     // eligibleToSubmit
		uint32(43),               // roundId
		big.NewInt(312450000000), // latestSubmission
		uint64(1735689600),       // startedAt
		uint64(300),              // timeout
		big.NewInt(5000000),      // availableFunds
		uint8(7),                 // oracleCount
		big.NewInt(250000),       // paymentAmount
	)

	state, err := fa.OracleRoundState(testContext, oracleAddr)
	require.NoError(t, err)
	assert.True(t, state.EligibleToSubmit)
	assert.Equal(t, uint32(43), state.RoundID)
	assert.Equal(t, big.NewInt(312450000000), state.LatestSubmission)
	assert.Equal(t, uint64(300), state.Timeout)
	assert.Equal(t, uint8(7), state.OracleCount)
	assert.Equal(t, big.NewInt(250000), state.PaymentAmount)

	// The request must carry the oracle address and a zero queried round id.
	require.Len(t, client.calls, 1)
	data := client.calls[0].Data
	require.Len(t, data, 4+64)
	assert.Equal(t, fluxABI.Methods["oracleRoundState"].ID, data[:4])
	assert.Equal(t, oracleAddr.Bytes(), data[16:36])
	assert.Equal(t, make([]byte, 32), data[36:])
}

func TestFluxAggregator_SubmitCalldata(t *testing.T) {
	fa := contracts.NewFluxAggregator(logger.CreateTestLogger(), nil, "base-sepolia", aggAddr)

	payload, err := fa.SubmitCalldata(big.NewInt(43), big.NewInt(312452000000))
	require.NoError(t, err)

	require.Len(t, payload, 4+64)
	assert.Equal(t, common.FromHex("0x202ee0ed"), payload[:4])
	assert.Equal(t, big.NewInt(43), new(big.Int).SetBytes(payload[4:36]))
	assert.Equal(t, big.NewInt(312452000000), new(big.Int).SetBytes(payload[36:68]))
}

func TestFluxAggregator_SubmitCalldata_NegativeSubmission(t *testing.T) {
	fa := contracts.NewFluxAggregator(logger.CreateTestLogger(), nil, "base-sepolia", aggAddr)

	payload, err := fa.SubmitCalldata(big.NewInt(1), big.NewInt(-1))
	require.NoError(t, err)

	// int256(-1) is all ones in two's complement.
	for _, b := range payload[36:68] {
		assert.Equal(t, byte(0xff), b)
	}
}
