package store

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ijonas/omikuji/internal/feed"
	"github.com/ijonas/omikuji/internal/txmgr"
)

func TestNewFeedLog(t *testing.T) {
	now := time.Now()
	row := newFeedLog(feed.SampleRecord{
		FeedName:      "eth_usd",
		NetworkName:   "base-sepolia",
		Value:         2557.96,
		FeedTimestamp: 1700000000,
		CreatedAt:     now,
	})

	assert.Equal(t, "eth_usd", row.FeedName)
	assert.Equal(t, "base-sepolia", row.NetworkName)
	assert.Equal(t, 2557.96, row.FeedValue)
	assert.Equal(t, int64(1700000000), row.FeedTimestamp)
	assert.Nil(t, row.ErrorStatusCode)
	assert.False(t, row.NetworkError)
	assert.Equal(t, now, row.CreatedAt)
}

func TestNewFeedLog_FailedFetch(t *testing.T) {
	row := newFeedLog(feed.SampleRecord{
		FeedName:    "eth_usd",
		NetworkName: "base-sepolia",
		HTTPStatus:  503,
	})

	require.NotNil(t, row.ErrorStatusCode)
	assert.Equal(t, int32(503), *row.ErrorStatusCode)

	row = newFeedLog(feed.SampleRecord{
		FeedName:     "eth_usd",
		NetworkName:  "base-sepolia",
		NetworkError: true,
	})

	assert.Nil(t, row.ErrorStatusCode)
	assert.True(t, row.NetworkError)
}

func TestNewTransactionLog(t *testing.T) {
	now := time.Now()
	maxFee := 30.0
	prioFee := 1.5
	row := newTransactionLog(txmgr.Record{
		TxHash:            "0x1111111111111111111111111111111111111111111111111111111111111111",
		FeedName:          "eth_usd",
		Network:           "base-sepolia",
		GasLimit:          210000,
		GasUsed:           180000,
		GasPriceGwei:      12.5,
		TotalCostWei:      big.NewInt(2250000000000000),
		EfficiencyPercent: 85.71,
		TxType:            "eip1559",
		Status:            "success",
		BlockNumber:       123456,
		MaxFeeGwei:        &maxFee,
		PriorityFeeGwei:   &prioFee,
		CreatedAt:         now,
	})

	assert.Equal(t, "0x1111111111111111111111111111111111111111111111111111111111111111", row.TxHash)
	assert.Equal(t, "eth_usd", row.FeedName)
	assert.Equal(t, "base-sepolia", row.NetworkName)
	assert.Equal(t, int64(210000), row.GasLimit)
	assert.Equal(t, int64(180000), row.GasUsed)
	assert.Equal(t, "2250000000000000", row.TotalCostWei)
	assert.Equal(t, 85.71, row.EfficiencyPercent)
	assert.Equal(t, "eip1559", row.TxType)
	assert.Equal(t, "success", row.Status)
	assert.Equal(t, int64(123456), row.BlockNumber)
	require.NotNil(t, row.MaxFeePerGasGwei)
	assert.Equal(t, 30.0, *row.MaxFeePerGasGwei)
	require.NotNil(t, row.MaxPriorityFeePerGasGwei)
	assert.Equal(t, 1.5, *row.MaxPriorityFeePerGasGwei)
	assert.Nil(t, row.ErrorMessage)
	assert.Equal(t, now, row.CreatedAt)
}

func TestNewTransactionLog_FailureFields(t *testing.T) {
	row := newTransactionLog(txmgr.Record{
		TxHash:       "0x2222222222222222222222222222222222222222222222222222222222222222",
		Network:      "base-sepolia",
		Status:       "error",
		ErrorMessage: "insufficient funds for gas",
	})

	assert.Equal(t, "0", row.TotalCostWei, "nil cost stores as zero")
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, "insufficient funds for gas", *row.ErrorMessage)
	assert.Nil(t, row.MaxFeePerGasGwei)
	assert.Nil(t, row.MaxPriorityFeePerGasGwei)
}

func TestNewGasPriceLog(t *testing.T) {
	row := newGasPriceLog(txmgr.Record{
		TxHash:       "0x3333333333333333333333333333333333333333333333333333333333333333",
		Network:      "base-sepolia",
		GasPriceGwei: 12.5,
	})

	assert.Equal(t, "base-sepolia", row.NetworkName)
	assert.Equal(t, 12.5, row.GasPriceGwei)
	require.NotNil(t, row.TxHash)
	assert.Equal(t, "0x3333333333333333333333333333333333333333333333333333333333333333", *row.TxHash)

	row = newGasPriceLog(txmgr.Record{Network: "base-sepolia", GasPriceGwei: 9.0})
	assert.Nil(t, row.TxHash)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "feed_log", FeedLog{}.TableName())
	assert.Equal(t, "transaction_log", TransactionLog{}.TableName())
	assert.Equal(t, "gas_price_log", GasPriceLog{}.TableName())
}
