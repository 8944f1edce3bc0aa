package store

import (
	"time"

	"github.com/ijonas/omikuji/internal/feed"
	"github.com/ijonas/omikuji/internal/txmgr"
)

// FeedLog is one poll of one feed: the value the source reported, or how the
// fetch failed. Rows are append-only and trimmed by the retention sweep.
type FeedLog struct {
	ID              int64  `gorm:"primary_key"`
	FeedName        string `gorm:"not null;index:idx_feed_log_feed_network_created"`
	NetworkName     string `gorm:"not null;index:idx_feed_log_feed_network_created"`
	FeedValue       float64
	FeedTimestamp   int64
	ErrorStatusCode *int32
	NetworkError    bool
	CreatedAt       time.Time `gorm:"index:idx_feed_log_feed_network_created"`
}

func (FeedLog) TableName() string {
	return "feed_log"
}

// TransactionLog is the terminal record of one submission. tx_hash is unique;
// a confirmation that lands after an earlier attempt was recorded replaces
// that row.
type TransactionLog struct {
	ID                       int64  `gorm:"primary_key"`
	TxHash                   string `gorm:"not null;unique"`
	FeedName                 string `gorm:"not null"`
	NetworkName              string `gorm:"not null"`
	GasLimit                 int64
	GasUsed                  int64
	GasPriceGwei             float64
	TotalCostWei             string `gorm:"type:numeric"`
	EfficiencyPercent        float64
	TxType                   string
	Status                   string
	BlockNumber              int64
	MaxFeePerGasGwei         *float64
	MaxPriorityFeePerGasGwei *float64
	ErrorMessage             *string
	CreatedAt                time.Time
}

func (TransactionLog) TableName() string {
	return "transaction_log"
}

// GasPriceLog is one observed effective gas price, appended whenever a
// transaction record lands.
type GasPriceLog struct {
	ID           int64  `gorm:"primary_key"`
	NetworkName  string `gorm:"not null;index"`
	GasPriceGwei float64
	TxHash       *string
	CreatedAt    time.Time
}

func (GasPriceLog) TableName() string {
	return "gas_price_log"
}

func newFeedLog(rec feed.SampleRecord) FeedLog {
	row := FeedLog{
		FeedName:      rec.FeedName,
		NetworkName:   rec.NetworkName,
		FeedValue:     rec.Value,
		FeedTimestamp: rec.FeedTimestamp,
		NetworkError:  rec.NetworkError,
		CreatedAt:     rec.CreatedAt,
	}
	if rec.HTTPStatus != 0 {
		code := int32(rec.HTTPStatus)
		row.ErrorStatusCode = &code
	}
	return row
}

func newTransactionLog(rec txmgr.Record) TransactionLog {
	row := TransactionLog{
		TxHash:                   rec.TxHash,
		FeedName:                 rec.FeedName,
		NetworkName:              rec.Network,
		GasLimit:                 int64(rec.GasLimit),
		GasUsed:                  int64(rec.GasUsed),
		GasPriceGwei:             rec.GasPriceGwei,
		TotalCostWei:             "0",
		EfficiencyPercent:        rec.EfficiencyPercent,
		TxType:                   rec.TxType,
		Status:                   rec.Status,
		BlockNumber:              int64(rec.BlockNumber),
		MaxFeePerGasGwei:         rec.MaxFeeGwei,
		MaxPriorityFeePerGasGwei: rec.PriorityFeeGwei,
		CreatedAt:                rec.CreatedAt,
	}
	if rec.TotalCostWei != nil {
		row.TotalCostWei = rec.TotalCostWei.String()
	}
	if rec.ErrorMessage != "" {
		msg := rec.ErrorMessage
		row.ErrorMessage = &msg
	}
	return row
}

func newGasPriceLog(rec txmgr.Record) GasPriceLog {
	row := GasPriceLog{
		NetworkName:  rec.Network,
		GasPriceGwei: rec.GasPriceGwei,
		CreatedAt:    rec.CreatedAt,
	}
	if rec.TxHash != "" {
		hash := rec.TxHash
		row.TxHash = &hash
	}
	return row
}
