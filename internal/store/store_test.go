package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ijonas/omikuji/internal/feed"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/txmgr"
)

func newQueueOnlyStore(t *testing.T, depth int) *Store {
	t.Helper()
	// A bare gorm handle is enough for the queueing paths; nothing here
	// reaches the database.
	return &Store{
		logger:     logger.CreateTestLogger(),
		db:         &gorm.DB{},
		queue:      make(chan writeOp, depth),
		chStop:     make(chan struct{}),
		waitOnStop: make(chan struct{}),
	}
}

func TestOpen_WithoutDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	s, err := Open(logger.CreateTestLogger())
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	// Sinks accept and drop without a database behind them.
	s.SaveSample(feed.SampleRecord{FeedName: "eth_usd", NetworkName: "base-sepolia", Value: 101.0})
	s.SaveTransaction(txmgr.Record{TxHash: "0x1111", Network: "base-sepolia", Status: "success"})
	assert.Len(t, s.queue, 0)

	require.NoError(t, s.Start())
	require.NoError(t, s.Close())
	require.Error(t, s.Start(), "a closed store does not restart")
}

func TestSaveSample_Queues(t *testing.T) {
	s := newQueueOnlyStore(t, 4)

	s.SaveSample(feed.SampleRecord{FeedName: "eth_usd", NetworkName: "base-sepolia", Value: 101.0, HTTPStatus: 503})

	require.Len(t, s.queue, 1)
	op := <-s.queue
	require.NotNil(t, op.sample)
	assert.Nil(t, op.tx)
	assert.Nil(t, op.gas)
	assert.Equal(t, "eth_usd", op.sample.FeedName)
	require.NotNil(t, op.sample.ErrorStatusCode)
	assert.Equal(t, int32(503), *op.sample.ErrorStatusCode)
}

func TestSaveTransaction_QueuesPairedGasRow(t *testing.T) {
	s := newQueueOnlyStore(t, 4)

	s.SaveTransaction(txmgr.Record{
		TxHash:       "0x2222222222222222222222222222222222222222222222222222222222222222",
		FeedName:     "eth_usd",
		Network:      "base-sepolia",
		GasPriceGwei: 12.5,
		Status:       "success",
	})

	require.Len(t, s.queue, 1, "transaction and gas rows share one op")
	op := <-s.queue
	assert.Nil(t, op.sample)
	require.NotNil(t, op.tx)
	require.NotNil(t, op.gas)
	assert.Equal(t, "0x2222222222222222222222222222222222222222222222222222222222222222", op.tx.TxHash)
	assert.Equal(t, "base-sepolia", op.gas.NetworkName)
	assert.Equal(t, 12.5, op.gas.GasPriceGwei)
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	s := newQueueOnlyStore(t, 1)

	s.SaveSample(feed.SampleRecord{FeedName: "eth_usd", NetworkName: "base-sepolia"})
	s.SaveSample(feed.SampleRecord{FeedName: "btc_usd", NetworkName: "base-sepolia"})

	require.Len(t, s.queue, 1, "second record is dropped, not blocked on")
	op := <-s.queue
	assert.Equal(t, "eth_usd", op.sample.FeedName)
}

func TestSkipMigrations(t *testing.T) {
	t.Setenv("SKIP_MIGRATIONS", "")
	assert.False(t, skipMigrations())

	t.Setenv("SKIP_MIGRATIONS", "true")
	assert.True(t, skipMigrations())

	t.Setenv("SKIP_MIGRATIONS", "1")
	assert.True(t, skipMigrations())

	t.Setenv("SKIP_MIGRATIONS", "false")
	assert.False(t, skipMigrations())

	t.Setenv("SKIP_MIGRATIONS", "yes")
	assert.False(t, skipMigrations(), "unparseable values do not skip")
}
