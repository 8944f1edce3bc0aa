package feed

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gock "gopkg.in/h2non/gock.v1"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/eth"
	"github.com/ijonas/omikuji/internal/logger"
)

type fakeClientSource struct {
	t         *testing.T
	client    eth.Client
	getErr    error
	signerErr error
}

func (f *fakeClientSource) Get(network string) (eth.Client, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.client, nil
}

func (f *fakeClientSource) NewSigner(ctx context.Context, network string) (*eth.Signer, error) {
	if f.signerErr != nil {
		return nil, f.signerErr
	}
	key, err := crypto.GenerateKey()
	require.NoError(f.t, err)
	return eth.NewSigner(f.client, big.NewInt(31337), key), nil
}

func newTestManager(t *testing.T, datafeeds []config.Datafeed, src ClientSource, sink SampleSink) *Manager {
	t.Helper()
	cfg := &config.Config{Datafeeds: datafeeds}
	return NewManager(logger.CreateTestLogger(), cfg, src, &fakeSubmitter{}, sink)
}

func TestBuildMonitor_ResolvesContractConfig(t *testing.T) {
	client := newFakeClient(t)
	client.respondTo("decimals", uint8(6))
	client.respondTo("minSubmissionValue", big.NewInt(1000000))
	client.respondTo("maxSubmissionValue", big.NewInt(1000000000000))
	client.respondTo("description", "BTC / USD")

	df := testDatafeed(t)
	df.ReadContractConfig = true
	df.Decimals = nil
	df.MinValue = nil
	df.MaxValue = nil

	m := newTestManager(t, []config.Datafeed{df}, &fakeClientSource{t: t, client: client}, nil)
	mon, err := m.buildMonitor(context.Background(), df)
	require.NoError(t, err)

	assert.Equal(t, uint8(6), mon.decimals, "on-chain decimals override the default")
	require.NotNil(t, mon.bounds.Min)
	require.NotNil(t, mon.bounds.Max)
	assert.Equal(t, "1000000", mon.bounds.Min.String())
	assert.Equal(t, "1000000000000", mon.bounds.Max.String())
	assert.Len(t, client.calls, 4)
}

func TestBuildMonitor_UsesConfiguredValuesWhenNotReading(t *testing.T) {
	client := newFakeClient(t)

	df := testDatafeed(t)
	m := newTestManager(t, []config.Datafeed{df}, &fakeClientSource{t: t, client: client}, nil)

	mon, err := m.buildMonitor(context.Background(), df)
	require.NoError(t, err)

	assert.Empty(t, client.calls, "nothing is read on chain without read_contract_config")
	assert.Equal(t, uint8(8), mon.decimals)
	assert.Equal(t, "1000000000000", mon.bounds.Max.String())
}

func TestBuildMonitor_ContractReadFailure(t *testing.T) {
	client := newFakeClient(t)
	client.errOn("decimals", errors.New("no contract code at given address"))

	df := testDatafeed(t)
	df.ReadContractConfig = true

	m := newTestManager(t, []config.Datafeed{df}, &fakeClientSource{t: t, client: client}, nil)
	_, err := m.buildMonitor(context.Background(), df)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading decimals")
}

func TestBuildMonitor_SignerResolutionFailure(t *testing.T) {
	src := &fakeClientSource{t: t, client: newFakeClient(t), signerErr: errors.New("no key for network")}
	df := testDatafeed(t)

	m := newTestManager(t, []config.Datafeed{df}, src, nil)
	_, err := m.buildMonitor(context.Background(), df)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving signer address")
}

func TestBuildMonitor_UnknownNetwork(t *testing.T) {
	src := &fakeClientSource{t: t, getErr: errors.New(`no configured network "goerli"`)}
	df := testDatafeed(t)
	df.Networks = "goerli"

	m := newTestManager(t, []config.Datafeed{df}, src, nil)
	_, err := m.buildMonitor(context.Background(), df)
	require.Error(t, err)
}

func TestManager_StartSkipsBrokenFeeds(t *testing.T) {
	RegisterTestingT(t)
	defer gock.Off()
	gock.New("https://api.example.com").
		Get("/v2/price").
		Persist().
		Reply(200).
		JSON(`{"data":{"price":100.1}}`)

	now := time.Now().Unix()
	client := newFakeClient(t)
	client.respondLatestRound(41, 10000000000, now-10)
	client.errOn("decimals", errors.New("no contract code at given address"))

	broken := testDatafeed(t)
	broken.Name = "btc_usd"
	broken.ReadContractConfig = true
	broken.Decimals = nil
	good := testDatafeed(t)

	sink := &captureSink{}
	src := &fakeClientSource{t: t, client: client}
	m := newTestManager(t, []config.Datafeed{broken, good}, src, sink)

	require.NoError(t, m.Start(), "one broken feed must not take the daemon down")
	require.Len(t, m.monitors, 1)

	Eventually(func() int { return len(sink.records()) }, "2s", "50ms").Should(BeNumerically(">=", 1))
	assert.Equal(t, "eth_usd", sink.records()[0].FeedName)

	require.NoError(t, m.Close())
}
