package feed

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/contracts"
	"github.com/ijonas/omikuji/internal/eth"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
	"github.com/ijonas/omikuji/internal/utils"
)

// ClientSource hands out per-network read clients and signers.
// *eth.Registry implements it.
type ClientSource interface {
	Get(network string) (eth.Client, error)
	NewSigner(ctx context.Context, network string) (*eth.Signer, error)
}

// Manager resolves per-feed contract configuration and runs one Monitor per
// configured datafeed. A feed whose startup resolution fails is skipped; the
// rest keep running.
type Manager struct {
	utils.StartStopOnce
	logger   *logger.Logger
	cfg      *config.Config
	clients  ClientSource
	executor Submitter
	sink     SampleSink
	fetcher  *Fetcher

	monitors []*Monitor
}

func NewManager(lggr *logger.Logger, cfg *config.Config, clients ClientSource, executor Submitter, sink SampleSink) *Manager {
	return &Manager{
		logger:   lggr.Named("FeedManager"),
		cfg:      cfg,
		clients:  clients,
		executor: executor,
		sink:     sink,
		fetcher:  NewFetcher(),
	}
}

// Start resolves contract configuration where requested and spawns the
// monitors.
func (m *Manager) Start() error {
	return m.StartOnce("FeedManager", func() error {
		ctx := context.Background()
		m.logger.Infow("Starting feed manager", "datafeeds", len(m.cfg.Datafeeds))

		for _, df := range m.cfg.Datafeeds {
			mon, err := m.buildMonitor(ctx, df)
			if err != nil {
				m.logger.Errorw("Skipping datafeed", "feed", df.Name, "error", err)
				monitoring.IncCriticalError("feed_monitor")
				continue
			}
			m.monitors = append(m.monitors, mon)
		}

		for _, mon := range m.monitors {
			if err := mon.Start(); err != nil {
				return err
			}
		}

		monitoring.SetActiveDatafeeds(float64(len(m.monitors)))
		m.logger.Infow("Feed manager initialization complete", "running", len(m.monitors))
		return nil
	})
}

// Close stops every monitor and waits for each to drain.
func (m *Manager) Close() error {
	return m.StopOnce("FeedManager", func() error {
		var err error
		for _, mon := range m.monitors {
			err = multierr.Append(err, mon.Close())
		}
		monitoring.SetActiveDatafeeds(0)
		return err
	})
}

// buildMonitor assembles the per-feed pieces: the read client, the signer
// address the contract is queried with, and the aggregator gateway.
func (m *Manager) buildMonitor(ctx context.Context, df config.Datafeed) (*Monitor, error) {
	client, err := m.clients.Get(df.Networks)
	if err != nil {
		return nil, err
	}

	signer, err := m.clients.NewSigner(ctx, df.Networks)
	if err != nil {
		return nil, errors.Wrap(err, "resolving signer address")
	}
	signerAddr := signer.Address()

	aggregator := contracts.NewFluxAggregator(m.logger, client, df.Networks, common.HexToAddress(df.ContractAddress))

	source := "config.yaml values"
	if df.ReadContractConfig {
		if err := m.resolveContractConfig(ctx, &df, aggregator); err != nil {
			return nil, err
		}
		source = "contract config"
	}
	m.logger.Infow("Datafeed configuration resolved",
		"feed", df.Name,
		"source", source,
		"signer", signerAddr.Hex(),
		"decimals", decimalsOrDefault(df.Decimals),
		"minValue", boundString(df.MinValue),
		"maxValue", boundString(df.MaxValue),
	)

	return NewMonitor(m.logger, df, aggregator, m.fetcher, m.executor, m.sink, signerAddr), nil
}

// resolveContractConfig overwrites decimals and submission bounds with the
// values the contract reports. Runs once, before the monitor exists.
func (m *Manager) resolveContractConfig(ctx context.Context, df *config.Datafeed, aggregator *contracts.FluxAggregator) error {
	decimals, err := aggregator.Decimals(ctx)
	if err != nil {
		return errors.Wrap(err, "reading decimals")
	}
	minValue, err := aggregator.MinSubmissionValue(ctx)
	if err != nil {
		return errors.Wrap(err, "reading minSubmissionValue")
	}
	maxValue, err := aggregator.MaxSubmissionValue(ctx)
	if err != nil {
		return errors.Wrap(err, "reading maxSubmissionValue")
	}
	if desc, derr := aggregator.Description(ctx); derr == nil {
		m.logger.Infow("Aggregator description", "feed", df.Name, "description", desc)
	}

	var min, max config.BigInt
	min.Int.Set(minValue)
	max.Int.Set(maxValue)
	df.Decimals = &decimals
	df.MinValue = &min
	df.MaxValue = &max
	return nil
}

func boundString(b *config.BigInt) string {
	if b == nil {
		return "unbounded"
	}
	return b.String()
}
