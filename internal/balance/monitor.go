// Package balance keeps the wallet_balance_wei gauge fresh: one task reads
// every signer balance once a minute so operators can alert on a draining
// wallet before feeds start failing.
package balance

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
	"github.com/ijonas/omikuji/internal/utils"
)

// Reader reads an account balance on a named network. *eth.Registry
// implements it.
type Reader interface {
	Balance(ctx context.Context, network string, account common.Address) (*big.Int, error)
}

const defaultInterval = 60 * time.Second

// Monitor polls the signer balance of every configured network.
type Monitor struct {
	utils.StartStopOnce
	logger   *logger.Logger
	reader   Reader
	accounts map[string]common.Address

	pollTicker utils.PausableTicker
	chStop     chan struct{}
	waitOnStop chan struct{}
}

// NewMonitor takes the signer address per network, resolved by the
// supervisor at startup.
func NewMonitor(lggr *logger.Logger, reader Reader, accounts map[string]common.Address) *Monitor {
	return &Monitor{
		logger:     lggr.Named("BalanceMonitor"),
		reader:     reader,
		accounts:   accounts,
		pollTicker: utils.NewPausableTicker(defaultInterval),
		chStop:     make(chan struct{}),
		waitOnStop: make(chan struct{}),
	}
}

func (m *Monitor) Start() error {
	return m.StartOnce("BalanceMonitor", func() error {
		go m.consume()
		return nil
	})
}

func (m *Monitor) Close() error {
	return m.StopOnce("BalanceMonitor", func() error {
		close(m.chStop)
		<-m.waitOnStop
		return nil
	})
}

func (m *Monitor) consume() {
	defer close(m.waitOnStop)

	ctx, cancel := utils.ContextFromChan(m.chStop)
	defer cancel()

	m.logger.Infow("Starting balance monitor", "networks", len(m.accounts), "interval", defaultInterval)
	m.pollTicker.Resume()
	defer m.pollTicker.Destroy()

	m.poll(ctx)

	for {
		select {
		case <-m.chStop:
			return
		case <-m.pollTicker.Ticks():
			m.poll(ctx)
		}
	}
}

// poll reads every network once. A network that cannot be read is logged
// and left at its previous gauge value.
func (m *Monitor) poll(ctx context.Context) {
	for network, account := range m.accounts {
		bal, err := m.reader.Balance(ctx, network, account)
		if err != nil {
			m.logger.Warnw("Reading wallet balance failed", "network", network, "address", account.Hex(), "error", err)
			continue
		}
		wei, _ := new(big.Float).SetInt(bal).Float64()
		monitoring.SetWalletBalance(network, account.Hex(), wei)
		m.logger.Debugw("Wallet balance", "network", network, "address", account.Hex(), "wei", bal.String())
	}
}
