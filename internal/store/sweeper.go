package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/utils"
)

// Sweeper trims feed_log and transaction_log on the database_cleanup
// schedule, applying each feed's data_retention_days. One pass never aborts
// on a failing feed.
type Sweeper struct {
	utils.StartStopOnce
	logger *logger.Logger
	cfg    *config.Config
	store  *Store

	cronTicker utils.CronTicker
	chStop     chan struct{}
	waitOnStop chan struct{}
	running    bool
}

// NewSweeper wires the sweeper. The config must have been through Load, which
// validates the cleanup schedule and defaults every feed's retention window.
func NewSweeper(lggr *logger.Logger, cfg *config.Config, store *Store) (*Sweeper, error) {
	ticker, err := utils.NewCronTicker(cfg.DatabaseCleanup.Schedule)
	if err != nil {
		return nil, errors.Wrap(err, "cleanup schedule")
	}
	return &Sweeper{
		logger:     lggr.Named("RetentionSweeper"),
		cfg:        cfg,
		store:      store,
		cronTicker: ticker,
		chStop:     make(chan struct{}),
		waitOnStop: make(chan struct{}),
	}, nil
}

// Start spawns the sweep loop. Disabled cleanup and a store without a
// database both leave the sweeper idle.
func (s *Sweeper) Start() error {
	return s.StartOnce("RetentionSweeper", func() error {
		if !*s.cfg.DatabaseCleanup.Enabled {
			s.logger.Infow("Database cleanup is disabled in configuration")
			return nil
		}
		if !s.store.Enabled() {
			s.logger.Infow("No database configured, retention sweep idle")
			return nil
		}
		s.running = true
		go s.consume()
		return nil
	})
}

func (s *Sweeper) Close() error {
	return s.StopOnce("RetentionSweeper", func() error {
		if !s.running {
			return nil
		}
		close(s.chStop)
		<-s.waitOnStop
		return nil
	})
}

func (s *Sweeper) consume() {
	defer close(s.waitOnStop)

	ctx, cancel := utils.ContextFromChan(s.chStop)
	defer cancel()

	s.logger.Infow("Starting retention sweep", "schedule", s.cfg.DatabaseCleanup.Schedule)
	s.cronTicker.Start()
	defer s.cronTicker.Stop()

	for {
		select {
		case <-s.chStop:
			return
		case <-s.cronTicker.Ticks():
			s.sweep(ctx)
		}
	}
}

// sweep runs one pass over every configured feed.
func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	var total int64
	var swept int
	for _, df := range s.cfg.Datafeeds {
		days := *df.DataRetentionDays
		cutoff := start.AddDate(0, 0, -int(days))

		deleted, err := s.store.DeleteOlderThan(ctx, df.Name, df.Networks, cutoff)
		if err != nil {
			s.logger.Errorw("Cleaning up feed failed", "feed", df.Name, "network", df.Networks, "error", err)
			continue
		}
		if deleted > 0 {
			s.logger.Debugw("Deleted old records", "feed", df.Name, "network", df.Networks, "deleted", deleted, "retentionDays", days)
		}
		total += deleted
		swept++
	}

	if total > 0 {
		s.logger.Infow("Retention sweep completed", "deleted", total, "feeds", swept, "elapsed", time.Since(start))
	} else {
		s.logger.Debugw("Retention sweep completed, nothing to delete", "feeds", swept, "elapsed", time.Since(start))
	}
}
