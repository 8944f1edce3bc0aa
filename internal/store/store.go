// Package store persists feed samples, transaction records, and observed gas
// prices to Postgres. Persistence is optional: with no DATABASE_URL the store
// runs degraded, accepting and dropping writes, and the rest of the daemon
// behaves exactly the same.
package store

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ijonas/omikuji/internal/feed"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
	"github.com/ijonas/omikuji/internal/txmgr"
	"github.com/ijonas/omikuji/internal/utils"
)

const (
	maxOpenConns = 10
	maxIdleConns = 2

	queueDepth   = 1000
	writeTimeout = 10 * time.Second
)

var _ feed.SampleSink = &Store{}
var _ txmgr.RecordSink = &Store{}

// writeOp is one queued insert. A transaction record and its gas price
// observation travel together so a full queue never splits the pair.
type writeOp struct {
	sample *FeedLog
	tx     *TransactionLog
	gas    *GasPriceLog
}

// Store owns the write path to Postgres. Monitors and the executor hand it
// rows through a buffered queue and a single writer goroutine applies them,
// so the hot path never waits on the database.
type Store struct {
	utils.StartStopOnce
	logger *logger.Logger
	db     *gorm.DB

	queue      chan writeOp
	chStop     chan struct{}
	waitOnStop chan struct{}
}

// Open connects using the DATABASE_URL environment variable and migrates the
// schema. An unset DATABASE_URL is not an error: the store comes back in
// degraded mode and every write is a no-op. A DSN that cannot be reached or
// migrated is fatal.
func Open(lggr *logger.Logger) (*Store, error) {
	s := &Store{
		logger:     lggr.Named("Store"),
		queue:      make(chan writeOp, queueDepth),
		chStop:     make(chan struct{}),
		waitOnStop: make(chan struct{}),
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		s.logger.Warnw("DATABASE_URL is not set, running without persistence")
		monitoring.SetDegradedMode("store", true)
		return s, nil
	}

	db, err := openDB(s.logger, dsn)
	if err != nil {
		return nil, err
	}
	if skipMigrations() {
		s.logger.Infow("SKIP_MIGRATIONS is set, not migrating the schema")
	} else if err := db.AutoMigrate(&FeedLog{}, &TransactionLog{}, &GasPriceLog{}); err != nil {
		return nil, errors.Wrap(err, "migrating schema")
	}

	s.db = db
	monitoring.SetDegradedMode("store", false)
	s.logger.Infow("Connected to Postgres")
	return s, nil
}

func openDB(lggr *logger.Logger, dsn string) (*gorm.DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres")
	}
	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{
		Conn: d,
		DSN:  dsn,
	}), &gorm.Config{Logger: newGormLogWrapper(lggr, false, time.Second)})
	if err != nil {
		return nil, errors.Wrap(err, "opening gorm")
	}
	if err := db.Exec(`SET TIME ZONE 'UTC'`).Error; err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(maxOpenConns)
	d.SetMaxIdleConns(maxIdleConns)
	return db, nil
}

func skipMigrations() bool {
	skip, _ := strconv.ParseBool(os.Getenv("SKIP_MIGRATIONS"))
	return skip
}

// Enabled reports whether a database is behind the store.
func (s *Store) Enabled() bool {
	return s.db != nil
}

func (s *Store) Start() error {
	return s.StartOnce("Store", func() error {
		go s.runWriter()
		return nil
	})
}

// Close drains whatever is still queued, then releases the connection pool.
func (s *Store) Close() error {
	return s.StopOnce("Store", func() error {
		close(s.chStop)
		<-s.waitOnStop
		if s.db == nil {
			return nil
		}
		d, err := s.db.DB()
		if err != nil {
			return err
		}
		return d.Close()
	})
}

// SaveSample queues one feed-log row. It never blocks: when the writer cannot
// keep up the row is dropped and counted.
func (s *Store) SaveSample(rec feed.SampleRecord) {
	row := newFeedLog(rec)
	s.enqueue(writeOp{sample: &row})
}

// SaveTransaction queues the transaction row together with its gas price
// observation. It never blocks.
func (s *Store) SaveTransaction(rec txmgr.Record) {
	tx := newTransactionLog(rec)
	gas := newGasPriceLog(rec)
	s.enqueue(writeOp{tx: &tx, gas: &gas})
}

func (s *Store) enqueue(op writeOp) {
	if s.db == nil {
		return
	}
	select {
	case s.queue <- op:
	default:
		s.logger.Warnw("Write queue is full, dropping record")
		monitoring.IncCriticalError("store")
	}
}

func (s *Store) runWriter() {
	defer close(s.waitOnStop)

	for {
		select {
		case op := <-s.queue:
			s.apply(op)
		case <-s.chStop:
			// Flush what producers managed to queue before shutdown.
			for {
				select {
				case op := <-s.queue:
					s.apply(op)
				default:
					return
				}
			}
		}
	}
}

// apply writes one op. A failed insert loses the row and nothing else; the
// tables may legitimately be absent when migrations were skipped.
func (s *Store) apply(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if op.sample != nil {
		if err := s.db.WithContext(ctx).Create(op.sample).Error; err != nil {
			s.writeFailed("feed_log", err)
		}
	}
	if op.tx != nil {
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			UpdateAll: true,
		}).Create(op.tx).Error
		if err != nil {
			s.writeFailed("transaction_log", err)
		}
	}
	if op.gas != nil {
		if err := s.db.WithContext(ctx).Create(op.gas).Error; err != nil {
			s.writeFailed("gas_price_log", err)
		}
	}
}

func (s *Store) writeFailed(table string, err error) {
	s.logger.Errorw("Database write failed", "table", table, "error", err)
	monitoring.IncCriticalError("store")
}

// DeleteOlderThan removes feed_log and transaction_log rows for one feed that
// predate the cutoff. It returns the number of rows removed across both
// tables.
func (s *Store) DeleteOlderThan(ctx context.Context, feedName, network string, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, nil
	}

	var total int64
	res := s.db.WithContext(ctx).
		Where("feed_name = ? AND network_name = ? AND created_at < ?", feedName, network, cutoff).
		Delete(&FeedLog{})
	if res.Error != nil {
		return total, errors.Wrap(res.Error, "feed_log")
	}
	total += res.RowsAffected

	res = s.db.WithContext(ctx).
		Where("feed_name = ? AND network_name = ? AND created_at < ?", feedName, network, cutoff).
		Delete(&TransactionLog{})
	if res.Error != nil {
		return total, errors.Wrap(res.Error, "transaction_log")
	}
	total += res.RowsAffected

	return total, nil
}
