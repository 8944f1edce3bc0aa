package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ijonas/omikuji/internal/logger"
)

var _ gormlogger.Interface = &gormLogWrapper{}

// gormLogWrapper routes gorm's internal logging through the process logger.
// Record-not-found is suppressed; callers handle that themselves.
type gormLogWrapper struct {
	*zap.SugaredLogger
	logAllQueries bool
	slowThreshold time.Duration
}

func newGormLogWrapper(lggr *logger.Logger, logAllQueries bool, slowThreshold time.Duration) *gormLogWrapper {
	skipped := lggr.SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(2)).Sugar()
	return &gormLogWrapper{skipped, logAllQueries, slowThreshold}
}

func (o *gormLogWrapper) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return o
}

func (o *gormLogWrapper) Info(ctx context.Context, s string, i ...interface{}) {
	o.SugaredLogger.Infow(fmt.Sprintf(s, i...))
}

func (o *gormLogWrapper) Warn(ctx context.Context, s string, i ...interface{}) {
	o.SugaredLogger.Warnw(fmt.Sprintf(s, i...))
}

func (o *gormLogWrapper) Error(ctx context.Context, s string, i ...interface{}) {
	o.SugaredLogger.Errorw(fmt.Sprintf(s, i...))
}

func (o *gormLogWrapper) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	elapsedMs := float64(elapsed.Nanoseconds()) / 1e6
	switch {
	case ctx.Err() != nil:
		sql, _ := fc()
		o.SugaredLogger.Debugw("Query cancelled via context", "err", err, "elapsedMs", elapsedMs, "sql", sql)
	case err != nil:
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return
		}
		sql, rows := fc()
		o.SugaredLogger.Debugw("Query failed", "err", err, "elapsedMs", elapsedMs, "rows", rows, "sql", sql)
	case o.slowThreshold != 0 && elapsed > o.slowThreshold:
		sql, rows := fc()
		o.SugaredLogger.Warnw(fmt.Sprintf("SQL query took longer than %s", o.slowThreshold), "elapsedMs", elapsedMs, "rows", rows, "sql", sql)
	case o.logAllQueries:
		sql, rows := fc()
		o.SugaredLogger.Debugw("Query executed", "elapsedMs", elapsedMs, "rows", rows, "sql", sql)
	}
}
