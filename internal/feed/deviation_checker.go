package feed

import (
	"github.com/shopspring/decimal"

	"github.com/ijonas/omikuji/internal/logger"
)

var hundred = decimal.NewFromInt(100)

// DeviationPercent returns 100×|next−cur|/|cur|. A zero current answer
// yields zero deviation; the time trigger covers contracts with no data yet.
func DeviationPercent(cur, next decimal.Decimal) decimal.Decimal {
	if cur.IsZero() {
		return decimal.Zero
	}
	return next.Sub(cur).Abs().Div(cur.Abs()).Mul(hundred)
}

// DeviationChecker decides whether a fresh sample has drifted far enough
// from the on-chain answer to be worth paying for an update.
type DeviationChecker struct {
	Threshold decimal.Decimal
	logger    *logger.Logger
}

// NewDeviationChecker builds a checker for the given threshold in percent.
// A zero threshold makes every poll eligible for a deviation update.
func NewDeviationChecker(lggr *logger.Logger, thresholdPct float64) *DeviationChecker {
	return &DeviationChecker{
		Threshold: decimal.NewFromFloat(thresholdPct),
		logger:    lggr,
	}
}

// OutsideDeviation reports whether next deviates from cur by at least the
// threshold, along with the deviation itself in percent.
func (c *DeviationChecker) OutsideDeviation(cur, next decimal.Decimal) (decimal.Decimal, bool) {
	deviation := DeviationPercent(cur, next)
	loggerFields := []interface{}{
		"threshold", c.Threshold,
		"currentAnswer", cur,
		"nextAnswer", next,
		"deviation", deviation,
	}
	if deviation.LessThan(c.Threshold) {
		c.logger.Debugw("Deviation threshold not met", loggerFields...)
		return deviation, false
	}
	c.logger.Debugw("Deviation threshold met", loggerFields...)
	return deviation, true
}
