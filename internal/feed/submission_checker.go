package feed

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ScaleSubmission converts a float sample to the aggregator's fixed-point
// representation: round(value × 10^decimals), half away from zero.
func ScaleSubmission(value float64, decimals uint8) *big.Int {
	return decimal.NewFromFloat(value).Shift(int32(decimals)).Round(0).BigInt()
}

// DescaleAnswer converts an on-chain answer back into source units.
func DescaleAnswer(answer *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(answer, -int32(decimals))
}

// SubmissionChecker validates scaled submissions against the range the
// aggregator accepts. A nil bound is unbounded.
type SubmissionChecker struct {
	Min *big.Int
	Max *big.Int
}

func NewSubmissionChecker(min, max *big.Int) *SubmissionChecker {
	return &SubmissionChecker{Min: min, Max: max}
}

func (c *SubmissionChecker) IsValid(submission *big.Int) bool {
	if c.Min != nil && submission.Cmp(c.Min) < 0 {
		return false
	}
	if c.Max != nil && submission.Cmp(c.Max) > 0 {
		return false
	}
	return true
}
