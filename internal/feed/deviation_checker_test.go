package feed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ijonas/omikuji/internal/logger"
)

func TestDeviationPercent(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		next     string
		expected string
	}{
		{"increase", "100", "110", "10"},
		{"decrease", "100", "90", "10"},
		{"half again", "100", "150", "50"},
		{"negative current", "-100", "-110", "10"},
		{"sign flip", "100", "-100", "200"},
		{"small move", "1000", "1001", "0.1"},
		{"no change", "100", "100", "0"},
		{"zero current", "0", "42", "0"},
		{"zero both", "0", "0", "0"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cur := decimal.RequireFromString(test.current)
			next := decimal.RequireFromString(test.next)
			expected := decimal.RequireFromString(test.expected)
			assert.True(t, expected.Equal(DeviationPercent(cur, next)))
		})
	}
}

func TestOutsideDeviation(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		current   string
		next      string
		outside   bool
	}{
		{"above threshold", 0.5, "100", "101", true},
		{"below threshold", 0.5, "100", "100.1", false},
		{"exactly at threshold", 0.5, "100", "100.5", true},
		{"just under threshold", 0.5, "100", "100.4999", false},
		{"zero threshold always fires", 0, "100", "100", true},
		{"wide threshold", 100, "100", "300", true},
		{"wide threshold not met", 100, "100", "150", false},
		{"zero contract value never fires on deviation", 0.5, "0", "9000", false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			checker := NewDeviationChecker(logger.CreateTestLogger(), test.threshold)
			cur := decimal.RequireFromString(test.current)
			next := decimal.RequireFromString(test.next)
			_, outside := checker.OutsideDeviation(cur, next)
			assert.Equal(t, test.outside, outside)
		})
	}
}
