package businessflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeightedMedianEmpty(t *testing.T) {
	assert.Nil(t, WeightedMedian(nil))
	assert.Nil(t, WeightedMedian([]WeightedPrediction{}))
}

func TestWeightedMedianSingle(t *testing.T) {
	// A single prediction wins even with zero weight
	d := day(2045, 6, 1)
	median := WeightedMedian([]WeightedPrediction{{Date: d, Weight: 0}})

	require.NotNil(t, median)
	assert.True(t, median.Equal(d))
}

func TestWeightedMedian(t *testing.T) {
	d1 := day(2030, 1, 1)
	d2 := day(2032, 6, 15)
	d3 := day(2060, 1, 1)
	d4 := day(2090, 12, 31)

	tests := []struct {
		name        string
		predictions []WeightedPrediction
		expected    time.Time
	}{
		{
			name: "equal weights pick the middle",
			predictions: []WeightedPrediction{
				{Date: d1, Weight: 1.0},
				{Date: d2, Weight: 1.0},
				{Date: d3, Weight: 1.0},
			},
			expected: d2,
		},
		{
			name: "heavy early prediction drags the median down",
			predictions: []WeightedPrediction{
				{Date: d1, Weight: 5.0},
				{Date: d2, Weight: 1.0},
				{Date: d3, Weight: 1.0},
			},
			expected: d1,
		},
		{
			name: "near-term tier outweighs far and extreme",
			predictions: []WeightedPrediction{
				{Date: d1, Weight: 1.0},
				{Date: d3, Weight: 0.3},
				{Date: d4, Weight: 0.1},
			},
			expected: d1,
		},
		{
			name: "cumulative weight landing exactly on half resolves low",
			predictions: []WeightedPrediction{
				{Date: d1, Weight: 1.0},
				{Date: d2, Weight: 1.0},
			},
			expected: d1,
		},
		{
			name: "even count with equal weights resolves to the lower middle",
			predictions: []WeightedPrediction{
				{Date: d1, Weight: 0.5},
				{Date: d2, Weight: 0.5},
				{Date: d3, Weight: 0.5},
				{Date: d4, Weight: 0.5},
			},
			expected: d2,
		},
		{
			name: "zero total weight falls back to the unweighted median",
			predictions: []WeightedPrediction{
				{Date: d1, Weight: 0},
				{Date: d2, Weight: 0},
				{Date: d3, Weight: 0},
				{Date: d4, Weight: 0},
			},
			expected: d2,
		},
		{
			name: "input order does not matter",
			predictions: []WeightedPrediction{
				{Date: d3, Weight: 1.0},
				{Date: d1, Weight: 1.0},
				{Date: d2, Weight: 1.0},
			},
			expected: d2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			median := WeightedMedian(tt.predictions)

			require.NotNil(t, median)
			assert.True(t, median.Equal(tt.expected), "expected %s, got %s", tt.expected, median)
		})
	}
}

func TestWeightedMedianReturnsObservedDate(t *testing.T) {
	// The median is never interpolated between dates
	d1 := day(2030, 1, 1)
	d2 := day(2090, 1, 1)

	median := WeightedMedian([]WeightedPrediction{
		{Date: d1, Weight: 1.0},
		{Date: d2, Weight: 1.0},
	})

	require.NotNil(t, median)
	assert.True(t, median.Equal(d1) || median.Equal(d2))
}

func TestComputeStats(t *testing.T) {
	d1 := day(2030, 1, 1)
	d2 := day(2032, 6, 15)
	d3 := day(2060, 1, 1)

	stats := ComputeStats([]WeightedPrediction{
		{Date: d2, Weight: 1.0},
		{Date: d3, Weight: 0.3},
		{Date: d1, Weight: 1.0},
	})

	assert.Equal(t, 3, stats.Count)
	require.NotNil(t, stats.Median)
	assert.True(t, stats.Median.Equal(d2))
	assert.True(t, stats.Min.Equal(d1))
	assert.True(t, stats.Max.Equal(d3))
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := ComputeStats(nil)

	assert.Equal(t, 0, stats.Count)
	assert.Nil(t, stats.Median)
	assert.True(t, stats.Min.IsZero())
	assert.True(t, stats.Max.IsZero())
}
