package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentage(t *testing.T) {
	tests := []struct {
		amount int64
		bps    int64
		want   int64
	}{
		{1000, 1500, 150}, // 15%
		{1000, 0, 0},
		{100, 10000, 100}, // 100%
		{333, 1000, 33},   // 33.3 rounds down
		{335, 1000, 34},   // 33.5 rounds up
		{1, 50, 0},        // 0.005 rounds down
		{1, 5000, 1},      // 0.5 rounds up
	}

	for _, tt := range tests {
		got := New(tt.amount, INR).Percentage(tt.bps)
		assert.Equal(t, tt.want, got.AmountMinor, "amount=%d bps=%d", tt.amount, tt.bps)
		assert.Equal(t, INR, got.Currency)
	}
}

func TestAddSubCurrencyMismatch(t *testing.T) {
	_, err := New(100, INR).Add(New(50, USD))
	require.Error(t, err)

	_, err = New(100, INR).Sub(New(50, USD))
	require.Error(t, err)

	sum, err := New(100, INR).Add(New(50, INR))
	require.NoError(t, err)
	assert.Equal(t, int64(150), sum.AmountMinor)
}

func TestCompare(t *testing.T) {
	a := New(100, INR)
	b := New(200, INR)

	cmp, err := a.Compare(b)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	assert.True(t, a.LessThan(b))
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(New(100, INR)))

	_, err = a.Compare(New(100, USD))
	require.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	m := New(1250, INR)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m, back)
}

func TestBpsConversion(t *testing.T) {
	assert.Equal(t, int64(1500), PercentToBps(15))
	assert.Equal(t, int64(15), BpsToPercent(1500))
}
