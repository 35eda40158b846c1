package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	n int
}

func (s fixedSource) Intn(int) int { return s.n }

func TestComputeDeterministic(t *testing.T) {
	// Intn(10) returning 4 means a 5 percent draw.
	e := NewEngine(fixedSource{n: 4})

	draw := e.Compute(0, 0, 1000)
	require.Equal(t, 5, draw.Percent)
	require.Equal(t, int64(50), draw.Coins)
}

func TestComputeFloorsCoins(t *testing.T) {
	e := NewEngine(fixedSource{n: 2}) // 3 percent

	draw := e.Compute(0, 0, 105)
	assert.Equal(t, 3, draw.Percent)
	assert.Equal(t, int64(3), draw.Coins) // floor(105*3/100)
}

func TestComputeBounds(t *testing.T) {
	e := New()
	for i := 0; i < 1000; i++ {
		draw := e.Compute(0, 0, 500)
		require.GreaterOrEqual(t, draw.Percent, MinPercent)
		require.LessOrEqual(t, draw.Percent, MaxPercent)
		require.GreaterOrEqual(t, draw.Coins, int64(5))
		require.LessOrEqual(t, draw.Coins, int64(50))
	}
}

func TestComputeIgnoresCapAndCommission(t *testing.T) {
	// The reward range stays 1-10 percent regardless of the merchant's
	// configured cap or commission rate.
	e := NewEngine(fixedSource{n: 9}) // 10 percent

	unbounded := e.Compute(0, 0, 1000)
	capped := e.Compute(1, 5000, 1000)

	assert.Equal(t, unbounded, capped)
	assert.Equal(t, int64(100), capped.Coins)
}

func TestComputeZeroAmount(t *testing.T) {
	e := NewEngine(fixedSource{n: 0})

	draw := e.Compute(0, 0, 0)
	assert.Zero(t, draw.Percent)
	assert.Zero(t, draw.Coins)
}
