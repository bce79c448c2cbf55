package quota

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// drain spends all whole bytes currently allowed, as a saturated sender would.
func drain(a *Accumulator) int {
	n := a.Allowed()
	a.Spend(n)
	return n
}

func TestAccumulatorExactTenTicks(t *testing.T) {
	acc, err := New(800, 8, 100*time.Millisecond, 2)
	require.NoError(t, err)
	require.Equal(t, int64(10*One), acc.PerTick())

	delivered := 0
	for i := 0; i < 10; i++ {
		acc.Replenish()
		delivered += drain(&acc)
	}
	require.Equal(t, 100, delivered)
	require.Zero(t, acc.Credit())
}

func TestAccumulatorCarriesFraction(t *testing.T) {
	cases := []struct {
		rate  int64
		tick  time.Duration
		ticks int
	}{
		{rate: 333, tick: 10 * time.Millisecond, ticks: 1000},
		{rate: 300, tick: 10 * time.Millisecond, ticks: 997},
		{rate: 9600, tick: 7 * time.Millisecond, ticks: 5000},
		{rate: 115200, tick: 10 * time.Millisecond, ticks: 1234},
		{rate: 1, tick: time.Second, ticks: 64},
	}

	for _, tc := range cases {
		acc, err := New(tc.rate, 8, tc.tick, 2)
		require.NoError(t, err)

		delivered := 0
		for i := 0; i < tc.ticks; i++ {
			acc.Replenish()
			delivered += drain(&acc)
		}

		expected := float64(tc.ticks) * float64(tc.rate) * tc.tick.Seconds() / 8
		require.LessOrEqual(t, float64(delivered), expected, "rate %d", tc.rate)
		require.Greater(t, float64(delivered), expected-1, "rate %d", tc.rate)
	}
}

func TestAccumulatorFramingBits(t *testing.T) {
	// 9600 baud 8N1 is 960 characters per second.
	acc, err := New(9600, 10, 100*time.Millisecond, 2)
	require.NoError(t, err)

	delivered := 0
	for i := 0; i < 10; i++ {
		acc.Replenish()
		delivered += drain(&acc)
	}
	require.Equal(t, 960, delivered)
}

func TestAccumulatorBurstLimit(t *testing.T) {
	acc, err := New(800, 8, 100*time.Millisecond, 2)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		acc.Replenish()
	}
	require.Equal(t, acc.Limit(), acc.Credit())
	require.Equal(t, int64(2*(10*One+1)+One), acc.Limit())
	require.Equal(t, 21, acc.Allowed())
}

func TestAccumulatorSpendNeverNegative(t *testing.T) {
	acc, err := New(800, 8, 100*time.Millisecond, 2)
	require.NoError(t, err)

	acc.Replenish()
	acc.Spend(50)
	require.Zero(t, acc.Credit())
	require.Zero(t, acc.Allowed())
}

func TestAccumulatorReset(t *testing.T) {
	acc, err := New(333, 8, 10*time.Millisecond, 2)
	require.NoError(t, err)

	acc.Replenish()
	acc.Replenish()
	require.Positive(t, acc.Credit())

	acc.Reset()
	require.Zero(t, acc.Credit())
}

func TestAccumulatorDisabled(t *testing.T) {
	acc, err := New(0, 8, 10*time.Millisecond, 2)
	require.NoError(t, err)
	require.False(t, acc.Enabled())
	require.Zero(t, acc.Replenish())
	require.Zero(t, acc.Allowed())

	var zero Accumulator
	require.False(t, zero.Enabled())
}

func TestAccumulatorInvalidRates(t *testing.T) {
	cases := []struct {
		name string
		rate int64
		bpc  int
		tick time.Duration
	}{
		{"negative", -1, 8, 10 * time.Millisecond},
		{"too slow", 1, 8, time.Millisecond},
		{"overflow", math.MaxInt64, 8, time.Second},
		{"bad framing", 9600, 3, 10 * time.Millisecond},
		{"bad tick", 9600, 8, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.rate, tc.bpc, tc.tick, 2)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidRate))
		})
	}
}
