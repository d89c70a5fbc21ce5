package price

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingOracle records how many times the upstream was hit.
type countingOracle struct {
	calls atomic.Int64
	price float64
	err   error
}

func (o *countingOracle) GetPrice(ctx context.Context, symbol string) (float64, error) {
	o.calls.Add(1)
	if o.err != nil {
		return 0, o.err
	}
	return o.price, nil
}

func TestCachedOracle_ServesFromCache(t *testing.T) {
	upstream := &countingOracle{price: 42.0}
	cached := NewCachedOracle(upstream, time.Minute)

	for range 5 {
		price, err := cached.GetPrice(context.Background(), "btc")
		require.NoError(t, err)
		assert.Equal(t, 42.0, price)
	}
	assert.Equal(t, int64(1), upstream.calls.Load())
}

func TestCachedOracle_ExpiresEntries(t *testing.T) {
	upstream := &countingOracle{price: 42.0}
	cached := NewCachedOracle(upstream, time.Minute)

	now := time.Now()
	cached.now = func() time.Time { return now }

	_, err := cached.GetPrice(context.Background(), "btc")
	require.NoError(t, err)

	// Advance past the TTL; the next read must refetch.
	now = now.Add(2 * time.Minute)
	_, err = cached.GetPrice(context.Background(), "btc")
	require.NoError(t, err)

	assert.Equal(t, int64(2), upstream.calls.Load())
}

func TestCachedOracle_DoesNotCacheErrors(t *testing.T) {
	upstream := &countingOracle{err: ErrPriceUnavailable}
	cached := NewCachedOracle(upstream, time.Minute)

	_, err := cached.GetPrice(context.Background(), "btc")
	require.ErrorIs(t, err, ErrPriceUnavailable)

	upstream.err = nil
	upstream.price = 7.0
	price, err := cached.GetPrice(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, 7.0, price)
}

func TestCachedOracle_ZeroTTLDisablesCache(t *testing.T) {
	upstream := &countingOracle{price: 1.0}
	cached := NewCachedOracle(upstream, 0)

	for range 3 {
		_, err := cached.GetPrice(context.Background(), "btc")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), upstream.calls.Load())
}

func TestCachedOracle_SymbolsAreIndependent(t *testing.T) {
	upstream := &countingOracle{price: 1.0}
	cached := NewCachedOracle(upstream, time.Minute)

	_, err := cached.GetPrice(context.Background(), "btc")
	require.NoError(t, err)
	_, err = cached.GetPrice(context.Background(), "ton")
	require.NoError(t, err)

	assert.Equal(t, int64(2), upstream.calls.Load())
}
