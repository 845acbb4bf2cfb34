package price

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/duration-fi/durationd/internal/domain"
)

var testAsset = common.HexToAddress("0x4200000000000000000000000000000000000006")

type fakeTier struct {
	name  string
	price *big.Int
	err   error
	calls int
}

func (f *fakeTier) Name() string { return f.name }

func (f *fakeTier) Spot(_ context.Context, _ common.Address) (*big.Int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.price, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChainReturnsFirstUsablePrice(t *testing.T) {
	first := &fakeTier{name: "a", err: errors.New("down")}
	second := &fakeTier{name: "b", price: big.NewInt(300_000_000_000)}
	third := &fakeTier{name: "c", price: big.NewInt(1)}

	c := NewChain(discard(), first, second, third)
	p, err := c.Spot(context.Background(), testAsset)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(300_000_000_000), p)
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, second.calls)
	require.Zero(t, third.calls)
}

func TestChainSkipsZeroAndNilPrices(t *testing.T) {
	zero := &fakeTier{name: "zero", price: big.NewInt(0)}
	nilTier := &fakeTier{name: "nil"}
	live := &fakeTier{name: "live", price: big.NewInt(42)}

	c := NewChain(discard(), zero, nilTier, live)
	p, err := c.Spot(context.Background(), testAsset)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), p)
}

func TestChainFailsWhenAllTiersDecline(t *testing.T) {
	c := NewChain(discard(),
		&fakeTier{name: "a", err: errors.New("down")},
		&fakeTier{name: "b", price: big.NewInt(0)},
	)
	_, err := c.Spot(context.Background(), testAsset)
	require.ErrorIs(t, err, domain.ErrInvalidPrice)
}

type fakePriceCache struct {
	prices  map[string]*big.Int
	times   map[string]time.Time
	sets    int
	setFail error
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{
		prices: make(map[string]*big.Int),
		times:  make(map[string]time.Time),
	}
}

func (f *fakePriceCache) SetPrice(_ context.Context, asset string, p *big.Int, ts time.Time) error {
	f.sets++
	if f.setFail != nil {
		return f.setFail
	}
	f.prices[asset] = new(big.Int).Set(p)
	f.times[asset] = ts
	return nil
}

func (f *fakePriceCache) GetPrice(_ context.Context, asset string) (*big.Int, time.Time, error) {
	p, ok := f.prices[asset]
	if !ok {
		return nil, time.Time{}, errors.New("cache miss")
	}
	return new(big.Int).Set(p), f.times[asset], nil
}

func TestChainWarmsCacheTierAfterLiveAnswer(t *testing.T) {
	cache := newFakePriceCache()
	live := &fakeTier{name: "oracle", price: big.NewInt(300_000_000_000)}
	c := NewChain(discard(), NewCached(cache, time.Minute), live)

	p, err := c.Spot(context.Background(), testAsset)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(300_000_000_000), p)
	require.Equal(t, 1, live.calls)
	require.Equal(t, 1, cache.sets)

	// The second lookup is served by the warmed cache tier.
	again, err := c.Spot(context.Background(), testAsset)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(300_000_000_000), again)
	require.Equal(t, 1, live.calls)
}

func TestChainWarmFailureDoesNotFailLookup(t *testing.T) {
	cache := newFakePriceCache()
	cache.setFail = errors.New("redis down")
	live := &fakeTier{name: "oracle", price: big.NewInt(42)}
	c := NewChain(discard(), NewCached(cache, time.Minute), live)

	p, err := c.Spot(context.Background(), testAsset)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), p)
	require.Equal(t, 1, cache.sets)
}

func TestStaticRequiresExplicitEnable(t *testing.T) {
	_, err := NewStatic(map[common.Address]*big.Int{}, false)
	require.Error(t, err)
}

func TestStaticServesConfiguredPrices(t *testing.T) {
	s, err := NewStatic(map[common.Address]*big.Int{
		testAsset: big.NewInt(300_000_000_000),
	}, true)
	require.NoError(t, err)

	p, err := s.Spot(context.Background(), testAsset)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(300_000_000_000), p)

	_, err = s.Spot(context.Background(), common.HexToAddress("0xdead"))
	require.Error(t, err)

	// Returned values are copies.
	p.SetInt64(0)
	again, err := s.Spot(context.Background(), testAsset)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(300_000_000_000), again)

	s.Set(testAsset, big.NewInt(5))
	updated, err := s.Spot(context.Background(), testAsset)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), updated)
}
