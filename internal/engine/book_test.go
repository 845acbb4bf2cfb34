package engine

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/duration-fi/durationd/internal/domain"
)

func testBook() *Book {
	return NewBook(map[common.Address]AssetLimits{
		testWETH: {
			Info:    domain.AssetInfo{Address: testWETH, Symbol: "WETH", Decimals: 18},
			MinSize: big.NewInt(1e15),
			MaxSize: big.NewInt(1e18),
		},
	})
}

func validOffer(now time.Time) domain.Commitment {
	return domain.Commitment{
		Creator:          common.HexToAddress("0x01"),
		Asset:            testWETH,
		Amount:           big.NewInt(1e16),
		DailyPremiumRate: big.NewInt(50_000_000),
		MinLockDays:      1,
		MaxDurationDays:  30,
		OptionType:       domain.OptionTypeCall,
		CommitmentType:   domain.CommitmentTypeOffer,
		Expiry:           now.Add(time.Hour).Unix(),
		Nonce:            1,
		Hash:             common.HexToHash("0xabc1"),
	}
}

func TestBookValidate(t *testing.T) {
	b := testBook()
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, b.Validate(validOffer(now), now))

	cases := []struct {
		name string
		mut  func(*domain.Commitment)
		want error
	}{
		{"unknown asset", func(c *domain.Commitment) {
			c.Asset = common.HexToAddress("0xdead")
		}, domain.ErrAssetNotAllowed},
		{"amount below min", func(c *domain.Commitment) {
			c.Amount = big.NewInt(1e14)
		}, domain.ErrInvalidAmount},
		{"amount above max", func(c *domain.Commitment) {
			c.Amount = big.NewInt(2e18)
		}, domain.ErrInvalidAmount},
		{"nil amount", func(c *domain.Commitment) {
			c.Amount = nil
		}, domain.ErrInvalidAmount},
		{"zero min lock", func(c *domain.Commitment) {
			c.MinLockDays = 0
		}, domain.ErrInvalidDuration},
		{"inverted duration bounds", func(c *domain.Commitment) {
			c.MinLockDays = 10
			c.MaxDurationDays = 5
		}, domain.ErrInvalidDuration},
		{"already expired", func(c *domain.Commitment) {
			c.Expiry = now.Unix()
		}, domain.ErrCommitmentExpired},
		{"offer without rate", func(c *domain.Commitment) {
			c.DailyPremiumRate = nil
		}, domain.ErrInvalidCommitment},
		{"offer with flat premium", func(c *domain.Commitment) {
			c.PremiumOffered = big.NewInt(100)
		}, domain.ErrInvalidCommitment},
		{"demand without flat premium", func(c *domain.Commitment) {
			c.CommitmentType = domain.CommitmentTypeDemand
		}, domain.ErrInvalidCommitment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validOffer(now)
			tc.mut(&c)
			require.ErrorIs(t, b.Validate(c, now), tc.want)
		})
	}
}

func TestBookValidateDemand(t *testing.T) {
	b := testBook()
	now := time.Unix(1_700_000_000, 0)

	c := validOffer(now)
	c.CommitmentType = domain.CommitmentTypeDemand
	c.DailyPremiumRate = nil
	c.PremiumOffered = big.NewInt(200_000_000)
	require.NoError(t, b.Validate(c, now))
}

func TestBookStoreGetRemove(t *testing.T) {
	b := testBook()
	now := time.Unix(1_700_000_000, 0)
	c := validOffer(now)

	hash, err := b.Store(c, now)
	require.NoError(t, err)
	require.Equal(t, c.Hash, hash)
	require.Equal(t, 1, b.Len())

	_, err = b.Store(c, now)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := b.Get(c.Hash)
	require.NoError(t, err)
	require.Equal(t, c.Creator, got.Creator)

	require.NoError(t, b.Remove(c.Hash))
	require.ErrorIs(t, b.Remove(c.Hash), domain.ErrNotFound)
	_, err = b.Get(c.Hash)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookRestoreSkipsValidation(t *testing.T) {
	b := testBook()
	now := time.Unix(1_700_000_000, 0)

	// An entry that would fail Validate today still restores: it was valid
	// when indexed and the sweep will drop it.
	c := validOffer(now)
	c.Expiry = now.Add(-time.Minute).Unix()
	b.Restore(c)
	require.Equal(t, 1, b.Len())
}

func TestBookSweepDropsExpired(t *testing.T) {
	b := testBook()
	now := time.Unix(1_700_000_000, 0)

	live := validOffer(now)
	stale := validOffer(now)
	stale.Nonce = 2
	stale.Hash = common.HexToHash("0xabc2")
	stale.Expiry = now.Add(time.Minute).Unix()

	_, err := b.Store(live, now)
	require.NoError(t, err)
	_, err = b.Store(stale, now)
	require.NoError(t, err)

	dropped := b.Sweep(now.Add(30 * time.Minute))
	require.Equal(t, []common.Hash{stale.Hash}, dropped)
	require.Equal(t, 1, b.Len())
}
