package crypto

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/duration-fi/durationd/internal/domain"
)

const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func testDomain() Domain {
	return Domain{
		Name:              "Duration.Finance",
		Version:           "1",
		ChainID:           8453,
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000D7"),
	}
}

func testCommitment(creator common.Address) domain.Commitment {
	return domain.Commitment{
		Creator:          creator,
		Asset:            common.HexToAddress("0x4200000000000000000000000000000000000006"),
		Amount:           big.NewInt(1e18),
		DailyPremiumRate: big.NewInt(50_000_000),
		MinLockDays:      1,
		MaxDurationDays:  30,
		OptionType:       domain.OptionTypeCall,
		CommitmentType:   domain.CommitmentTypeOffer,
		Expiry:           time.Unix(1_700_000_000, 0).Add(time.Hour).Unix(),
		Nonce:            42,
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s, err := NewSigner(testKey, testDomain())
	require.NoError(t, err)

	c := testCommitment(s.Address())
	sig, err := s.SignCommitment(c)
	require.NoError(t, err)
	c.Signature = sig

	signer, err := Verify(testDomain(), c)
	require.NoError(t, err)
	require.Equal(t, s.Address(), signer)
}

func TestVerifyRejectsMutatedFields(t *testing.T) {
	s, err := NewSigner(testKey, testDomain())
	require.NoError(t, err)

	c := testCommitment(s.Address())
	sig, err := s.SignCommitment(c)
	require.NoError(t, err)
	c.Signature = sig

	mutations := map[string]func(*domain.Commitment){
		"amount":   func(c *domain.Commitment) { c.Amount = big.NewInt(2e18) },
		"nonce":    func(c *domain.Commitment) { c.Nonce = 43 },
		"expiry":   func(c *domain.Commitment) { c.Expiry++ },
		"type":     func(c *domain.Commitment) { c.OptionType = domain.OptionTypePut },
		"polarity": func(c *domain.Commitment) { c.CommitmentType = domain.CommitmentTypeDemand },
	}
	for name, mut := range mutations {
		t.Run(name, func(t *testing.T) {
			mutated := c
			mut(&mutated)
			_, err := Verify(testDomain(), mutated)
			require.ErrorIs(t, err, domain.ErrInvalidSignature)
		})
	}
}

func TestVerifyRejectsWrongDomain(t *testing.T) {
	s, err := NewSigner(testKey, testDomain())
	require.NoError(t, err)

	c := testCommitment(s.Address())
	sig, err := s.SignCommitment(c)
	require.NoError(t, err)
	c.Signature = sig

	other := testDomain()
	other.ChainID = 1
	_, err = Verify(other, c)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyRejectsMalformedSignatures(t *testing.T) {
	c := testCommitment(common.HexToAddress("0x01"))

	for name, sig := range map[string]string{
		"not hex":       "0xzz",
		"too short":     "0x1234",
		"bad recovery":  "0x" + repeatHex("11", 64) + "05",
		"empty":         "",
		"truncated hex": "0x" + repeatHex("11", 64),
	} {
		t.Run(name, func(t *testing.T) {
			c.Signature = sig
			_, err := Verify(testDomain(), c)
			require.ErrorIs(t, err, domain.ErrInvalidSignature)
		})
	}
}

func TestCommitmentTypeStringMatchesModelWidths(t *testing.T) {
	// The declared widths must match the Go field types; a uint32 field
	// advertised as uint16 would make external signers disagree with us.
	require.Contains(t, commitmentTypeString, "uint32 minLockDays")
	require.Contains(t, commitmentTypeString, "uint32 maxDurationDays")
	require.NotContains(t, commitmentTypeString, "uint16")
}

func TestCommitmentHashIsDeterministic(t *testing.T) {
	a := testCommitment(common.HexToAddress("0x01"))
	b := testCommitment(common.HexToAddress("0x01"))
	require.Equal(t, CommitmentHash(a), CommitmentHash(b))

	b.Nonce++
	require.NotEqual(t, CommitmentHash(a), CommitmentHash(b))
}

func TestCommitmentHashTreatsNilFieldsAsZero(t *testing.T) {
	a := testCommitment(common.HexToAddress("0x01"))
	a.TargetPrice = nil
	b := testCommitment(common.HexToAddress("0x01"))
	b.TargetPrice = big.NewInt(0)
	require.Equal(t, CommitmentHash(a), CommitmentHash(b))
}

func repeatHex(pair string, n int) string {
	out := ""
	for range n {
		out += pair
	}
	return out
}
