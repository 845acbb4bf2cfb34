package engine

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/duration-fi/durationd/internal/domain"
)

func TestNonceConsumeIsOncePerCreator(t *testing.T) {
	r := NewNonceRegistry()
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")
	expiry := time.Now().Add(time.Hour).Unix()

	require.NoError(t, r.Consume(alice, 1, expiry))
	require.True(t, r.Used(alice, 1))
	require.ErrorIs(t, r.Consume(alice, 1, expiry), domain.ErrNonceUsed)

	// Nonces are scoped per creator.
	require.False(t, r.Used(bob, 1))
	require.NoError(t, r.Consume(bob, 1, expiry))
}

func TestNonceOutOfOrderConsumption(t *testing.T) {
	r := NewNonceRegistry()
	alice := common.HexToAddress("0x01")
	expiry := time.Now().Add(time.Hour).Unix()

	// Set-based: any order works.
	require.NoError(t, r.Consume(alice, 9, expiry))
	require.NoError(t, r.Consume(alice, 3, expiry))
	require.NoError(t, r.Consume(alice, 7, expiry))
	require.True(t, r.Used(alice, 3))
	require.False(t, r.Used(alice, 4))
}

func TestNonceReleaseRollsBack(t *testing.T) {
	r := NewNonceRegistry()
	alice := common.HexToAddress("0x01")
	expiry := time.Now().Add(time.Hour).Unix()

	require.NoError(t, r.Consume(alice, 5, expiry))
	r.Release(alice, 5)
	require.False(t, r.Used(alice, 5))
	require.NoError(t, r.Consume(alice, 5, expiry))
}

func TestNonceSweepDropsExpiredEntries(t *testing.T) {
	r := NewNonceRegistry()
	alice := common.HexToAddress("0x01")
	now := time.Now()

	require.NoError(t, r.Consume(alice, 1, now.Add(-time.Minute).Unix()))
	require.NoError(t, r.Consume(alice, 2, now.Add(time.Hour).Unix()))

	require.Equal(t, 1, r.Sweep(now))
	require.False(t, r.Used(alice, 1))
	require.True(t, r.Used(alice, 2))
	require.Equal(t, 0, r.Sweep(now))
}
