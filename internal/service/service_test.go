package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/duration-fi/durationd/internal/crypto"
	"github.com/duration-fi/durationd/internal/domain"
	"github.com/duration-fi/durationd/internal/engine"
)

var (
	testWETH     = common.HexToAddress("0x4200000000000000000000000000000000000006")
	testUSDC     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	testCustody  = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	testTreasury = common.HexToAddress("0x00000000000000000000000000000000000000F1")
	testTaker    = common.HexToAddress("0x00000000000000000000000000000000000000AA")
)

const testPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type memCommitmentStore struct {
	mu         sync.Mutex
	byHash     map[common.Hash]domain.Commitment
	failCreate bool
}

func newMemCommitmentStore() *memCommitmentStore {
	return &memCommitmentStore{byHash: make(map[common.Hash]domain.Commitment)}
}

func (s *memCommitmentStore) Create(_ context.Context, c domain.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return errors.New("store down")
	}
	s.byHash[c.Hash] = c
	return nil
}

func (s *memCommitmentStore) GetByHash(_ context.Context, hash common.Hash) (domain.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byHash[hash]
	if !ok {
		return domain.Commitment{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *memCommitmentStore) ListActive(_ context.Context, now time.Time, _ domain.ListOpts) ([]domain.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Commitment
	for _, c := range s.byHash {
		if !c.Expired(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memCommitmentStore) ListByCreator(_ context.Context, creator common.Address, _ domain.ListOpts) ([]domain.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Commitment
	for _, c := range s.byHash {
		if c.Creator == creator {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memCommitmentStore) Delete(_ context.Context, hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[hash]; !ok {
		return domain.ErrNotFound
	}
	delete(s.byHash, hash)
	return nil
}

func (s *memCommitmentStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}

type memOptionStore struct {
	mu     sync.Mutex
	byID   map[uint64]domain.ActiveOption
	nextID uint64 // when non-zero, NextID returns it instead of max+1
}

func newMemOptionStore() *memOptionStore {
	return &memOptionStore{byID: make(map[uint64]domain.ActiveOption)}
}

func (s *memOptionStore) Create(_ context.Context, o domain.ActiveOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.byID[o.ID] = o
	return nil
}

func (s *memOptionStore) Update(_ context.Context, o domain.ActiveOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byID[o.ID] = o
	return nil
}

func (s *memOptionStore) GetByID(_ context.Context, id uint64) (domain.ActiveOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.ActiveOption{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOptionStore) ListByState(_ context.Context, state domain.OptionState, _ domain.ListOpts) ([]domain.ActiveOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ActiveOption
	for _, o := range s.byID {
		if o.State == state {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOptionStore) ListExpired(_ context.Context, now time.Time, _ int) ([]domain.ActiveOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ActiveOption
	for _, o := range s.byID {
		if o.State == domain.OptionStateTaken && o.Expired(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOptionStore) NextID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextID != 0 {
		return s.nextID, nil
	}
	max := uint64(0)
	for id := range s.byID {
		if id > max {
			max = id
		}
	}
	return max + 1, nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (s *memAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.entries...), nil
}

func (s *memAuditStore) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Event
	}
	return out
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		published: make(map[string][][]byte),
		streamed:  make(map[string][][]byte),
	}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) publishedCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

func (b *memBus) streamedCount(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streamed[stream])
}

type memLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[string]bool)}
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// fakeClock drives the engine's view of time. It starts in the past so a
// test can advance it across an option expiry while wall-clock time, which
// the sweep uses to find candidates, is already beyond it.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubGateway and stubPrices mirror the engine's collaborator stubs.
type stubPrices struct{ spot *big.Int }

func (p *stubPrices) Spot(_ context.Context, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(p.spot), nil
}

type stubGateway struct{}

func (stubGateway) Settle(_ context.Context, req domain.SwapRequest) (*big.Int, error) {
	return new(big.Int).Set(req.ExpectedOut), nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	t        *testing.T
	eng      *engine.Engine
	signer   *crypto.Signer
	lp       common.Address
	clock    *fakeClock
	prices   *stubPrices
	commits  *memCommitmentStore
	options  *memOptionStore
	audit    *memAuditStore
	bus      *memBus
	locks    *memLocks
	commSvc  *CommitmentService
	optSvc   *OptionService
	nonceSeq uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dom := crypto.Domain{
		Name:              "Duration.Finance",
		Version:           "1",
		ChainID:           8453,
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000D7"),
	}
	signer, err := crypto.NewSigner(testPrivateKey, dom)
	require.NoError(t, err)

	book := engine.NewBook(map[common.Address]engine.AssetLimits{
		testWETH: {
			Info:    domain.AssetInfo{Address: testWETH, Symbol: "WETH", Decimals: 18},
			MinSize: big.NewInt(1e15),
			MaxSize: new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)),
		},
	})
	fees, err := engine.NewFeeDistributor(500)
	require.NoError(t, err)

	f := &fixture{
		t:       t,
		signer:  signer,
		lp:      signer.Address(),
		clock:   &fakeClock{t: time.Now().Add(-30 * 24 * time.Hour)},
		prices:  &stubPrices{spot: new(big.Int).Mul(big.NewInt(3000), big.NewInt(100_000_000))},
		commits: newMemCommitmentStore(),
		options: newMemOptionStore(),
		audit:   &memAuditStore{},
		bus:     newMemBus(),
		locks:   newMemLocks(),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.eng = engine.New(
		book,
		engine.NewNonceRegistry(),
		engine.NewCollateralLedger(),
		engine.NewVault(),
		fees,
		f.prices,
		stubGateway{},
		engine.Config{
			Domain:      dom,
			Stable:      domain.AssetInfo{Address: testUSDC, Symbol: "USDC", Decimals: 6},
			Custody:     testCustody,
			Treasury:    testTreasury,
			SlippageBps: 100,
			Now:         f.clock.now,
		},
		logger,
	)

	f.commSvc = NewCommitmentService(f.eng, f.commits, f.bus, f.audit, dom, logger)
	f.optSvc = NewOptionService(f.eng, f.locks, f.options, f.commits, f.bus, f.audit, logger)
	return f
}

func (f *fixture) signedOffer(mut func(*domain.Commitment)) domain.Commitment {
	f.t.Helper()
	f.nonceSeq++

	c := domain.Commitment{
		Creator:          f.lp,
		Asset:            testWETH,
		Amount:           big.NewInt(1e18),
		DailyPremiumRate: big.NewInt(50_000_000),
		MinLockDays:      1,
		MaxDurationDays:  30,
		OptionType:       domain.OptionTypeCall,
		CommitmentType:   domain.CommitmentTypeOffer,
		Expiry:           time.Now().Add(time.Hour).Unix(),
		Nonce:            f.nonceSeq,
	}
	if mut != nil {
		mut(&c)
	}
	sig, err := f.signer.SignCommitment(c)
	require.NoError(f.t, err)
	c.Signature = sig
	return c
}

func (f *fixture) fund(premium int64) {
	f.t.Helper()
	require.NoError(f.t, f.eng.Vault().Credit(testWETH, f.lp, big.NewInt(1e18)))
	if premium > 0 {
		require.NoError(f.t, f.eng.Vault().Credit(testUSDC, testTaker,
			new(big.Int).Mul(big.NewInt(premium), big.NewInt(1_000_000))))
	}
}

// ---------------------------------------------------------------------------
// Commitment flows
// ---------------------------------------------------------------------------

func TestCreateCommitmentIndexesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hash, err := f.commSvc.Create(ctx, f.signedOffer(nil))
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, hash)

	// Book, durable index, pub/sub, stream, and audit all see it.
	require.Equal(t, 1, f.eng.Book().Len())
	require.Equal(t, 1, f.commits.len())
	require.Equal(t, 1, f.bus.publishedCount("ch:commitments"))
	require.Equal(t, 1, f.bus.streamedCount(lifecycleStream))
	require.Equal(t, []string{"commitment.created"}, f.audit.events())

	got, err := f.commSvc.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, f.lp, got.Creator)
}

func TestCreateCommitmentIgnoresClientHash(t *testing.T) {
	f := newFixture(t)
	c := f.signedOffer(nil)
	c.Hash = common.HexToHash("0xdeadbeef")

	hash, err := f.commSvc.Create(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, crypto.CommitmentHash(c), hash)
	require.NotEqual(t, common.HexToHash("0xdeadbeef"), hash)
}

func TestCreateCommitmentRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	c := f.signedOffer(nil)
	c.Amount = big.NewInt(2e18) // breaks the signature

	_, err := f.commSvc.Create(context.Background(), c)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
	require.Zero(t, f.eng.Book().Len())
}

func TestCreateCommitmentRollsBackBookOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.commits.failCreate = true

	_, err := f.commSvc.Create(context.Background(), f.signedOffer(nil))
	require.Error(t, err)
	require.Zero(t, f.eng.Book().Len())
	require.Zero(t, f.bus.publishedCount("ch:commitments"))
}

func TestCancelBurnsNonceAgainstResubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.signedOffer(nil)

	hash, err := f.commSvc.Create(ctx, c)
	require.NoError(t, err)

	// Only the creator may cancel.
	err = f.commSvc.Cancel(ctx, hash, testTaker)
	require.ErrorIs(t, err, domain.ErrUnauthorizedCaller)

	require.NoError(t, f.commSvc.Cancel(ctx, hash, c.Creator))
	require.Zero(t, f.eng.Book().Len())
	require.Zero(t, f.commits.len())

	// Resubmitting the identical signed payload replays a burned nonce.
	_, err = f.commSvc.Create(ctx, c)
	require.ErrorIs(t, err, domain.ErrNonceUsed)
}

func TestReloadBookSkipsRowsTheBookRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := f.signedOffer(nil)
	good.Hash = crypto.CommitmentHash(good)
	// Indexed before the asset was removed from the allow-list.
	delisted := f.signedOffer(func(c *domain.Commitment) {
		c.Asset = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	})
	delisted.Hash = crypto.CommitmentHash(delisted)

	require.NoError(t, f.commits.Create(ctx, good))
	require.NoError(t, f.commits.Create(ctx, delisted))

	loaded, err := f.commSvc.ReloadBook(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, loaded)
	require.Equal(t, 1, f.eng.Book().Len())
}

// ---------------------------------------------------------------------------
// Option flows
// ---------------------------------------------------------------------------

func (f *fixture) createAndTake(t *testing.T, days uint32) domain.TakeResult {
	t.Helper()
	ctx := context.Background()

	c := f.signedOffer(nil)
	hash, err := f.commSvc.Create(ctx, c)
	require.NoError(t, err)
	f.fund(int64(days) * 50)

	res, err := f.optSvc.Take(ctx, engine.TakeRequest{
		CommitmentHash: hash,
		Caller:         testTaker,
		DurationDays:   days,
	})
	require.NoError(t, err)
	return res
}

func TestTakePersistsOptionAndDropsCommitment(t *testing.T) {
	f := newFixture(t)
	res := f.createAndTake(t, 7)
	require.False(t, res.ShortCircuited)

	stored, err := f.options.GetByID(context.Background(), res.OptionID)
	require.NoError(t, err)
	require.Equal(t, domain.OptionStateTaken, stored.State)

	require.Zero(t, f.commits.len())
	require.Equal(t, 1, f.bus.publishedCount("ch:options"))
	require.Contains(t, f.audit.events(), "option.taken")
	require.Contains(t, f.locks.acquired[len(f.locks.acquired)-1], "lock:commitment:")
}

func TestTakeFailsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.signedOffer(nil)
	hash, err := f.commSvc.Create(ctx, c)
	require.NoError(t, err)
	f.fund(350)

	unlock, err := f.locks.Acquire(ctx, "lock:commitment:"+hash.Hex(), time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = f.optSvc.Take(ctx, engine.TakeRequest{
		CommitmentHash: hash,
		Caller:         testTaker,
		DurationDays:   7,
	})
	require.ErrorIs(t, err, domain.ErrLockHeld)
	// Nothing consumed: the commitment is still takeable.
	require.Equal(t, 1, f.eng.Book().Len())
}

func TestExercisePersistsTerminalState(t *testing.T) {
	f := newFixture(t)
	res := f.createAndTake(t, 7)
	ctx := context.Background()

	f.prices.spot = new(big.Int).Mul(big.NewInt(3500), big.NewInt(100_000_000))
	payout, err := f.optSvc.Exercise(ctx, engine.ExerciseRequest{
		OptionID: res.OptionID,
		Caller:   testTaker,
		Params:   domain.SettlementParams{MinReturn: big.NewInt(1_000_000)},
	})
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(big.NewInt(475), big.NewInt(1_000_000)), payout)

	stored, err := f.options.GetByID(ctx, res.OptionID)
	require.NoError(t, err)
	require.Equal(t, domain.OptionStateExercised, stored.State)
	require.Equal(t, payout, stored.TakerPayout)
	require.Contains(t, f.audit.events(), "option.exercised")
}

func TestSweepExpiredLiquidatesAndPersists(t *testing.T) {
	f := newFixture(t)
	res := f.createAndTake(t, 7)
	ctx := context.Background()

	// The engine clock has not reached the expiry yet, so the sweep
	// attempt cannot liquidate anything.
	require.Zero(t, f.optSvc.SweepExpired(ctx))

	f.clock.advance(8 * 24 * time.Hour)
	require.Equal(t, 1, f.optSvc.SweepExpired(ctx))

	stored, err := f.options.GetByID(ctx, res.OptionID)
	require.NoError(t, err)
	require.Equal(t, domain.OptionStateExpired, stored.State)
	require.Contains(t, f.audit.events(), "option.liquidated")
}

func TestSweepExpiredRecoversUnrestoredRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A TAKEN row persisted by another process; this engine never saw it.
	orphan := domain.ActiveOption{
		ID:          12,
		Taker:       testTaker,
		LP:          f.lp,
		Asset:       testWETH,
		Amount:      big.NewInt(1e18),
		StrikePrice: big.NewInt(300_000_000_000),
		PremiumPaid: big.NewInt(350_000_000),
		OptionType:  domain.OptionTypeCall,
		State:       domain.OptionStateTaken,
		CreatedAt:   f.clock.now().Add(-8 * 24 * time.Hour),
		ExpiresAt:   f.clock.now().Add(-time.Hour),
	}
	require.NoError(t, f.options.Create(ctx, orphan))

	require.Equal(t, 1, f.optSvc.SweepExpired(ctx))

	stored, err := f.options.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OptionStateExpired, stored.State)
	// The collateral went back to the LP.
	require.Equal(t, big.NewInt(1e18), f.eng.Vault().Balance(testWETH, f.lp))
}

func TestRestoreStateSeedsIDsPastArchivedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Archived rows can hold IDs above anything the restore set reloads.
	f.options.nextID = 42

	_, err := f.optSvc.RestoreState(ctx)
	require.NoError(t, err)

	res := f.createAndTake(t, 7)
	require.Equal(t, uint64(42), res.OptionID)
}

func TestRestoreStateReloadsAllStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	taken := domain.ActiveOption{
		ID:          3,
		Taker:       testTaker,
		LP:          f.lp,
		Asset:       testWETH,
		Amount:      big.NewInt(1e18),
		StrikePrice: big.NewInt(300_000_000_000),
		PremiumPaid: big.NewInt(350_000_000),
		OptionType:  domain.OptionTypeCall,
		State:       domain.OptionStateTaken,
		CreatedAt:   time.Now().Add(-24 * time.Hour),
		ExpiresAt:   time.Now().Add(6 * 24 * time.Hour),
	}
	settled := taken
	settled.ID = 9
	settled.State = domain.OptionStateExercised

	require.NoError(t, f.options.Create(ctx, taken))
	require.NoError(t, f.options.Create(ctx, settled))

	restored, err := f.optSvc.RestoreState(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, restored)

	// TAKEN collateral is re-locked; terminal state is not.
	require.Equal(t, big.NewInt(1e18), f.eng.Ledger().TotalLocked(testWETH))

	got, err := f.optSvc.Get(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, domain.OptionStateExercised, got.State)
}
