package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/duration-fi/durationd/internal/domain"
)

type stubCommitmentService struct {
	created   domain.Commitment
	createErr error
	hash      common.Hash

	cancelErr    error
	cancelCaller common.Address

	getC   domain.Commitment
	getErr error

	active    []domain.Commitment
	byCreator []domain.Commitment
	creator   common.Address
	opts      domain.ListOpts
}

func (s *stubCommitmentService) Create(_ context.Context, c domain.Commitment) (common.Hash, error) {
	s.created = c
	return s.hash, s.createErr
}

func (s *stubCommitmentService) Cancel(_ context.Context, _ common.Hash, caller common.Address) error {
	s.cancelCaller = caller
	return s.cancelErr
}

func (s *stubCommitmentService) Get(_ context.Context, _ common.Hash) (domain.Commitment, error) {
	return s.getC, s.getErr
}

func (s *stubCommitmentService) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.Commitment, error) {
	s.opts = opts
	return s.active, nil
}

func (s *stubCommitmentService) ListByCreator(_ context.Context, creator common.Address, opts domain.ListOpts) ([]domain.Commitment, error) {
	s.creator = creator
	s.opts = opts
	return s.byCreator, nil
}

func newCommitmentRouter(svc *stubCommitmentService) http.Handler {
	h := NewCommitmentHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/commitments", h.CreateCommitment)
	mux.HandleFunc("GET /api/commitments", h.ListCommitments)
	mux.HandleFunc("GET /api/commitments/{hash}", h.GetCommitment)
	mux.HandleFunc("DELETE /api/commitments/{hash}", h.CancelCommitment)
	return mux
}

func validCreateBody() map[string]any {
	return map[string]any{
		"creator":            "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		"asset":              "0x4200000000000000000000000000000000000006",
		"amount":             "1000000000000000000",
		"daily_premium_rate": "50000000",
		"min_lock_days":      1,
		"max_duration_days":  30,
		"option_type":        "CALL",
		"commitment_type":    "OFFER",
		"expiry":             time.Now().Add(time.Hour).Unix(),
		"nonce":              7,
		"signature":          "0xabcdef",
	}
}

func postCommitment(t *testing.T, router http.Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/commitments", bytes.NewReader(raw))
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateCommitmentReturnsHash(t *testing.T) {
	svc := &stubCommitmentService{hash: common.HexToHash("0xbeef")}
	router := newCommitmentRouter(svc)

	rec := postCommitment(t, router, validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, common.HexToHash("0xbeef").Hex(), resp["hash"])

	require.Equal(t, big.NewInt(1e18), svc.created.Amount)
	require.Equal(t, domain.OptionTypeCall, svc.created.OptionType)
	require.Equal(t, domain.CommitmentTypeOffer, svc.created.CommitmentType)
	require.Equal(t, uint64(7), svc.created.Nonce)
}

func TestCreateCommitmentRejectsMalformedInput(t *testing.T) {
	router := newCommitmentRouter(&stubCommitmentService{})

	cases := map[string]func(map[string]any){
		"bad creator":     func(b map[string]any) { b["creator"] = "not-an-address" },
		"bad amount":      func(b map[string]any) { b["amount"] = "1.5" },
		"missing amount":  func(b map[string]any) { b["amount"] = "" },
		"bad option type": func(b map[string]any) { b["option_type"] = "STRADDLE" },
		"bad polarity":    func(b map[string]any) { b["commitment_type"] = "MAYBE" },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			body := validCreateBody()
			mut(body)
			rec := postCommitment(t, router, body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateCommitmentMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"nonce replay", domain.ErrNonceUsed, http.StatusConflict},
		{"bad signature", domain.ErrInvalidSignature, http.StatusForbidden},
		{"delisted asset", domain.ErrAssetNotAllowed, http.StatusBadRequest},
		{"duplicate", domain.ErrAlreadyExists, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newCommitmentRouter(&stubCommitmentService{createErr: tc.err})
			rec := postCommitment(t, router, validCreateBody())
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestCancelCommitmentPassesCaller(t *testing.T) {
	svc := &stubCommitmentService{}
	router := newCommitmentRouter(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete,
		"/api/commitments/0xbeef?caller=0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), svc.cancelCaller)
}

func TestCancelCommitmentRejectsNonCreator(t *testing.T) {
	router := newCommitmentRouter(&stubCommitmentService{cancelErr: domain.ErrUnauthorizedCaller})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete,
		"/api/commitments/0xbeef?caller=0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelCommitmentRequiresValidCaller(t *testing.T) {
	router := newCommitmentRouter(&stubCommitmentService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/commitments/0xbeef?caller=nope", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCommitmentRendersWireForm(t *testing.T) {
	c := domain.Commitment{
		Creator:          common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		Asset:            common.HexToAddress("0x4200000000000000000000000000000000000006"),
		Amount:           big.NewInt(1e18),
		DailyPremiumRate: big.NewInt(50_000_000),
		MinLockDays:      1,
		MaxDurationDays:  30,
		OptionType:       domain.OptionTypePut,
		CommitmentType:   domain.CommitmentTypeOffer,
		Expiry:           1_700_003_600,
		Nonce:            7,
		Hash:             common.HexToHash("0xbeef"),
		CreatedAt:        time.Unix(1_700_000_000, 0),
	}
	router := newCommitmentRouter(&stubCommitmentService{getC: c})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/commitments/0xbeef", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got commitmentJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, c.Hash.Hex(), got.Hash)
	require.Equal(t, "1000000000000000000", got.Amount)
	require.Equal(t, "50000000", got.DailyPremiumRate)
	require.Empty(t, got.PremiumOffered)
	require.Equal(t, "PUT", got.OptionType)
	require.Equal(t, "2023-11-14T22:13:20Z", got.CreatedAt)
}

func TestGetCommitmentNotFound(t *testing.T) {
	router := newCommitmentRouter(&stubCommitmentService{getErr: domain.ErrNotFound})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/commitments/0xbeef", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCommitmentsClampsPagination(t *testing.T) {
	svc := &stubCommitmentService{}
	router := newCommitmentRouter(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/commitments?limit=9999&offset=10", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.ListOpts{Limit: 500, Offset: 10}, svc.opts)
}

func TestListCommitmentsFiltersByCreator(t *testing.T) {
	creator := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	svc := &stubCommitmentService{byCreator: []domain.Commitment{{
		Creator: creator,
		Amount:  big.NewInt(1),
	}}}
	router := newCommitmentRouter(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/commitments?creator="+creator.Hex(), nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, creator, svc.creator)

	var resp listCommitmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Commitments, 1)
}
