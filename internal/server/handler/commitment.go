package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// CommitmentService is what the commitment handler needs from the service
// layer.
type CommitmentService interface {
	Create(ctx context.Context, c domain.Commitment) (common.Hash, error)
	Cancel(ctx context.Context, hash common.Hash, caller common.Address) error
	Get(ctx context.Context, hash common.Hash) (domain.Commitment, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Commitment, error)
	ListByCreator(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]domain.Commitment, error)
}

// CommitmentHandler serves commitment endpoints.
type CommitmentHandler struct {
	commitments CommitmentService
	logger      *slog.Logger
}

// NewCommitmentHandler creates a CommitmentHandler.
func NewCommitmentHandler(commitments CommitmentService, logger *slog.Logger) *CommitmentHandler {
	return &CommitmentHandler{commitments: commitments, logger: logger}
}

// commitmentRequest is the wire form of a signed commitment submission. Big
// integers travel as decimal strings.
type commitmentRequest struct {
	Creator          string `json:"creator"`
	Asset            string `json:"asset"`
	Amount           string `json:"amount"`
	DailyPremiumRate string `json:"daily_premium_rate,omitempty"`
	PremiumOffered   string `json:"premium_offered,omitempty"`
	TargetPrice      string `json:"target_price,omitempty"`
	MinLockDays      uint32 `json:"min_lock_days"`
	MaxDurationDays  uint32 `json:"max_duration_days"`
	OptionType       string `json:"option_type"`     // CALL | PUT
	CommitmentType   string `json:"commitment_type"` // OFFER | DEMAND
	Expiry           int64  `json:"expiry"`
	Nonce            uint64 `json:"nonce"`
	Signature        string `json:"signature"`
}

func (req commitmentRequest) toDomain() (domain.Commitment, error) {
	var c domain.Commitment
	var err error

	if c.Creator, err = parseAddress(req.Creator); err != nil {
		return c, fmt.Errorf("creator: %w", err)
	}
	if c.Asset, err = parseAddress(req.Asset); err != nil {
		return c, fmt.Errorf("asset: %w", err)
	}
	if c.Amount, err = parseBig(req.Amount); err != nil || c.Amount == nil {
		return c, fmt.Errorf("amount: invalid value %q", req.Amount)
	}
	if c.DailyPremiumRate, err = parseBig(req.DailyPremiumRate); err != nil {
		return c, fmt.Errorf("daily_premium_rate: %w", err)
	}
	if c.PremiumOffered, err = parseBig(req.PremiumOffered); err != nil {
		return c, fmt.Errorf("premium_offered: %w", err)
	}
	if c.TargetPrice, err = parseBig(req.TargetPrice); err != nil {
		return c, fmt.Errorf("target_price: %w", err)
	}

	switch strings.ToUpper(req.OptionType) {
	case "CALL":
		c.OptionType = domain.OptionTypeCall
	case "PUT":
		c.OptionType = domain.OptionTypePut
	default:
		return c, fmt.Errorf("option_type: want CALL or PUT, got %q", req.OptionType)
	}
	switch strings.ToUpper(req.CommitmentType) {
	case "OFFER":
		c.CommitmentType = domain.CommitmentTypeOffer
	case "DEMAND":
		c.CommitmentType = domain.CommitmentTypeDemand
	default:
		return c, fmt.Errorf("commitment_type: want OFFER or DEMAND, got %q", req.CommitmentType)
	}

	c.MinLockDays = req.MinLockDays
	c.MaxDurationDays = req.MaxDurationDays
	c.Expiry = req.Expiry
	c.Nonce = req.Nonce
	c.Signature = req.Signature
	return c, nil
}

// commitmentJSON is the wire form of a commitment in responses.
type commitmentJSON struct {
	Hash             string `json:"hash"`
	Creator          string `json:"creator"`
	Asset            string `json:"asset"`
	Amount           string `json:"amount"`
	DailyPremiumRate string `json:"daily_premium_rate,omitempty"`
	PremiumOffered   string `json:"premium_offered,omitempty"`
	TargetPrice      string `json:"target_price,omitempty"`
	MinLockDays      uint32 `json:"min_lock_days"`
	MaxDurationDays  uint32 `json:"max_duration_days"`
	OptionType       string `json:"option_type"`
	CommitmentType   string `json:"commitment_type"`
	Expiry           int64  `json:"expiry"`
	Nonce            uint64 `json:"nonce"`
	CreatedAt        string `json:"created_at"`
}

func toCommitmentJSON(c domain.Commitment) commitmentJSON {
	return commitmentJSON{
		Hash:             c.Hash.Hex(),
		Creator:          c.Creator.Hex(),
		Asset:            c.Asset.Hex(),
		Amount:           bigStr(c.Amount),
		DailyPremiumRate: bigStr(c.DailyPremiumRate),
		PremiumOffered:   bigStr(c.PremiumOffered),
		TargetPrice:      bigStr(c.TargetPrice),
		MinLockDays:      c.MinLockDays,
		MaxDurationDays:  c.MaxDurationDays,
		OptionType:       c.OptionType.String(),
		CommitmentType:   c.CommitmentType.String(),
		Expiry:           c.Expiry,
		Nonce:            c.Nonce,
		CreatedAt:        c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateCommitment indexes a signed commitment.
// POST /api/commitments
func (h *CommitmentHandler) CreateCommitment(w http.ResponseWriter, r *http.Request) {
	var req commitmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	c, err := req.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := h.commitments.Create(r.Context(), c)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"hash": hash.Hex()})
}

// CancelCommitment withdraws a pending commitment; only its creator may.
// DELETE /api/commitments/{hash}?caller=0x...
func (h *CommitmentHandler) CancelCommitment(w http.ResponseWriter, r *http.Request) {
	hashStr := pathParam(r, "hash")
	caller, err := parseAddress(r.URL.Query().Get("caller"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := h.commitments.Cancel(r.Context(), common.HexToHash(hashStr), caller); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancelled",
		"hash":   hashStr,
	})
}

// GetCommitment returns a single commitment by hash.
// GET /api/commitments/{hash}
func (h *CommitmentHandler) GetCommitment(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(pathParam(r, "hash"))

	c, err := h.commitments.Get(r.Context(), hash)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitmentJSON(c))
}

// listCommitmentsResponse wraps the list response.
type listCommitmentsResponse struct {
	Commitments []commitmentJSON `json:"commitments"`
}

// ListCommitments returns active commitments, optionally filtered by creator.
// GET /api/commitments?creator=0x...&limit=50&offset=0
func (h *CommitmentHandler) ListCommitments(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		commitments []domain.Commitment
		err         error
	)
	if creatorStr := r.URL.Query().Get("creator"); creatorStr != "" {
		var creator common.Address
		if creator, err = parseAddress(creatorStr); err != nil {
			writeError(w, http.StatusBadRequest, "creator: "+err.Error())
			return
		}
		commitments, err = h.commitments.ListByCreator(r.Context(), creator, opts)
	} else {
		commitments, err = h.commitments.ListActive(r.Context(), opts)
	}
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	out := make([]commitmentJSON, 0, len(commitments))
	for _, c := range commitments {
		out = append(out, toCommitmentJSON(c))
	}
	writeJSON(w, http.StatusOK, listCommitmentsResponse{Commitments: out})
}
