package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/duration-fi/durationd/internal/domain"
	"github.com/duration-fi/durationd/internal/engine"
)

// OptionService is what the option handler needs from the service layer.
type OptionService interface {
	Take(ctx context.Context, req engine.TakeRequest) (domain.TakeResult, error)
	Exercise(ctx context.Context, req engine.ExerciseRequest) (*big.Int, error)
	Liquidate(ctx context.Context, optionID uint64) error
	Get(ctx context.Context, id uint64) (domain.ActiveOption, error)
	ListByState(ctx context.Context, state domain.OptionState, opts domain.ListOpts) ([]domain.ActiveOption, error)
}

// OptionHandler serves option lifecycle endpoints.
type OptionHandler struct {
	options OptionService
	logger  *slog.Logger
}

// NewOptionHandler creates an OptionHandler.
func NewOptionHandler(options OptionService, logger *slog.Logger) *OptionHandler {
	return &OptionHandler{options: options, logger: logger}
}

// takeRequest is the wire form of a take call.
type takeRequest struct {
	CommitmentHash string `json:"commitment_hash"`
	Caller         string `json:"caller"`
	DurationDays   uint32 `json:"duration_days"`
	RoutingHint    string `json:"routing_hint,omitempty"` // 0x-hex venue calldata
	Deadline       int64  `json:"deadline,omitempty"`     // unix seconds
}

// takeResponse is returned for both outcomes of a take: an option creation
// and the simple-swap short-circuit.
type takeResponse struct {
	OptionID       uint64 `json:"option_id,omitempty"`
	ShortCircuited bool   `json:"short_circuited"`
	StrikePrice    string `json:"strike_price"`
	PremiumPaid    string `json:"premium_paid,omitempty"`
}

// TakeOption takes a pending commitment.
// POST /api/options/take
func (h *OptionHandler) TakeOption(w http.ResponseWriter, r *http.Request) {
	var req takeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	hint, err := parseRoutingHint(req.RoutingHint)
	if err != nil {
		writeError(w, http.StatusBadRequest, "routing_hint: "+err.Error())
		return
	}

	takeReq := engine.TakeRequest{
		CommitmentHash: common.HexToHash(req.CommitmentHash),
		Caller:         caller,
		DurationDays:   req.DurationDays,
		RoutingHint:    hint,
	}
	if req.Deadline > 0 {
		takeReq.Deadline = time.Unix(req.Deadline, 0)
	}

	res, err := h.options.Take(r.Context(), takeReq)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, takeResponse{
		OptionID:       res.OptionID,
		ShortCircuited: res.ShortCircuited,
		StrikePrice:    bigStr(res.StrikePrice),
		PremiumPaid:    bigStr(res.PremiumPaid),
	})
}

// exerciseRequest is the wire form of an exercise call.
type exerciseRequest struct {
	Caller      string `json:"caller"`
	MinReturn   string `json:"min_return"`
	RoutingHint string `json:"routing_hint,omitempty"`
	Deadline    int64  `json:"deadline,omitempty"`
}

// ExerciseOption settles a profitable option for its taker.
// POST /api/options/{id}/exercise
func (h *OptionHandler) ExerciseOption(w http.ResponseWriter, r *http.Request) {
	id, err := parseOptionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req exerciseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	minReturn, err := parseBig(req.MinReturn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "min_return: "+err.Error())
		return
	}
	hint, err := parseRoutingHint(req.RoutingHint)
	if err != nil {
		writeError(w, http.StatusBadRequest, "routing_hint: "+err.Error())
		return
	}

	params := domain.SettlementParams{
		MinReturn:   minReturn,
		RoutingHint: hint,
	}
	if req.Deadline > 0 {
		params.Deadline = time.Unix(req.Deadline, 0)
	}

	payout, err := h.options.Exercise(r.Context(), engine.ExerciseRequest{
		OptionID: id,
		Caller:   caller,
		Params:   params,
	})
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "exercised",
		"payout": payout.String(),
	})
}

// LiquidateOption returns an expired option's backing to its LP.
// Permissionless.
// POST /api/options/{id}/liquidate
func (h *OptionHandler) LiquidateOption(w http.ResponseWriter, r *http.Request) {
	id, err := parseOptionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.options.Liquidate(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "liquidated",
		"option_id": id,
	})
}

// optionJSON is the wire form of an option in responses.
type optionJSON struct {
	ID           uint64 `json:"id"`
	Taker        string `json:"taker"`
	LP           string `json:"lp"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	StrikePrice  string `json:"strike_price"`
	PremiumPaid  string `json:"premium_paid"`
	OptionType   string `json:"option_type"`
	State        string `json:"state"`
	HeldProceeds string `json:"held_proceeds,omitempty"`
	TakerPayout  string `json:"taker_payout,omitempty"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
	SettledAt    string `json:"settled_at,omitempty"`
}

func toOptionJSON(o domain.ActiveOption) optionJSON {
	out := optionJSON{
		ID:           o.ID,
		Taker:        o.Taker.Hex(),
		LP:           o.LP.Hex(),
		Asset:        o.Asset.Hex(),
		Amount:       bigStr(o.Amount),
		StrikePrice:  bigStr(o.StrikePrice),
		PremiumPaid:  bigStr(o.PremiumPaid),
		OptionType:   o.OptionType.String(),
		State:        string(o.State),
		HeldProceeds: bigStr(o.HeldProceeds),
		TakerPayout:  bigStr(o.TakerPayout),
		CreatedAt:    o.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:    o.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if o.SettledAt != nil {
		out.SettledAt = o.SettledAt.UTC().Format(time.RFC3339)
	}
	return out
}

// GetOption returns a single option by id.
// GET /api/options/{id}
func (h *OptionHandler) GetOption(w http.ResponseWriter, r *http.Request) {
	id, err := parseOptionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opt, err := h.options.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOptionJSON(opt))
}

// listOptionsResponse wraps the list response.
type listOptionsResponse struct {
	Options []optionJSON `json:"options"`
}

// ListOptions returns options filtered by state (default: taken).
// GET /api/options?state=taken&limit=50&offset=0
func (h *OptionHandler) ListOptions(w http.ResponseWriter, r *http.Request) {
	state := domain.OptionState(r.URL.Query().Get("state"))
	if state == "" {
		state = domain.OptionStateTaken
	}
	switch state {
	case domain.OptionStateTaken, domain.OptionStateExercised,
		domain.OptionStateExpired, domain.OptionStateLiquidated:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", state))
		return
	}

	opts, err := h.options.ListByState(r.Context(), state, parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	out := make([]optionJSON, 0, len(opts))
	for _, o := range opts {
		out = append(out, toOptionJSON(o))
	}
	writeJSON(w, http.StatusOK, listOptionsResponse{Options: out})
}

func parseOptionID(r *http.Request) (uint64, error) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid option id %q", raw)
	}
	return id, nil
}

func parseRoutingHint(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hexutil.Decode(s)
}
