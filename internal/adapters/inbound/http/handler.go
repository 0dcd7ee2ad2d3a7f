package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/inbound"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

const (
	defaultAttemptLimit = 20
	maxAttemptLimit     = 500
)

// Handler exposes the engine's operator surface.
//
// Routes:
//   - GET  /status          current snapshot
//   - GET  /attempts?limit= recent attempts, newest first
//   - POST /control/start   start the engine
//   - POST /control/stop    stop the engine, waiting for any in-flight tx
//   - POST /control/gas     body {"gasLimit": n}
type Handler struct {
	controller inbound.Controller
	attempts   outbound.AttemptRepository
	baseCtx    context.Context
	logger     *slog.Logger
}

// NewHandler creates a Handler. baseCtx bounds the lifetime of an engine
// started over HTTP; attempts may be nil.
func NewHandler(baseCtx context.Context, controller inbound.Controller, attempts outbound.AttemptRepository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{
		controller: controller,
		attempts:   attempts,
		baseCtx:    baseCtx,
		logger:     logger.With("component", "http-handler"),
	}
}

// RegisterRoutes registers the HTTP routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /attempts", h.Attempts)
	mux.HandleFunc("POST /control/start", h.Start)
	mux.HandleFunc("POST /control/stop", h.Stop)
	mux.HandleFunc("POST /control/gas", h.SetGasLimit)
}

// Status returns the current engine snapshot.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.controller.Snapshot())
}

// attemptView is the JSON shape of an attempt.
type attemptView struct {
	ID           string `json:"id"`
	Target       string `json:"target"`
	Margin       string `json:"solvencyMargin"`
	Debt         string `json:"debtValue"`
	Amount       string `json:"amount"`
	GasLimit     uint64 `json:"gasLimit"`
	TriggerBlock uint64 `json:"triggerBlock"`
	TxHash       string `json:"txHash,omitempty"`
	ReceiptBlock uint64 `json:"receiptBlock,omitempty"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	StartedAt    string `json:"startedAt"`
}

func toView(a entity.LiquidationAttempt) attemptView {
	v := attemptView{
		ID:           a.ID.String(),
		Target:       a.Target.Hex(),
		Margin:       a.SolvencyMargin.String(),
		Debt:         a.DebtValue.String(),
		GasLimit:     a.GasLimit,
		TriggerBlock: a.TriggerBlock,
		ReceiptBlock: a.ReceiptBlock,
		Outcome:      string(a.Outcome),
		Reason:       a.Reason,
		StartedAt:    a.StartedAt.UTC().Format(time.RFC3339),
	}
	if a.Amount != nil {
		v.Amount = a.Amount.String()
	}
	if a.TxHash != (common.Hash{}) {
		v.TxHash = a.TxHash.Hex()
	}
	return v
}

// Attempts returns recent liquidation attempts.
func (h *Handler) Attempts(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		h.respondError(w, http.StatusNotFound, "attempt history is not enabled")
		return
	}

	limit := defaultAttemptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAttemptLimit)
	}

	attempts, err := h.attempts.RecentAttempts(r.Context(), limit)
	if err != nil {
		h.logger.Warn("failed to load attempts", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load attempts")
		return
	}

	out := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, toView(a))
	}
	h.respondJSON(w, http.StatusOK, out)
}

// Start starts the engine.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Start(h.baseCtx); err != nil {
		h.logger.Error("start requested over HTTP failed", "kind", entity.ErrorKind(err), "error", err)
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, h.controller.Snapshot())
}

// Stop stops the engine.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Stop(); err != nil {
		h.logger.Warn("stop requested over HTTP returned error", "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, h.controller.Snapshot())
}

type gasRequest struct {
	GasLimit uint64 `json:"gasLimit"`
}

// SetGasLimit changes the gas limit for subsequent submissions.
func (h *Handler) SetGasLimit(w http.ResponseWriter, r *http.Request) {
	var req gasRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.controller.SetGasLimit(req.GasLimit); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]uint64{"gasLimit": req.GasLimit})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	respondJSON(h.logger, w, status, data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
