// Package api exposes the bidding engine over HTTP.
//
// Bidder identity arrives in the X-Bidder-ID header; authentication
// happens upstream at the marketplace gateway. Business rejections (too
// low, not eligible) are 200 responses with accepted=false and the
// authoritative current state, so clients can correct without a second
// round trip. Transport and server failures use error status codes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/mkrogh/auctiond/internal/arbiter"
	"github.com/mkrogh/auctiond/internal/auction"
	"github.com/mkrogh/auctiond/internal/eligibility"
	"github.com/mkrogh/auctiond/internal/fanout"
	"github.com/mkrogh/auctiond/internal/telemetry"
)

const bidderHeader = "X-Bidder-ID"

// Handler serves the auction HTTP API.
type Handler struct {
	engine *arbiter.Engine
	hub    *fanout.Hub
	logger *slog.Logger
}

// NewHandler returns a Handler backed by the given engine and hub.
func NewHandler(engine *arbiter.Engine, hub *fanout.Hub, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, hub: hub, logger: logger}
}

// Routes returns the router for the API.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions", h.createAuction).Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id}", h.getAuction).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/bids", h.submitBid).Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id}/bids", h.getHistory).Methods(http.MethodGet)

	r.HandleFunc("/ws/auctions/{id}", h.watchAuction).Methods(http.MethodGet)

	r.Use(h.logRequests)
	return r
}

func (h *Handler) createAuction(w http.ResponseWriter, r *http.Request) {
	var p arbiter.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.engine.CreateAuction(r.Context(), p)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, auction.Project(a))
}

func (h *Handler) getAuction(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// bidRequest is the submit-bid body. Amounts are decimal strings or
// numbers; float arithmetic never touches money.
type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// bidResponse reports the arbitration outcome together with the
// authoritative state the decision was committed against.
type bidResponse struct {
	Accepted     bool             `json:"accepted"`
	DryRun       bool             `json:"dry_run,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Leading      bool             `json:"leading,omitempty"`
	Rank         int              `json:"rank,omitempty"`
	CurrentState auction.Snapshot `json:"current_state"`
}

func (h *Handler) submitBid(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	bidderID := r.Header.Get(bidderHeader)
	if bidderID == "" {
		respondError(w, http.StatusBadRequest, bidderHeader+" header is required")
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.engine.SubmitBid(r.Context(), auctionID, bidderID, req.Amount)
	if err != nil {
		h.respondBidRejection(w, r, auctionID, err)
		return
	}

	respondJSON(w, http.StatusOK, bidResponse{
		Accepted:     true,
		DryRun:       out.DryRun,
		Leading:      out.Leading,
		Rank:         out.Rank,
		CurrentState: out.Auction,
	})
}

// respondBidRejection distinguishes business rejections, which return 200
// with accepted=false and the current state, from transport failures.
func (h *Handler) respondBidRejection(w http.ResponseWriter, r *http.Request, auctionID string, err error) {
	var denied *eligibility.DeniedError
	var reason string
	switch {
	case errors.As(err, &denied):
		reason = string(denied.Reason)
	case errors.Is(err, auction.ErrBidTooLow):
		reason = "bid_too_low"
	case errors.Is(err, auction.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "bid amount must be positive")
		return
	case errors.Is(err, auction.ErrTryAgain):
		respondError(w, http.StatusServiceUnavailable, "high contention, try again")
		return
	default:
		h.respondEngineError(w, r, err)
		return
	}

	resp := bidResponse{Accepted: false, Reason: reason}
	if snap, snapErr := h.engine.Snapshot(r.Context(), auctionID); snapErr == nil {
		resp.CurrentState = snap
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	// The viewer header is optional here: anonymous viewers of a sealed
	// auction simply own none of the bids.
	view, err := h.engine.History(r.Context(), mux.Vars(r)["id"], r.Header.Get(bidderHeader))
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) watchAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	if _, err := h.engine.Snapshot(r.Context(), auctionID); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	h.hub.ServeWS(w, r, auctionID)
}

func (h *Handler) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auction.ErrNotFound) {
		respondError(w, http.StatusNotFound, "auction not found")
		return
	}
	telemetry.LogWithTrace(r.Context(), h.logger).ErrorContext(r.Context(),
		"request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	respondError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.logger.DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}
