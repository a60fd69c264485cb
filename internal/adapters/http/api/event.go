package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/runac/internal/app"
	"github.com/okian/runac/internal/domain/market"
	"github.com/okian/runac/internal/domain/model"
)

// EventDependencies serves the full moon event: bets, logs and the market.
type EventDependencies interface {
	EventStatus(ctx context.Context, viewer int64) (service.EventStatus, error)
	PlaceBet(ctx context.Context, seq int64, stake float64) (model.WagerOutcome, error)
	Logs(ctx context.Context) ([]service.SlotLog, error)
	SlotLogs(ctx context.Context, slotID string) (service.SlotLog, error)
	MyWagers(ctx context.Context, seq int64) ([]model.WagerOutcome, error)
	MarketListings(ctx context.Context, viewer int64) ([]market.Listing, error)
	Buy(ctx context.Context, seq int64, itemID string) (model.Purchase, float64, error)
	Purchases(ctx context.Context, actor int64) ([]model.Purchase, error)
}

// EventHandler handles event requests.
type EventHandler struct {
	deps EventDependencies
}

// NewEventHandler creates a new event handler.
func NewEventHandler(deps EventDependencies) *EventHandler {
	return &EventHandler{deps: deps}
}

type betRequest struct {
	Stake float64 `json:"stake"`
}

type buyRequest struct {
	ItemID string `json:"item_id" validate:"required"`
}

type buyResponse struct {
	Purchase model.Purchase `json:"purchase"`
	Balance  float64        `json:"balance"`
}

// HandleStatus handles GET /api/event/status.
func (h *EventHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	seq, _ := UserFromContext(r.Context())
	st, err := h.deps.EventStatus(r.Context(), seq)
	if err != nil {
		fail(w, "api.event_status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleBet handles POST /api/event/bet. The wager settles before the
// response is written.
func (h *EventHandler) HandleBet(w http.ResponseWriter, r *http.Request) {
	const op = "api.place_bet"
	var req betRequest
	if err := decode(r, &req); err != nil {
		fail(w, op, err)
		return
	}
	seq, _ := UserFromContext(r.Context())
	out, err := h.deps.PlaceBet(r.Context(), seq, req.Stake)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleLogs handles GET /api/event/logs.
func (h *EventHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.deps.Logs(r.Context())
	if err != nil {
		fail(w, "api.event_logs", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// HandleSlotLogs handles GET /api/event/logs/{slotID}.
func (h *EventHandler) HandleSlotLogs(w http.ResponseWriter, r *http.Request) {
	log, err := h.deps.SlotLogs(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		fail(w, "api.slot_logs", err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// HandleMyWagers handles GET /api/event/wagers.
func (h *EventHandler) HandleMyWagers(w http.ResponseWriter, r *http.Request) {
	seq, _ := UserFromContext(r.Context())
	wagers, err := h.deps.MyWagers(r.Context(), seq)
	if err != nil {
		fail(w, "api.my_wagers", err)
		return
	}
	if wagers == nil {
		wagers = []model.WagerOutcome{}
	}
	writeJSON(w, http.StatusOK, wagers)
}

// HandleMarket handles GET /api/event/market. Anonymous viewers see nothing
// marked as bought.
func (h *EventHandler) HandleMarket(w http.ResponseWriter, r *http.Request) {
	seq, _ := UserFromContext(r.Context())
	items, err := h.deps.MarketListings(r.Context(), seq)
	if err != nil {
		fail(w, "api.market", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleBuy handles POST /api/event/market/buy.
func (h *EventHandler) HandleBuy(w http.ResponseWriter, r *http.Request) {
	const op = "api.buy"
	var req buyRequest
	if err := decode(r, &req); err != nil {
		fail(w, op, err)
		return
	}
	seq, _ := UserFromContext(r.Context())
	p, balance, err := h.deps.Buy(r.Context(), seq, req.ItemID)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, buyResponse{Purchase: p, Balance: balance})
}

// HandlePurchases handles GET /api/event/market/purchases for admins.
func (h *EventHandler) HandlePurchases(w http.ResponseWriter, r *http.Request) {
	actor, _ := UserFromContext(r.Context())
	ps, err := h.deps.Purchases(r.Context(), actor)
	if err != nil {
		fail(w, "api.purchases", err)
		return
	}
	if ps == nil {
		ps = []model.Purchase{}
	}
	writeJSON(w, http.StatusOK, ps)
}
