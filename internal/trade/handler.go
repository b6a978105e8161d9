package trade

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cashoutai/tradedesk/internal/httpjson"
)

// Handler serves the trade engine over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates HTTP handlers for svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the engine endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/trades", h.RecordTrade)
	r.Get("/trades/{userID}", h.ListTrades)
	r.Get("/positions/{userID}", h.ListPositions)
	r.Post("/positions/{positionID}/close", h.ClosePosition)
	r.Post("/positions/{positionID}/add-shares", h.AddShares)
	r.Post("/positions/{positionID}/sell-shares", h.SellShares)
	r.Get("/performance/{userID}", h.GetPerformance)
	r.Get("/prices/{symbol}", h.GetPrice)
}

// sharesRequest is the JSON body for add-shares and sell-shares.
type sharesRequest struct {
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// closeRequest is the optional JSON body for close; without a price the
// oracle quote is used.
type closeRequest struct {
	Price decimal.NullDecimal `json:"price"`
}

// RecordTrade handles POST /api/trades
func (h *Handler) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var in TradeInput
	if err := httpjson.Decode(w, r, &in); err != nil {
		httpjson.Error(w, err)
		return
	}

	res, err := h.svc.RecordTrade(r.Context(), in)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, res)
}

// ListTrades handles GET /api/trades/{userID}
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.svc.ListTrades(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, trades)
}

// ListPositions handles GET /api/positions/{userID}?include_closed=true
// Open positions are re-priced, and auto-closed where triggered, first.
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	includeClosed, _ := strconv.ParseBool(r.URL.Query().Get("include_closed"))

	view, err := h.svc.ListPositions(r.Context(), chi.URLParam(r, "userID"), includeClosed)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, view)
}

// ClosePosition handles POST /api/positions/{positionID}/close?user_id=
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an empty one, chunked or not, means no price.
	var req closeRequest
	if err := httpjson.Decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpjson.Error(w, err)
		return
	}

	res, err := h.svc.ClosePosition(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "positionID"), req.Price)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

// AddShares handles POST /api/positions/{positionID}/add-shares?user_id=
func (h *Handler) AddShares(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.Error(w, err)
		return
	}

	res, err := h.svc.AddShares(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "positionID"), req.Quantity, req.Price)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

// SellShares handles POST /api/positions/{positionID}/sell-shares?user_id=
func (h *Handler) SellShares(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.Error(w, err)
		return
	}

	res, err := h.svc.SellShares(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "positionID"), req.Quantity, req.Price)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

// GetPerformance handles GET /api/performance/{userID}
func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.svc.GetPerformance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, perf)
}

// GetPrice handles GET /api/prices/{symbol}
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol, price, err := h.svc.GetCurrentPrice(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"price":  price,
	})
}
