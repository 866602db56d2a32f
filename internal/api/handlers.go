package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/rwaexchange/internal/auth"
	"github.com/xtrntr/rwaexchange/internal/exchange"
	"github.com/xtrntr/rwaexchange/internal/models"
)

// Store is the read side the handlers query directly
type Store interface {
	GetOrderByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error)
	GetUserTrades(ctx context.Context, userID int64) ([]models.Trade, error)
	GetUserBalances(ctx context.Context, userID int64) ([]models.Balance, error)
	RestingOrders(ctx context.Context, assetID int64) ([]models.Order, error)
	ListAssets(ctx context.Context) ([]models.Asset, error)
	SetAssetStatus(ctx context.Context, id int64, status models.AssetStatus) error
}

// Coordinator is the order lifecycle the handlers drive
type Coordinator interface {
	Submit(ctx context.Context, req exchange.OrderRequest) (*exchange.MatchResult, error)
	Cancel(ctx context.Context, userID int64, orderID uuid.UUID) (*models.Order, error)
	ConfirmSettlement(ctx context.Context, tradeID uuid.UUID, status models.SettlementStatus) (*models.Trade, error)
}

// AssetInvalidator drops cached asset state after an operator change
type AssetInvalidator interface {
	Invalidate(ctx context.Context, id int64) error
}

type ctxKey int

const userIDKey ctxKey = iota

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store         Store
	Exchange      Coordinator
	AuthService   *auth.AuthService
	Assets        AssetInvalidator
	OperatorToken string
	Log           logrus.FieldLogger
}

// NewHandler creates a new handler
func NewHandler(store Store, ex Coordinator, authService *auth.AuthService, assets AssetInvalidator, operatorToken string, log logrus.FieldLogger) *Handler {
	return &Handler{
		Store:         store,
		Exchange:      ex,
		AuthService:   authService,
		Assets:        assets,
		OperatorToken: operatorToken,
		Log:           log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidOrder), errors.Is(err, models.ErrUnknownStatus), errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, exchange.ErrNotOwner):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).WithField("path", r.URL.Path).Error(msg)
		writeError(w, status, msg)
		return
	}
	if errors.Is(err, exchange.ErrNotOwner) {
		writeError(w, status, "order not found")
		return
	}
	writeError(w, status, err.Error())
}

func userID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(userIDKey).(int64)
	return id, ok
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.Log.WithError(err).WithField("username", req.Username).Warn("Registration failed")
		writeError(w, http.StatusConflict, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.fail(w, r, err, "Failed to log in")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		id, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type placeOrderRequest struct {
	AssetID   int64           `json:"asset_id"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

type placeOrderResponse struct {
	Order   models.Order   `json:"order"`
	Trades  []models.Trade `json:"trades"`
	Skipped int            `json:"skipped"`
	Error   string         `json:"error,omitempty"`
}

// PlaceOrder submits an order and returns the outcome of its first matching pass
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Side must be 'buy' or 'sell'")
		return
	}

	result, err := h.Exchange.Submit(r.Context(), exchange.OrderRequest{
		UserID:    uid,
		AssetID:   req.AssetID,
		Side:      side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.fail(w, r, err, "Failed to place order")
		return
	}

	resp := placeOrderResponse{Order: result.Order, Trades: result.Trades, Skipped: len(result.Skipped)}
	if resp.Trades == nil {
		resp.Trades = []models.Trade{}
	}
	if result.Rejected != nil {
		resp.Error = result.Rejected.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func orderIDParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

// GetOrder returns one of the caller's orders
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, ok := orderIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.Store.GetOrderByPublicID(r.Context(), id)
	if err == nil && order.UserID != uid {
		err = exchange.ErrNotOwner
	}
	if err != nil {
		h.fail(w, r, err, "Failed to retrieve order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetUserOrders retrieves a user's orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orders, err := h.Store.GetUserOrders(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err, "Failed to retrieve orders")
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder cancels a resting order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, ok := orderIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.Exchange.Cancel(r.Context(), uid, id)
	if err != nil {
		h.fail(w, r, err, "Failed to cancel order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetUserTrades retrieves a user's trade history
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	trades, err := h.Store.GetUserTrades(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err, "Failed to retrieve trades")
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetUserBalances retrieves a user's asset balances
func (h *Handler) GetUserBalances(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	balances, err := h.Store.GetUserBalances(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err, "Failed to retrieve balances")
		return
	}
	if balances == nil {
		balances = []models.Balance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

// ListAssets returns every listed asset
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListAssets(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to list assets")
		return
	}
	if list == nil {
		list = []models.Asset{}
	}
	writeJSON(w, http.StatusOK, list)
}

// PriceLevel is the resting quantity at one price
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// OrderBook is the aggregated resting book of one asset
type OrderBook struct {
	AssetID int64        `json:"asset_id"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
}

// aggregate groups resting orders by side and price, best price first
func aggregate(assetID int64, orders []models.Order) OrderBook {
	levels := map[models.Side]map[string]*PriceLevel{
		models.Buy:  {},
		models.Sell: {},
	}
	for _, o := range orders {
		key := o.Price.String()
		lvl, ok := levels[o.Side][key]
		if !ok {
			lvl = &PriceLevel{Price: o.Price, Quantity: decimal.Zero}
			levels[o.Side][key] = lvl
		}
		lvl.Quantity = lvl.Quantity.Add(o.Remaining)
		lvl.Orders++
	}

	flatten := func(side models.Side) []PriceLevel {
		out := make([]PriceLevel, 0, len(levels[side]))
		for _, lvl := range levels[side] {
			out = append(out, *lvl)
		}
		sort.Slice(out, func(i, j int) bool {
			if side == models.Buy {
				return out[i].Price.GreaterThan(out[j].Price)
			}
			return out[i].Price.LessThan(out[j].Price)
		})
		return out
	}
	return OrderBook{AssetID: assetID, Bids: flatten(models.Buy), Asks: flatten(models.Sell)}
}

// GetOrderBook returns an asset's resting orders aggregated by price level
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	assetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asset ID")
		return
	}

	orders, err := h.Store.RestingOrders(r.Context(), assetID)
	if err != nil {
		h.fail(w, r, err, "Failed to retrieve order book")
		return
	}
	writeJSON(w, http.StatusOK, aggregate(assetID, orders))
}
