package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions holds the endpoints served next to the API
type RouterOptions struct {
	AllowedOrigins []string
	Events         http.Handler // WebSocket event stream, optional
	Metrics        http.Handler // Prometheus exposition, optional
}

// NewRouter mounts every route on a chi router
func NewRouter(h *Handler, opts RouterOptions) chi.Router {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", OperatorHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.Events != nil {
		r.Handle("/ws", opts.Events)
	}

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/assets", h.ListAssets)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.GetUserOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/trades", h.GetUserTrades)
		r.Get("/balances", h.GetUserBalances)
		r.Get("/assets/{id}/book", h.GetOrderBook)
	})

	// Operator endpoints
	r.Group(func(r chi.Router) {
		r.Use(h.OperatorMiddleware)
		r.Post("/settlements/{tradeID}", h.ConfirmSettlement)
		r.Post("/assets/{id}/status", h.SetAssetStatus)
	})

	return r
}
