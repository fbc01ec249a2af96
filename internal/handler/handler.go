package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"manulmonday/economy/internal/metrics"
)

type Handler struct {
	router  *chi.Mux
	economy *EconomyHandler
	catalog *CatalogHandler
	auth    *Authenticator
	limiter *RateLimiter
	logger  *zap.Logger
}

func NewHandler(economy *EconomyHandler, catalog *CatalogHandler, auth *Authenticator, limiter *RateLimiter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(metrics.Middleware)

	h := &Handler{
		router:  router,
		economy: economy,
		catalog: catalog,
		auth:    auth,
		limiter: limiter,
		logger:  logger,
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.router.Handle("/metrics", metrics.Handler())

	h.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/items", h.catalog.ListItems)
			r.Get("/manuls", h.catalog.ListManuls)
		})
		r.Route("/quizzes", func(r chi.Router) {
			r.Get("/current", h.catalog.CurrentQuiz)
			r.Get("/upcoming", h.catalog.UpcomingQuizzes)
			r.Get("/{quizID}", h.catalog.GetQuiz)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)
			r.Use(h.limiter.Handler)

			r.Post("/users", h.economy.RegisterUser)
			r.Route("/users/{userID}", func(r chi.Router) {
				r.Use(RequireOwner)

				r.Get("/", h.economy.GetUser)
				r.Patch("/", h.economy.UpdateProfile)
				r.Post("/purchases/items", h.economy.PurchaseItem)
				r.Post("/purchases/manuls", h.economy.PurchaseManul)
				r.Post("/quizzes/{quizID}/settle", h.economy.SettleQuiz)
				r.Put("/active-manul", h.economy.SetActiveManul)
				r.Put("/manuls/{manulID}/items/{itemID}", h.economy.ApplyItem)
				r.Delete("/manuls/{manulID}/items/{itemID}", h.economy.RemoveItem)
				r.Get("/receipts", h.economy.ListReceipts)
			})
		})
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
