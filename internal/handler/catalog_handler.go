package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"manulmonday/economy/internal/model"
	"manulmonday/economy/internal/service"
)

type CatalogHandler struct {
	svc    *service.CatalogService
	logger *zap.Logger
}

func NewCatalogHandler(svc *service.CatalogService, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{svc: svc, logger: logger}
}

func (h *CatalogHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListCatalog(r.Context(), model.ItemType(r.URL.Query().Get("type")))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandler) ListManuls(w http.ResponseWriter, r *http.Request) {
	manuls, err := h.svc.ListManuls(r.Context())
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"manuls": manuls})
}

// CurrentQuiz answers {"quiz": null} when nothing is live.
func (h *CatalogHandler) CurrentQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.svc.CurrentQuiz(r.Context())
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quiz": quiz})
}

func (h *CatalogHandler) UpcomingQuizzes(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	quizzes, err := h.svc.UpcomingQuizzes(r.Context(), limit)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": quizzes})
}

func (h *CatalogHandler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.svc.GetQuiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// queryInt parses an optional non-negative integer query parameter; absent is 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", model.ErrValidation, name)
	}
	return v, nil
}
