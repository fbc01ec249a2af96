package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"manulmonday/economy/internal/model"
	"manulmonday/economy/internal/service"
)

// IdempotencyKeyHeader carries the client key that makes retries of a
// currency-changing request safe.
const IdempotencyKeyHeader = "Idempotency-Key"

type EconomyHandler struct {
	svc    *service.EconomyService
	logger *zap.Logger
}

func NewEconomyHandler(svc *service.EconomyService, logger *zap.Logger) *EconomyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EconomyHandler{svc: svc, logger: logger}
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

type PurchaseItemRequest struct {
	ItemID string `json:"item_id"`
}

type PurchaseManulRequest struct {
	ManulID string `json:"manul_id"`
}

type SettleQuizRequest struct {
	Score   *int  `json:"score"`
	Answers []int `json:"answers"`
}

type SetActiveManulRequest struct {
	ManulID string `json:"manul_id"`
}

// RegisterUser opens the ledger of the authenticated user.
func (h *EconomyHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	user, err := h.svc.RegisterUser(r.Context(), Subject(r.Context()), req.Email, req.DisplayName)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *EconomyHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *EconomyHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	user, err := h.svc.UpdateDisplayName(r.Context(), chi.URLParam(r, "userID"), req.DisplayName)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *EconomyHandler) PurchaseItem(w http.ResponseWriter, r *http.Request) {
	var req PurchaseItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	res, err := h.svc.PurchaseItem(r.Context(), chi.URLParam(r, "userID"), req.ItemID, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, createdUnlessReplayed(res.Replayed), res)
}

func (h *EconomyHandler) PurchaseManul(w http.ResponseWriter, r *http.Request) {
	var req PurchaseManulRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	res, err := h.svc.PurchaseManul(r.Context(), chi.URLParam(r, "userID"), req.ManulID, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, createdUnlessReplayed(res.Replayed), res)
}

func (h *EconomyHandler) SettleQuiz(w http.ResponseWriter, r *http.Request) {
	var req SettleQuizRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	res, err := h.svc.SettleQuiz(r.Context(), service.SettleQuizRequest{
		UserID:         chi.URLParam(r, "userID"),
		QuizID:         chi.URLParam(r, "quizID"),
		Score:          req.Score,
		Answers:        req.Answers,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, createdUnlessReplayed(res.Replayed), res)
}

func (h *EconomyHandler) SetActiveManul(w http.ResponseWriter, r *http.Request) {
	var req SetActiveManulRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	user, err := h.svc.SetActiveManul(r.Context(), chi.URLParam(r, "userID"), req.ManulID)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *EconomyHandler) ApplyItem(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.ApplyItem(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "manulID"), chi.URLParam(r, "itemID"))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *EconomyHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.RemoveItem(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "manulID"), chi.URLParam(r, "itemID"))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *EconomyHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	kind := model.ReceiptKind(r.URL.Query().Get("kind"))
	receipts, err := h.svc.ListReceipts(r.Context(), chi.URLParam(r, "userID"), kind, limit)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

// A replayed request reports the recorded outcome without creating anything.
func createdUnlessReplayed(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}
