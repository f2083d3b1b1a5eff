// Package api exposes the interview, brief and ledger operations as a
// JSON HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/brifify/brifify/internal/assistant"
	"github.com/brifify/brifify/internal/brief"
	"github.com/brifify/brifify/internal/interview"
	"github.com/brifify/brifify/internal/ledger"
	"github.com/brifify/brifify/internal/models"
	"github.com/brifify/brifify/internal/storage"
)

type Handler struct {
	accounts    *ledger.Service
	driver      *interview.Driver
	synthesizer *brief.Synthesizer
	store       storage.Storage
	logger      *zap.Logger
}

func NewHandler(accounts *ledger.Service, driver *interview.Driver, synthesizer *brief.Synthesizer, store storage.Storage, logger *zap.Logger) *Handler {
	return &Handler{
		accounts:    accounts,
		driver:      driver,
		synthesizer: synthesizer,
		store:       store,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/users/resolve", h.handleResolveUser)
		r.Get("/users/{userID}/balance", h.handleBalance)
		r.Post("/interview/advance", h.handleAdvance)
		r.Post("/briefs/generate", h.handleGenerateBrief)
		r.Post("/tokens/credit", h.handleCreditTokens)

		r.Post("/briefs", h.handleSaveBrief)
		r.Get("/briefs", h.handleListBriefs)
		r.Get("/briefs/{briefID}", h.handleGetBrief)
		r.Delete("/briefs/{briefID}", h.handleDeleteBrief)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeLedgerError maps the shared ledger error taxonomy onto HTTP
// statuses. Returns false when err was nil.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ledger.ErrUserNotFound):
		Error(w, http.StatusNotFound, "User not found.")
	case errors.Is(err, ledger.ErrInsufficientTokens):
		JSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":           "No tokens available",
			"availableTokens": 0,
		})
	default:
		h.logger.Error("Ledger operation failed", zap.Error(err))
		Error(w, http.StatusInternalServerError, "Internal Server Error")
	}
	return true
}

type resolveUserRequest struct {
	UserID string `json:"userId"`
	Sub    string `json:"sub,omitempty"`
	Email  string `json:"email,omitempty"`
}

func (h *Handler) handleResolveUser(w http.ResponseWriter, r *http.Request) {
	var req resolveUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		Error(w, http.StatusBadRequest, "Missing userId")
		return
	}

	user, created, err := h.accounts.Resolve(r.Context(), req.UserID, ledger.ResolveOptions{
		Subject: req.Sub,
		Email:   req.Email,
	})
	if h.writeLedgerError(w, err) {
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user":  user,
		"isNew": created,
	})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		Error(w, http.StatusBadRequest, "Missing userId parameter")
		return
	}

	balance, err := h.accounts.Balance(r.Context(), userID)
	if h.writeLedgerError(w, err) {
		return
	}

	JSON(w, http.StatusOK, map[string]int{"availableTokens": balance})
}

type advanceRequest struct {
	UserID   string        `json:"userId"`
	Messages []models.Turn `json:"messages"`
	ThreadID string        `json:"threadId,omitempty"`
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || len(req.Messages) == 0 {
		Error(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	result, err := h.driver.Advance(r.Context(), req.UserID, req.Messages, req.ThreadID)
	switch {
	case err == nil:
	case errors.Is(err, interview.ErrEmptyHistory):
		Error(w, http.StatusBadRequest, "Conversation must end with a user answer")
		return
	case errors.Is(err, assistant.ErrRunTimeout), errors.Is(err, assistant.ErrRunFailed):
		h.logger.Error("Interview turn failed upstream", zap.Error(err), zap.String("user_id", req.UserID))
		Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	default:
		if h.writeLedgerError(w, err) {
			return
		}
	}

	JSON(w, http.StatusOK, result)
}

type generateBriefRequest struct {
	UserID        string                      `json:"userId"`
	Questionnaire []models.QuestionnaireEntry `json:"questionnaire,omitempty"`
	Messages      []models.Turn               `json:"messages,omitempty"`
}

type generateBriefResponse struct {
	Brief           *models.TechnicalBrief `json:"brief"`
	AvailableTokens int                    `json:"availableTokens"`
	Warning         string                 `json:"warning,omitempty"`
}

// handleGenerateBrief runs the charge-after-success protocol: synthesis
// first, then the token debit, then the response. A failed synthesis
// never charges. A failed charge after a successful synthesis is
// surfaced as a warning but does not discard the brief.
func (h *Handler) handleGenerateBrief(w http.ResponseWriter, r *http.Request) {
	var req generateBriefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		Error(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	questionnaire := req.Questionnaire
	if len(questionnaire) == 0 {
		questionnaire = brief.PairQuestionnaire(req.Messages)
	}
	if len(questionnaire) == 0 {
		Error(w, http.StatusBadRequest, "Invalid or missing questionnaire array")
		return
	}

	balance, err := h.accounts.Balance(r.Context(), req.UserID)
	if h.writeLedgerError(w, err) {
		return
	}
	if balance <= 0 {
		h.writeLedgerError(w, ledger.ErrInsufficientTokens)
		return
	}

	generated, err := h.synthesizer.Synthesize(r.Context(), questionnaire)
	if err != nil {
		if errors.Is(err, brief.ErrEmptyQuestionnaire) {
			Error(w, http.StatusBadRequest, "Invalid or missing questionnaire array")
			return
		}
		h.logger.Error("Brief synthesis failed", zap.Error(err), zap.String("user_id", req.UserID))
		Error(w, http.StatusInternalServerError, "Failed to generate structured brief.")
		return
	}

	if err := h.store.SaveBrief(r.Context(), req.UserID, generated); err != nil {
		h.logger.Error("Failed to persist brief",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("brief_id", generated.BriefID))
	}

	resp := generateBriefResponse{Brief: generated}
	newBalance, err := h.accounts.ChargeOne(r.Context(), req.UserID)
	if err != nil {
		// The brief is completed user value; a bookkeeping failure must
		// not discard it.
		h.logger.Error("Token charge failed after successful synthesis",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("brief_id", generated.BriefID))
		resp.AvailableTokens = balance
		resp.Warning = "Brief was generated but the token charge failed."
	} else {
		resp.AvailableTokens = newBalance
	}

	JSON(w, http.StatusOK, resp)
}

type creditTokensRequest struct {
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	Tokens    int    `json:"tokens"`
	Reference string `json:"reference,omitempty"`
}

func (h *Handler) handleCreditTokens(w http.ResponseWriter, r *http.Request) {
	var req creditTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		Error(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	if req.Tokens <= 0 {
		Error(w, http.StatusBadRequest, "tokens must be a positive number")
		return
	}

	_, err := h.accounts.Credit(r.Context(), req.UserID, req.Tokens, req.Reference, ledger.ResolveOptions{
		Email: req.Email,
	})
	if h.writeLedgerError(w, err) {
		return
	}

	user, err := h.store.GetUser(r.Context(), req.UserID)
	if err != nil || user == nil {
		h.logger.Error("Failed to load user after credit", zap.Error(err), zap.String("user_id", req.UserID))
		Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

type saveBriefRequest struct {
	UserID string                 `json:"userId"`
	Brief  *models.TechnicalBrief `json:"brief"`
}

func (h *Handler) handleSaveBrief(w http.ResponseWriter, r *http.Request) {
	var req saveBriefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Brief == nil {
		Error(w, http.StatusBadRequest, "Missing userId or brief")
		return
	}
	if req.Brief.ProjectTitle == "" {
		Error(w, http.StatusBadRequest, "brief must contain project_title")
		return
	}

	user, err := h.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("Failed to load user", zap.Error(err), zap.String("user_id", req.UserID))
		Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "User not found.")
		return
	}

	if req.Brief.BriefID == "" {
		req.Brief.BriefID = brief.NewBriefID()
	}

	if err := h.store.SaveBrief(r.Context(), req.UserID, req.Brief); err != nil {
		h.logger.Error("Failed to save brief",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("brief_id", req.Brief.BriefID))
		Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"brief":   req.Brief,
	})
}

func (h *Handler) handleListBriefs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		Error(w, http.StatusBadRequest, "Missing userId parameter")
		return
	}

	briefs, err := h.store.ListBriefs(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list briefs", zap.Error(err), zap.String("user_id", userID))
		Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if briefs == nil {
		briefs = []*models.TechnicalBrief{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"briefs":  briefs,
	})
}

func (h *Handler) handleGetBrief(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	briefID := chi.URLParam(r, "briefID")
	if userID == "" || briefID == "" {
		Error(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	found, err := h.store.GetBrief(r.Context(), userID, briefID)
	if errors.Is(err, storage.ErrNotFound) {
		Error(w, http.StatusNotFound, "Brief not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load brief", zap.Error(err), zap.String("brief_id", briefID))
		Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"brief": found})
}

func (h *Handler) handleDeleteBrief(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	briefID := chi.URLParam(r, "briefID")
	if userID == "" || briefID == "" {
		Error(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	err := h.store.DeleteBrief(r.Context(), userID, briefID)
	if errors.Is(err, storage.ErrNotFound) {
		Error(w, http.StatusNotFound, "Brief not found or does not belong to the specified user")
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete brief", zap.Error(err), zap.String("brief_id", briefID))
		Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}
