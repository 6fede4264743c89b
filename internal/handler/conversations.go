package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/supportiq/assist/internal/engine"
	"github.com/supportiq/assist/internal/events"
	"github.com/supportiq/assist/internal/middleware"
	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/session"
	"github.com/supportiq/assist/internal/sidebar"
	"github.com/supportiq/assist/internal/store"
	"github.com/supportiq/assist/pkg/logger"
)

// ConversationHandler handles conversation history endpoints.
type ConversationHandler struct {
	store     store.Store
	engine    *engine.Service
	sessions  *session.Manager
	publisher *events.Publisher
	logger    *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st store.Store, eng *engine.Service, sessions *session.Manager, publisher *events.Publisher, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:     st,
		engine:    eng,
		sessions:  sessions,
		publisher: publisher,
		logger:    log,
	}
}

// List handles GET /api/v1/conversations. Results come back grouped into
// sidebar recency buckets.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	convs, err := h.store.List(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list conversations")
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": sidebar.GroupByRecency(convs, time.Now()),
		"total":  len(convs),
	})
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.store.Get(ctx, userID, conversationID)
	if err != nil {
		writeError(w, errorStatus(err), "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}. Goes through the
// session so deleting the active conversation also resets the draft.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := h.sessions.GetOrCreate(ctx, userID)
	if err := c.DeleteConversation(ctx, conversationID); err != nil {
		h.logger.Error("failed to delete conversation")
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	h.publisher.Publish(ctx, events.Event{
		Type:           events.TypeConversationDeleted,
		UserID:         userID,
		ConversationID: conversationID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// PatchTickets handles PATCH /api/v1/conversations/{id}/tickets. The
// attached-ticket set is replaced wholesale with the request body.
func (h *ConversationHandler) PatchTickets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.PatchTicketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, id := range req.TicketIDs {
		if err := middleware.ValidateTicketID(id); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ids, err := h.store.ReplaceAttachedTickets(ctx, userID, conversationID, req.TicketIDs)
	if err != nil {
		writeError(w, errorStatus(err), "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, model.PatchTicketsResponse{AttachedTicketIDs: ids})
}

// GenerateTitle handles POST /api/v1/conversations/{id}/generate-title
func (h *ConversationHandler) GenerateTitle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	title, generated, err := h.engine.GenerateTitle(ctx, userID, conversationID)
	if err != nil {
		writeError(w, errorStatus(err), "failed to generate title")
		return
	}
	writeJSON(w, http.StatusOK, model.TitleResponse{Title: title, Generated: generated})
}
