// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supportiq/assist/internal/middleware"
	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/session"
	"github.com/supportiq/assist/pkg/logger"
)

// ChatHandler exposes the session surface: submissions, conversation
// switching, the attachment set, and the mention popover.
type ChatHandler struct {
	sessions *session.Manager
	logger   *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(sessions *session.Manager, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		logger:   log,
	}
}

type submitRequest struct {
	Message string `json:"message"`
}

type sessionView struct {
	Phase             string            `json:"phase"`
	ConversationID    string            `json:"conversation_id,omitempty"`
	Messages          []model.Message   `json:"messages"`
	AttachedTickets   []model.TicketRef `json:"attached_tickets"`
	AttachedTicketIDs []string          `json:"attached_ticket_ids"`
}

type mentionView struct {
	State         string            `json:"state"`
	Results       []model.TicketRef `json:"results"`
	SelectedIndex int               `json:"selected_index"`
}

func (h *ChatHandler) controller(r *http.Request) *session.Controller {
	userID := middleware.GetUserID(r.Context())
	return h.sessions.GetOrCreate(r.Context(), userID)
}

// Submit handles POST /api/v1/chat
func (h *ChatHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := h.controller(r)
	result, err := c.Submit(r.Context(), req.Message)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if result == nil {
		// The session moved on before the completion landed.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Session handles GET /api/v1/chat
func (h *ChatHandler) Session(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	writeJSON(w, http.StatusOK, sessionView{
		Phase:             c.Phase().String(),
		ConversationID:    c.ActiveConversationID(),
		Messages:          c.Messages(),
		AttachedTickets:   c.Attachments().List(),
		AttachedTicketIDs: c.Attachments().Snapshot(),
	})
}

// NewChat handles POST /api/v1/chat/new
func (h *ChatHandler) NewChat(w http.ResponseWriter, r *http.Request) {
	h.controller(r).NewChat()
	w.WriteHeader(http.StatusNoContent)
}

type selectRequest struct {
	ConversationID string `json:"conversation_id"`
}

// Select handles POST /api/v1/chat/select
func (h *ChatHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := h.controller(r)
	if err := c.SelectConversation(r.Context(), req.ConversationID); err != nil {
		writeError(w, errorStatus(err), "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		Phase:             c.Phase().String(),
		ConversationID:    c.ActiveConversationID(),
		Messages:          c.Messages(),
		AttachedTickets:   c.Attachments().List(),
		AttachedTicketIDs: c.Attachments().Snapshot(),
	})
}

// ListAttachments handles GET /api/v1/chat/attachments
func (h *ChatHandler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attached_tickets": c.Attachments().List(),
	})
}

// Detach handles DELETE /api/v1/chat/attachments/{ticketID}
func (h *ChatHandler) Detach(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	if err := middleware.ValidateTicketID(ticketID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.controller(r).Attachments().Detach(ticketID)
	w.WriteHeader(http.StatusNoContent)
}

// OpenMention handles POST /api/v1/chat/mention
func (h *ChatHandler) OpenMention(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	c.Mentions().Open(c.Attachments().Snapshot())
	w.WriteHeader(http.StatusNoContent)
}

type mentionQueryRequest struct {
	Query string `json:"query"`
}

// QueryMention handles PUT /api/v1/chat/mention
func (h *ChatHandler) QueryMention(w http.ResponseWriter, r *http.Request) {
	var req mentionQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateSearchQuery(req.Query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.controller(r).Mentions().SetQuery(req.Query)
	w.WriteHeader(http.StatusNoContent)
}

// MentionState handles GET /api/v1/chat/mention
func (h *ChatHandler) MentionState(w http.ResponseWriter, r *http.Request) {
	m := h.controller(r).Mentions()
	writeJSON(w, http.StatusOK, mentionView{
		State:         m.State().String(),
		Results:       m.Results(),
		SelectedIndex: m.SelectedIndex(),
	})
}

type mentionMoveRequest struct {
	Direction string `json:"direction"`
}

// MoveMention handles POST /api/v1/chat/mention/move
func (h *ChatHandler) MoveMention(w http.ResponseWriter, r *http.Request) {
	var req mentionMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m := h.controller(r).Mentions()
	switch req.Direction {
	case "up":
		m.MoveUp()
	case "down":
		m.MoveDown()
	default:
		writeError(w, http.StatusBadRequest, "direction must be up or down")
		return
	}
	writeJSON(w, http.StatusOK, mentionView{
		State:         m.State().String(),
		Results:       m.Results(),
		SelectedIndex: m.SelectedIndex(),
	})
}

// SelectMention handles POST /api/v1/chat/mention/select. The highlighted
// ticket joins the attachment set and the popover closes.
func (h *ChatHandler) SelectMention(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	ref, ok := c.Mentions().SelectCurrent()
	if !ok {
		writeError(w, http.StatusConflict, "no ticket highlighted")
		return
	}
	c.Attachments().Attach(ref)
	c.Mentions().Close()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attached_tickets": c.Attachments().List(),
	})
}

// CloseMention handles DELETE /api/v1/chat/mention
func (h *ChatHandler) CloseMention(w http.ResponseWriter, r *http.Request) {
	h.controller(r).Mentions().Close()
	w.WriteHeader(http.StatusNoContent)
}
