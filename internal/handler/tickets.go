package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/supportiq/assist/internal/middleware"
	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/ticket"
	"github.com/supportiq/assist/pkg/logger"
)

// TicketHandler handles ticket lookup endpoints.
type TicketHandler struct {
	index  ticket.Index
	logger *logger.Logger
}

// NewTicketHandler creates a new ticket handler.
func NewTicketHandler(index ticket.Index, log *logger.Logger) *TicketHandler {
	return &TicketHandler{
		index:  index,
		logger: log,
	}
}

func searchParams(r *http.Request) (status model.Status, limit int, err error) {
	status = ticket.StatusAll
	if s := r.URL.Query().Get("status"); s != "" {
		status = model.Status(s)
		if status != ticket.StatusAll && !status.Valid() {
			return "", 0, errInvalidStatus
		}
	}

	limit = 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, perr := strconv.Atoi(l); perr == nil && parsed > 0 {
			limit = parsed
		}
	}
	return status, limit, nil
}

var errInvalidStatus = errors.New("invalid status filter")

// Search handles GET /api/v1/tickets/search
func (h *TicketHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	query := r.URL.Query().Get("q")
	if err := middleware.ValidateSearchQuery(query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, limit, err := searchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var result ticket.SearchResult
	if query == "" {
		result, err = h.index.Recent(ctx, userID, status, limit)
	} else {
		result, err = h.index.Search(ctx, userID, query, status, limit)
	}
	if err != nil {
		h.logger.Error("ticket search failed")
		writeError(w, http.StatusInternalServerError, "ticket search failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Recent handles GET /api/v1/tickets/recent
func (h *TicketHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	status, limit, err := searchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.index.Recent(ctx, userID, status, limit)
	if err != nil {
		h.logger.Error("recent tickets lookup failed")
		writeError(w, http.StatusInternalServerError, "recent tickets lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Get handles GET /api/v1/tickets/{id}
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	ticketID := chi.URLParam(r, "id")

	if err := middleware.ValidateTicketID(ticketID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.index.Get(ctx, ticketID)
	if err != nil {
		writeError(w, errorStatus(err), "ticket not found")
		return
	}
	if t.UserID != userID {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
