package usagelog

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/liftlog/liftlog-api/internal/api"
	"github.com/liftlog/liftlog-api/internal/auth"
)

type lister interface {
	ListByUser(ctx context.Context, userID string, params ListParams) ([]Event, int64, error)
}

// Handler serves the authenticated user's quota event history.
type Handler struct {
	repo lister
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListEvents returns paginated quota events for the authenticated user.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params, err := parseListParams(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	events, total, err := h.repo.ListByUser(r.Context(), claims.UserID, params)
	if err != nil {
		slog.Error("listing quota events", "error", err, "user_id", claims.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, events, total, params.Page, params.PageSize)
}

func parseListParams(r *http.Request) (ListParams, error) {
	params := DefaultListParams()
	q := r.URL.Query()

	params.Family = q.Get("family")
	params.Outcome = q.Get("outcome")

	if p := q.Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return params, api.NewValidationError("from must be an RFC 3339 timestamp")
		}
		params.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return params, api.NewValidationError("to must be an RFC 3339 timestamp")
		}
		params.To = &t
	}

	return params, nil
}
