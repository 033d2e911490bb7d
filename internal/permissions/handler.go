package permissions

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dmsqa/permcore/internal/platform/httpx"
	"github.com/dmsqa/permcore/internal/shared"
)

// CleanupEnqueuer schedules an expired-override sweep to run out of band.
type CleanupEnqueuer interface {
	EnqueueCleanup(userID int64) error
}

// Handler exposes the permission endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer CleanupEnqueuer
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, enqueuer CleanupEnqueuer) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		enqueuer: enqueuer,
		validate: validator.New(),
	}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/users/{userID}", h.resolveUser)
	r.Get("/users/{userID}/overrides", h.listOverrides)
	r.Get("/users/{userID}/history", h.userHistory)
	r.Post("/overrides", h.grant)
	r.Post("/overrides/batch", h.batchGrant)
	r.Post("/overrides/restore", h.restore)
	r.Delete("/overrides/{id}", h.revoke)
	r.Get("/history", h.history)
	r.Post("/cleanup-expired", h.cleanupExpired)
}

func (h *Handler) resolveUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user id must be an integer")
		return
	}
	perms, err := h.service.Resolve(r.Context(), userID)
	if err != nil {
		h.logger.Error("resolve permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"permissions": perms,
	})
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user id must be an integer")
		return
	}
	overrides, err := h.service.ListOverrides(r.Context(), userID)
	if err != nil {
		h.logger.Error("list overrides", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"overrides": overrides,
	})
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var spec GrantSpec
	if err := httpx.DecodeJSON(r, &spec); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(spec); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	created, err := h.service.Grant(r.Context(), spec, identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

type batchGrantRequest struct {
	Items []GrantSpec `json:"items" validate:"required,min=1,max=100,dive"`
}

func (h *Handler) batchGrant(w http.ResponseWriter, r *http.Request) {
	var req batchGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	result, err := h.service.BatchGrant(r.Context(), req.Items, identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type restoreRequest struct {
	UserID int64           `json:"user_id" validate:"required,gt=0"`
	MenuID int64           `json:"menu_id" validate:"required,gt=0"`
	Type   PermissionType  `json:"type"`
	Level  PermissionLevel `json:"level"`
	Reason *string         `json:"reason,omitempty"`
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	restored, err := h.service.Restore(r.Context(), req.UserID, req.MenuID, req.Type, req.Level, req.Reason, identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, restored)
}

type revokeRequest struct {
	Reason *string `json:"reason,omitempty"`
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	overrideID, err := pathInt64(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "override id must be an integer")
		return
	}
	var req revokeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
			return
		}
	}
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if err := h.service.Revoke(r.Context(), overrideID, req.Reason, identity.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	filters, err := historyFiltersFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entries, pagination, err := h.service.History(r.Context(), filters)
	if err != nil {
		h.logger.Error("query history", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": pagination,
	})
}

func (h *Handler) userHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user id must be an integer")
		return
	}
	filters, err := historyFiltersFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	filters.UserID = userID
	entries, pagination, err := h.service.History(r.Context(), filters)
	if err != nil {
		h.logger.Error("query history", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": pagination,
	})
}

func (h *Handler) cleanupExpired(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if h.enqueuer != nil {
		if err := h.enqueuer.EnqueueCleanup(identity.UserID); err != nil {
			h.logger.Error("enqueue cleanup", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"status": "scheduled"})
		return
	}
	count, err := h.service.CleanupExpired(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deactivated": count})
}

func historyFiltersFromQuery(r *http.Request) (HistoryFilters, error) {
	q := r.URL.Query()
	var filters HistoryFilters

	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filters, shared.ErrValidationf("user_id must be an integer")
		}
		filters.UserID = id
	}
	if raw := q.Get("menu_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filters, shared.ErrValidationf("menu_id must be an integer")
		}
		filters.MenuID = &id
	}
	if raw := q.Get("action_code"); raw != "" {
		filters.ActionCode = &raw
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, shared.ErrValidationf("from must be RFC3339")
		}
		filters.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, shared.ErrValidationf("to must be RFC3339")
		}
		filters.To = t
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	return filters, nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
