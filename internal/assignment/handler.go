package assignment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/blocknest/blocknest/internal/platform/httpx"
	"github.com/blocknest/blocknest/internal/rbac"
)

// Handler wires the role-lifecycle HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the assignment handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		rbac:     rbacMW,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers the routes under /users/{userID}/roles. Mutations
// additionally carry a per-caller request throttle in front of the domain
// rate limit, so a misbehaving client burns its own budget only.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission("users", rbac.ActionManageRoles))
		r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(callerKey)))
		r.Post("/users/{userID}/roles", h.handleAssign)
		r.Delete("/users/{userID}/roles/{roleID}", h.handleRevoke)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission("users", rbac.ActionRead))
		r.Get("/users/{userID}/roles", h.handleList)
	})
}

func callerKey(r *http.Request) (string, error) {
	if ident, ok := rbac.IdentityFromContext(r.Context()); ok {
		return strconv.FormatInt(ident.UserID, 10), nil
	}
	return httprate.KeyByIP(r)
}

type assignRequest struct {
	RoleID    int64      `json:"role_id" validate:"required,gt=0"`
	ExpiresAt *time.Time `json:"expires_at"`
	Notes     string     `json:"notes" validate:"max=500"`
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	caller, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing caller identity", nil)
		return
	}
	targetID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := h.service.AssignRole(r.Context(), caller, AssignInput{
		TargetUserID: targetID,
		RoleID:       req.RoleID,
		ExpiresAt:    req.ExpiresAt,
		Notes:        req.Notes,
		IPAddress:    r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing caller identity", nil)
		return
	}
	targetID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}

	err := h.service.RevokeRole(r.Context(), caller, RevokeInput{
		TargetUserID: targetID,
		RoleID:       roleID,
		IPAddress:    r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"user_id": targetID, "role_id": roleID})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	targetID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	list, err := h.service.ListUserAssignments(r.Context(), targetID)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	type row struct {
		RoleID     int64         `json:"role_id"`
		RoleName   rbac.RoleName `json:"role_name"`
		AssignedBy int64         `json:"assigned_by"`
		AssignedAt time.Time     `json:"assigned_at"`
		ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
		Notes      string        `json:"notes,omitempty"`
		IsActive   bool          `json:"is_active"`
	}
	rows := make([]row, 0, len(list))
	for _, a := range list {
		rows = append(rows, row{
			RoleID:     a.RoleID,
			RoleName:   a.RoleName,
			AssignedBy: a.AssignedBy,
			AssignedAt: a.AssignedAt,
			ExpiresAt:  a.ExpiresAt,
			Notes:      a.Notes,
			IsActive:   a.IsActive,
		})
	}
	httpx.OK(w, http.StatusOK, rows)
}

// respondFailure translates service errors into the response envelope.
// Rejections map to stable codes and statuses; anything else is an opaque 500.
func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		httpx.Fail(w, statusFor(rejection.Code), string(rejection.Code), rejection.Message, rejection.Data)
		return
	}
	h.logger.Error("assignment request failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	httpx.Fail(w, http.StatusInternalServerError, string(CodeAssignmentError), "role assignment failed", nil)
}

func statusFor(code Code) int {
	switch code {
	case CodeUserNotFound, CodeRoleNotFound, CodeAssignmentNotFound:
		return http.StatusNotFound
	case CodeInsufficientPrivileges:
		return http.StatusForbidden
	case CodeRoleAlreadyAssigned, CodeRedundantRoleAssignment:
		return http.StatusConflict
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeSelfAssignmentForbidden, CodeUserInactive, CodeInvalidExpiration, CodeExpirationTooLong:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "INVALID_PATH", "path id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
