package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phoneauth/server/internal/admin"
	"github.com/phoneauth/server/internal/apperr"
	"github.com/phoneauth/server/internal/http/respond"
	"github.com/phoneauth/server/internal/middleware"
	"github.com/phoneauth/server/internal/model"
	"github.com/phoneauth/server/internal/repo"
)

// AdminHandler serves the /admin surface. The router guarantees an active
// admin in the request context.
type AdminHandler struct {
	admin *admin.Service
}

func NewAdminHandler(svc *admin.Service) *AdminHandler {
	return &AdminHandler{admin: svc}
}

type createUserRequest struct {
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	Role        string `json:"role" validate:"omitempty,max=16"`
}

type updateRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// Pointer so a missing field is distinguishable from false
type updateStatusRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type userActionResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	User    *model.User `json:"user,omitempty"`
}

type adminListResponse struct {
	Total int          `json:"total"`
	Items []model.User `json:"items"`
}

func actorID(r *http.Request) string {
	if u, ok := middleware.GetUser(r.Context()); ok {
		return u.ID
	}
	return ""
}

// HandleListUsers handles GET /admin/users?skip&limit&role&is_active
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", admin.DefaultLimit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	var filter repo.UserFilter
	if raw := r.URL.Query().Get("role"); raw != "" {
		role, ok := model.ParseRole(raw)
		if !ok {
			respond.Error(w, r, apperr.BadRequest("invalid role, must be admin or ordinary"))
			return
		}
		filter.Role = &role
	}
	if filter.IsActive, err = queryBool(r, "is_active"); err != nil {
		respond.Error(w, r, err)
		return
	}

	page, err := h.admin.ListUsers(r.Context(), filter, skip, limit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []model.User{}
	}
	respond.JSON(w, http.StatusOK, page)
}

// HandleGetUser handles GET /admin/users/{id}
func (h *AdminHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.admin.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, u)
}

// HandleCreateUser handles POST /admin/users
func (h *AdminHandler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	u, err := h.admin.CreateUser(r.Context(), admin.CreateUserInput{
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Password:    req.Password,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Role:        model.Role(req.Role),
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, u)
}

// HandleUpdateRole handles PATCH /admin/users/{id}/role
func (h *AdminHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	u, err := h.admin.UpdateRole(r.Context(), actorID(r), chi.URLParam(r, "id"), model.Role(req.Role))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, userActionResponse{
		Status:  "success",
		Message: fmt.Sprintf("User role updated to %s", u.Role),
		User:    u,
	})
}

// HandleUpdateStatus handles PATCH /admin/users/{id}/status
func (h *AdminHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	u, err := h.admin.UpdateStatus(r.Context(), actorID(r), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	state := "deactivated"
	if u.IsActive {
		state = "activated"
	}
	respond.JSON(w, http.StatusOK, userActionResponse{
		Status:  "success",
		Message: fmt.Sprintf("User %s successfully", state),
		User:    u,
	})
}

// HandleDeleteUser handles DELETE /admin/users/{id}
func (h *AdminHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.admin.DeleteUser(r.Context(), actorID(r), id); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, userActionResponse{
		Status:  "success",
		Message: fmt.Sprintf("User %s deleted successfully", id),
	})
}

// HandleListAdmins handles GET /admin/admins
func (h *AdminHandler) HandleListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.admin.ListAdmins(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if admins == nil {
		admins = []model.User{}
	}
	respond.JSON(w, http.StatusOK, adminListResponse{Total: len(admins), Items: admins})
}

// HandleStats handles GET /admin/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.admin.Stats(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}
