package api

import (
	"context"
	"net/http"

	"github.com/okian/runac/internal/domain/model"
)

// UserDependencies manages members.
type UserDependencies interface {
	CreateUser(ctx context.Context, name string) (model.User, error)
	GetUser(ctx context.Context, seq int64) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateProfile(ctx context.Context, actor, seq int64, name, intro string) (model.User, error)
}

// UserHandler handles member requests.
type UserHandler struct {
	deps UserDependencies
}

// NewUserHandler creates a new user handler.
func NewUserHandler(deps UserDependencies) *UserHandler {
	return &UserHandler{deps: deps}
}

type createUserRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type updateUserRequest struct {
	Name  string `json:"name" validate:"max=64"`
	Intro string `json:"intro" validate:"max=500"`
}

// HandleCreate handles POST /api/users.
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_user"
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		fail(w, op, err)
		return
	}
	u, err := h.deps.CreateUser(r.Context(), req.Name)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// HandleList handles GET /api/users.
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.deps.ListUsers(r.Context())
	if err != nil {
		fail(w, "api.list_users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleGet handles GET /api/users/{seq}.
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_user"
	seq, err := pathSeq(r, "seq")
	if err != nil {
		fail(w, op, err)
		return
	}
	u, err := h.deps.GetUser(r.Context(), seq)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleUpdate handles PUT /api/users/{seq}.
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_user"
	seq, err := pathSeq(r, "seq")
	if err != nil {
		fail(w, op, err)
		return
	}
	var req updateUserRequest
	if err := decode(r, &req); err != nil {
		fail(w, op, err)
		return
	}
	actor, _ := UserFromContext(r.Context())
	u, err := h.deps.UpdateProfile(r.Context(), actor, seq, req.Name, req.Intro)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
