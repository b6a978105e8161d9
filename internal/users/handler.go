package users

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cashoutai/tradedesk/internal/httpjson"
)

// Handler serves user and admin endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates HTTP handlers for svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the user endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Get("/users/{userID}", h.GetUser)
	r.Put("/users/{userID}/profile", h.UpdateProfile)
	r.Post("/users/{userID}/password", h.ChangePassword)
	r.Post("/users/{userID}/avatar", h.UploadAvatar)

	r.Route("/admin/users", func(r chi.Router) {
		r.Get("/", h.ListUsers)
		r.Get("/pending", h.ListPending)
		r.Post("/{userID}/approve", h.Approve)
		r.Post("/{userID}/role", h.SetRole)
		r.Delete("/{userID}", h.Remove)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// Register handles POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpjson.Decode(w, r, &in); err != nil {
		httpjson.Error(w, err)
		return
	}
	u, err := h.svc.Register(r.Context(), in)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{
		"message": "Registration submitted. Await admin approval.",
		"user":    u,
	})
}

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.Error(w, err)
		return
	}
	u, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, u)
}

// GetUser handles GET /api/users/{userID}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, u)
}

// UpdateProfile handles PUT /api/users/{userID}/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in ProfileInput
	if err := httpjson.Decode(w, r, &in); err != nil {
		httpjson.Error(w, err)
		return
	}
	u, err := h.svc.UpdateProfile(r.Context(), chi.URLParam(r, "userID"), in)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, u)
}

// ChangePassword handles POST /api/users/{userID}/password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.Error(w, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), chi.URLParam(r, "userID"), req.CurrentPassword, req.NewPassword); err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

// UploadAvatar handles POST /api/users/{userID}/avatar (multipart "file").
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	dataURL, err := httpjson.ReadImage(r, "file", httpjson.MaxAvatarBytes)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	u, err := h.svc.SetAvatar(r.Context(), chi.URLParam(r, "userID"), dataURL)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]string{
		"message":    "Avatar updated successfully",
		"avatar_url": u.AvatarURL,
	})
}

// ListUsers handles GET /api/admin/users?admin_id=
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListUsers(r.Context(), r.URL.Query().Get("admin_id"))
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// ListPending handles GET /api/admin/users/pending?admin_id=
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPending(r.Context(), r.URL.Query().Get("admin_id"))
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// Approve handles POST /api/admin/users/{userID}/approve?admin_id=
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var in ApproveInput
	if err := httpjson.Decode(w, r, &in); err != nil {
		httpjson.Error(w, err)
		return
	}
	u, err := h.svc.Approve(r.Context(), r.URL.Query().Get("admin_id"), chi.URLParam(r, "userID"), in)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, u)
}

// SetRole handles POST /api/admin/users/{userID}/role?admin_id=
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.Error(w, err)
		return
	}
	u, err := h.svc.SetRole(r.Context(), r.URL.Query().Get("admin_id"), chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, u)
}

// Remove handles DELETE /api/admin/users/{userID}?admin_id=
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), r.URL.Query().Get("admin_id"), chi.URLParam(r, "userID")); err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]string{"message": "User removed successfully"})
}
