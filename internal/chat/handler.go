package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cashoutai/tradedesk/internal/httpjson"
)

// Handler serves chat endpoints and the WebSocket upgrade.
type Handler struct {
	svc *Service
	hub *Hub
}

// NewHandler creates HTTP handlers for svc and hub.
func NewHandler(svc *Service, hub *Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Routes mounts the chat endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/chat/messages", h.ListMessages)
	r.Post("/chat/messages", h.PostMessage)
	r.Post("/chat/images", h.UploadImage)
	r.Get("/chat/online", h.Online)
}

// WSRoutes mounts the WebSocket upgrade. It is kept apart from Routes so
// request timeouts are not applied to long-lived connections.
func (h *Handler) WSRoutes(r chi.Router) {
	r.Get("/ws/{userID}", h.ServeWS)
}

// ListMessages handles GET /api/chat/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListMessages(r.Context())
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, msgs)
}

// PostMessage handles POST /api/chat/messages?user_id=
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var in PostInput
	if err := httpjson.Decode(w, r, &in); err != nil {
		httpjson.Error(w, err)
		return
	}
	m, err := h.svc.PostMessage(r.Context(), r.URL.Query().Get("user_id"), in)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, m)
}

// UploadImage handles POST /api/chat/images?user_id= (multipart "file").
// The returned image_url is then posted with a message.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.ApprovedUser(r.Context(), r.URL.Query().Get("user_id")); err != nil {
		httpjson.Error(w, err)
		return
	}
	dataURL, err := httpjson.ReadImage(r, "file", httpjson.MaxChatImageBytes)
	if err != nil {
		httpjson.Error(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]string{"image_url": dataURL})
}

// Online handles GET /api/chat/online
func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, map[string]any{
		"count": h.hub.OnlineCount(),
		"users": h.hub.OnlineUsers(),
	})
}

// ServeWS handles GET /api/ws/{userID}
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := h.svc.ApprovedUser(r.Context(), userID); err != nil {
		httpjson.Error(w, err)
		return
	}
	h.hub.Serve(w, r, userID)
}
