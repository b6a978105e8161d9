// Package chat stores team chat messages, highlights $TICKER mentions and
// fans messages and engine events out to WebSocket clients.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cashoutai/tradedesk/internal/metrics"
	"github.com/cashoutai/tradedesk/internal/model"
	"github.com/cashoutai/tradedesk/internal/store"
	"github.com/cashoutai/tradedesk/internal/ticker"
)

// Message types.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// DefaultHistoryLimit is how many recent messages ListMessages returns.
const DefaultHistoryLimit = 100

// MaxContentRunes bounds a message body.
const MaxContentRunes = 2000

// PostInput is a new chat message.
type PostInput struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url"`
}

// Service posts and lists chat messages.
type Service struct {
	store        store.Store
	hub          *Hub
	historyLimit int
	now          func() time.Time
}

// NewService creates a chat service. hub may be nil; historyLimit <= 0
// uses DefaultHistoryLimit.
func NewService(st store.Store, hub *Hub, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Service{
		store:        st,
		hub:          hub,
		historyLimit: historyLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// PostMessage stores a message from an approved user and broadcasts it as
// a new_message event.
func (s *Service) PostMessage(ctx context.Context, userID string, in PostInput) (*model.Message, error) {
	u, err := s.ApprovedUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(in.Content)
	if content == "" && in.ImageURL == "" {
		return nil, fmt.Errorf("message is empty: %w", model.ErrInvalidState)
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return nil, fmt.Errorf("message longer than %d characters: %w", MaxContentRunes, model.ErrInvalidState)
	}
	msgType := TypeText
	if in.ImageURL != "" {
		if !strings.HasPrefix(in.ImageURL, "data:image/") {
			return nil, fmt.Errorf("image_url must be an uploaded image: %w", model.ErrInvalidState)
		}
		msgType = TypeImage
	}

	m := &model.Message{
		ID:                 uuid.New().String(),
		UserID:             u.ID,
		Username:           u.Username,
		RealName:           u.RealName,
		Content:            content,
		IsAdmin:            u.IsAdmin,
		IsModerator:        u.IsModerator,
		AvatarURL:          u.AvatarURL,
		Timestamp:          s.now(),
		HighlightedTickers: ticker.Extract(content),
		ImageURL:           in.ImageURL,
		MessageType:        msgType,
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	metrics.ChatMessages.WithLabelValues(msgType).Inc()
	slog.Info("chat message posted", "message_id", m.ID, "user", u.ID, "tickers", m.HighlightedTickers)

	if s.hub != nil {
		s.hub.Broadcast(Envelope{Type: "new_message", UserID: u.ID, Data: m})
	}
	return m, nil
}

// ListMessages returns the most recent messages, oldest first.
func (s *Service) ListMessages(ctx context.Context) ([]model.Message, error) {
	msgs, err := s.store.ListMessages(ctx, s.historyLimit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// ApprovedUser loads userID and requires APPROVED status.
func (s *Service) ApprovedUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required: %w", model.ErrInvalidState)
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Approved() {
		return nil, fmt.Errorf("user %s is not approved: %w", userID, model.ErrInvalidState)
	}
	return u, nil
}
