// Package users implements registration, the admin approval workflow,
// roles and profile maintenance for chat members.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cashoutai/tradedesk/internal/model"
	"github.com/cashoutai/tradedesk/internal/store"
)

// ErrBadCredentials is returned by Login for an unknown user or wrong
// password; the two cases are not distinguished.
var ErrBadCredentials = fmt.Errorf("invalid username or password: %w", model.ErrForbidden)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RegisterInput is a registration request.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	RealName string `json:"real_name" validate:"max=80"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// ProfileInput updates the editable profile fields.
type ProfileInput struct {
	RealName string `json:"real_name" validate:"max=80"`
	Email    string `json:"email" validate:"required,email"`
}

// ApproveInput is an admin decision on a pending user.
type ApproveInput struct {
	Approved bool   `json:"approved"`
	Role     string `json:"role" validate:"omitempty,oneof=member moderator admin"`
}

// Service manages users.
type Service struct {
	store store.Store
	cost  int
	now   func() time.Time
}

// NewService creates a user service over st.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		cost:  bcrypt.DefaultCost,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) SetHashCost(cost int) {
	s.cost = cost
}

// Register creates a PENDING user awaiting admin approval.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.RealName = strings.TrimSpace(in.RealName)
	in.Email = strings.TrimSpace(in.Email)
	if err := check(in); err != nil {
		return nil, err
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &model.User{
		ID:           uuid.New().String(),
		Username:     in.Username,
		RealName:     in.RealName,
		Email:        in.Email,
		PasswordHash: hash,
		Status:       model.StatusPending,
		LastSeen:     now,
		CreatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("username %q: %w", in.Username, err)
	}

	slog.Info("user registered", "user", u.ID, "username", u.Username)
	return u, nil
}

// Login checks credentials and marks an approved user online.
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}

	switch u.Status {
	case model.StatusPending:
		return nil, fmt.Errorf("account is pending admin approval: %w", model.ErrInvalidState)
	case model.StatusRejected:
		return nil, fmt.Errorf("account was rejected: %w", model.ErrInvalidState)
	}

	now := s.now()
	if err := s.store.SetPresence(ctx, u.ID, true, now); err != nil {
		return nil, err
	}
	u.IsOnline = true
	u.LastSeen = now
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	return s.store.GetUser(ctx, userID)
}

// ListUsers returns every user. Admins and moderators only.
func (s *Service) ListUsers(ctx context.Context, adminID string) ([]model.User, error) {
	if _, err := s.requireStaff(ctx, adminID); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

// ListPending returns users awaiting approval. Admins and moderators only.
func (s *Service) ListPending(ctx context.Context, adminID string) ([]model.User, error) {
	all, err := s.ListUsers(ctx, adminID)
	if err != nil {
		return nil, err
	}
	pending := []model.User{}
	for _, u := range all {
		if u.Status == model.StatusPending {
			pending = append(pending, u)
		}
	}
	return pending, nil
}

// Approve approves or rejects userID. Admins and moderators may approve;
// granting a role other than member requires an admin.
func (s *Service) Approve(ctx context.Context, adminID, userID string, in ApproveInput) (*model.User, error) {
	admin, err := s.requireStaff(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = model.RoleMember
	}
	if in.Role != model.RoleMember && !admin.IsAdmin {
		return nil, fmt.Errorf("only admins can grant %s: %w", in.Role, model.ErrForbidden)
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u.ApprovedAt = &now
	u.ApprovedBy = admin.ID
	if in.Approved {
		u.Status = model.StatusApproved
		applyRole(u, in.Role)
	} else {
		u.Status = model.StatusRejected
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}

	slog.Info("user reviewed", "user", u.ID, "status", string(u.Status), "role", u.Role(), "by", admin.ID)
	return u, nil
}

// SetRole changes userID's role. Admins only.
func (s *Service) SetRole(ctx context.Context, adminID, userID, role string) (*model.User, error) {
	if _, err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if err := validate.Var(role, "required,oneof=member moderator admin"); err != nil {
		return nil, fmt.Errorf("role must be member, moderator or admin: %w", model.ErrInvalidState)
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	applyRole(u, role)
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Remove deletes userID. Admins only; admins cannot remove themselves.
func (s *Service) Remove(ctx context.Context, adminID, userID string) error {
	if _, err := s.requireAdmin(ctx, adminID); err != nil {
		return err
	}
	if adminID == userID {
		return fmt.Errorf("admins cannot remove themselves: %w", model.ErrInvalidState)
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	slog.Info("user removed", "user", userID, "by", adminID)
	return nil
}

// UpdateProfile changes the real name and email.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*model.User, error) {
	in.RealName = strings.TrimSpace(in.RealName)
	in.Email = strings.TrimSpace(in.Email)
	if err := check(in); err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.RealName = in.RealName
	u.Email = in.Email
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if err := validate.Var(next, "required,min=6,max=72"); err != nil {
		return fmt.Errorf("new password must be 6-72 characters: %w", model.ErrInvalidState)
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return fmt.Errorf("current password is incorrect: %w", model.ErrForbidden)
	}
	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return s.store.UpdateUser(ctx, u)
}

// SetAvatar stores an avatar data URL on the user.
func (s *Service) SetAvatar(ctx context.Context, userID, dataURL string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.AvatarURL = dataURL
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetOnline records presence changes from the chat connection registry.
// Only the presence columns are written, so a concurrent profile, role or
// password change is never overwritten.
func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	return s.store.SetPresence(ctx, userID, online, s.now())
}

// EnsureAdmin creates an approved admin account if username is free.
func (s *Service) EnsureAdmin(ctx context.Context, username, password, email string) (*model.User, error) {
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		RealName:     "Administrator",
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      true,
		Status:       model.StatusApproved,
		LastSeen:     now,
		CreatedAt:    now,
		ApprovedAt:   &now,
		ApprovedBy:   "system",
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	slog.Info("admin account seeded", "user", u.ID, "username", username)
	return u, nil
}

func (s *Service) requireStaff(ctx context.Context, adminID string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, adminID)
	if err != nil || !(u.IsAdmin || u.IsModerator) {
		return nil, fmt.Errorf("admin or moderator access required: %w", model.ErrForbidden)
	}
	return u, nil
}

func (s *Service) requireAdmin(ctx context.Context, adminID string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, adminID)
	if err != nil || !u.IsAdmin {
		return nil, fmt.Errorf("admin access required: %w", model.ErrForbidden)
	}
	return u, nil
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func applyRole(u *model.User, role string) {
	u.IsAdmin = role == model.RoleAdmin
	u.IsModerator = role == model.RoleModerator
}

// check runs struct validation and reports the first failing field.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%s failed %q validation: %w", fe.Field(), fe.Tag(), model.ErrInvalidState)
	}
	return fmt.Errorf("%v: %w", err, model.ErrInvalidState)
}
