// Package admin implements user management for administrators.
package admin

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/phoneauth/server/internal/apperr"
	"github.com/phoneauth/server/internal/auth"
	"github.com/phoneauth/server/internal/logger"
	"github.com/phoneauth/server/internal/model"
	"github.com/phoneauth/server/internal/repo"
)

const (
	DefaultLimit = 100
	MaxLimit     = 100
)

// UserPage is one page of a user listing
type UserPage struct {
	Total int          `json:"total"`
	Skip  int          `json:"skip"`
	Limit int          `json:"limit"`
	Items []model.User `json:"items"`
}

// CreateUserInput is an admin-initiated user creation; no OTP involved
type CreateUserInput struct {
	PhoneNumber string
	Password    string
	FirstName   string
	LastName    string
	Role        model.Role
}

// Service wraps the user store with the admin invariants: no self-targeting
// and never zero admins.
type Service struct {
	users  repo.UserRepo
	hasher *auth.Hasher
	log    zerolog.Logger
}

func NewService(users repo.UserRepo, hasher *auth.Hasher, log zerolog.Logger) *Service {
	return &Service{
		users:  users,
		hasher: hasher,
		log:    log.With().Str("component", "admin").Logger(),
	}
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return apperr.NotFound("user not found")
	case errors.Is(err, repo.ErrLastAdmin):
		return apperr.Conflict("cannot remove the last admin")
	case errors.Is(err, repo.ErrPhoneTaken):
		return apperr.Conflict("user with this phone number already exists")
	default:
		return apperr.Internal(err)
	}
}

// ListUsers returns a page of users. limit is clamped to [1, MaxLimit],
// non-positive meaning DefaultLimit; negative skip becomes 0.
func (s *Service) ListUsers(ctx context.Context, filter repo.UserFilter, skip, limit int) (*UserPage, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	users, total, err := s.users.List(ctx, repo.ListParams{Filter: filter, Skip: skip, Limit: limit})
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return &UserPage{Total: total, Skip: skip, Limit: limit, Items: users}, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return u, nil
}

// UpdateRole changes another user's role
func (s *Service) UpdateRole(ctx context.Context, actorID, id string, role model.Role) (*model.User, error) {
	if actorID == id {
		return nil, apperr.BadRequest("you cannot change your own role")
	}
	role, ok := model.ParseRole(string(role))
	if !ok {
		return nil, apperr.BadRequest("invalid role, must be admin or ordinary")
	}

	u, err := s.users.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.log.Info().Str("actor_id", actorID).Str("user_id", id).Str("role", string(role)).Msg("user role changed")
	return u, nil
}

// UpdateStatus activates or deactivates another user
func (s *Service) UpdateStatus(ctx context.Context, actorID, id string, isActive bool) (*model.User, error) {
	if actorID == id {
		return nil, apperr.BadRequest("you cannot change your own status")
	}

	u, err := s.users.UpdateStatus(ctx, id, isActive)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.log.Info().Str("actor_id", actorID).Str("user_id", id).Bool("is_active", isActive).Msg("user status changed")
	return u, nil
}

// DeleteUser removes another user
func (s *Service) DeleteUser(ctx context.Context, actorID, id string) error {
	if actorID == id {
		return apperr.BadRequest("you cannot delete yourself")
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return mapRepoErr(err)
	}
	s.log.Info().Str("actor_id", actorID).Str("user_id", id).Msg("user deleted")
	return nil
}

// ListAdmins returns every admin
func (s *Service) ListAdmins(ctx context.Context) ([]model.User, error) {
	role := model.RoleAdmin
	// admins are few; one generous page covers them
	users, _, err := s.users.List(ctx, repo.ListParams{
		Filter: repo.UserFilter{Role: &role},
		Limit:  1000,
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return users, nil
}

func (s *Service) Stats(ctx context.Context) (*model.UserStats, error) {
	st, err := s.users.Stats(ctx)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return st, nil
}

// CreateUser creates an active user with the given role
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*model.User, error) {
	role := in.Role
	if role == "" {
		role = model.RoleOrdinary
	}
	role, ok := model.ParseRole(string(role))
	if !ok {
		return nil, apperr.BadRequest("invalid role, must be admin or ordinary")
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	u, err := s.users.Create(ctx, repo.CreateUserParams{
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		PhoneNumber:    in.PhoneNumber,
		HashedPassword: digest,
		Role:           role,
		IsActive:       true,
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.log.Info().Str("user_id", u.ID).Str("phone", logger.MaskPhone(u.PhoneNumber)).Str("role", string(role)).Msg("user created by admin")
	return u, nil
}

// Bootstrap creates the first admin when none exists. It reports whether an
// admin was created. An existing user with the phone is promoted instead.
func (s *Service) Bootstrap(ctx context.Context, in CreateUserInput) (bool, error) {
	n, err := s.users.CountAdmins(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	existing, err := s.users.GetByPhone(ctx, in.PhoneNumber)
	switch {
	case err == nil:
		if _, err := s.users.UpdateRole(ctx, existing.ID, model.RoleAdmin); err != nil {
			return false, err
		}
		s.log.Info().Str("user_id", existing.ID).Msg("existing user promoted to bootstrap admin")
		return true, nil
	case !errors.Is(err, repo.ErrNotFound):
		return false, err
	}

	in.Role = model.RoleAdmin
	if _, err := s.CreateUser(ctx, in); err != nil {
		return false, err
	}
	return true, nil
}
