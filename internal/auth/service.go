package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/phoneauth/server/internal/apperr"
	"github.com/phoneauth/server/internal/logger"
	"github.com/phoneauth/server/internal/model"
	"github.com/phoneauth/server/internal/repo"
)

// Session is the result of a successful login
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *model.User
}

// RefreshResult carries a new access token. RefreshToken is set only when
// rotation is enabled.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// RegisterInput is a self-service registration request
type RegisterInput struct {
	PhoneNumber string
	Password    string
	FirstName   string
	LastName    string
	OTP         string
}

// Options tune the orchestrator
type Options struct {
	RotateRefreshTokens bool
}

// AuthService orchestrates authentication operations
type AuthService struct {
	users     repo.UserRepo
	hasher    *Hasher
	tokens    *JWTService
	otp       *OTPManager
	blacklist *Blacklist
	opts      Options
	log       zerolog.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(
	users repo.UserRepo,
	hasher *Hasher,
	tokens *JWTService,
	otp *OTPManager,
	blacklist *Blacklist,
	opts Options,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		otp:       otp,
		blacklist: blacklist,
		opts:      opts,
		log:       log.With().Str("component", "auth").Logger(),
	}
}

// Register creates an ordinary user after checking the phone's OTP, then
// logs the user in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	_, err := s.users.GetByPhone(ctx, in.PhoneNumber)
	switch {
	case err == nil:
		return nil, apperr.Conflict("user with this phone number already exists")
	case !errors.Is(err, repo.ErrNotFound):
		return nil, apperr.Internal(err)
	}

	ok, err := s.otp.VerifyOTP(ctx, in.PhoneNumber, in.OTP)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.BadRequest("invalid OTP")
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user, err := s.users.Create(ctx, repo.CreateUserParams{
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		PhoneNumber:    in.PhoneNumber,
		HashedPassword: digest,
		Role:           model.RoleOrdinary,
		IsActive:       true,
	})
	if err != nil {
		if errors.Is(err, repo.ErrPhoneTaken) {
			return nil, apperr.Conflict("user with this phone number already exists")
		}
		return nil, apperr.Internal(err)
	}

	s.log.Info().Str("user_id", user.ID).Str("phone", logger.MaskPhone(user.PhoneNumber)).Msg("user registered")
	return s.Login(ctx, in.PhoneNumber, in.Password)
}

// Login checks credentials and issues an access/refresh pair. Unknown phones
// and wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, phone, password string) (*Session, error) {
	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			loginAttemptsTotal.WithLabelValues("invalid").Inc()
			return nil, apperr.Unauthorized()
		}
		return nil, apperr.Internal(err)
	}

	if !s.hasher.Verify(password, user.HashedPassword) {
		loginAttemptsTotal.WithLabelValues("invalid").Inc()
		return nil, apperr.Unauthorized()
	}
	if !user.IsActive {
		loginAttemptsTotal.WithLabelValues("inactive").Inc()
		return nil, apperr.Forbidden("user account is inactive")
	}

	if s.hasher.NeedsRehash(user.HashedPassword) {
		s.rehash(ctx, user, password)
	}

	access, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	loginAttemptsTotal.WithLabelValues("ok").Inc()
	return &Session{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

// Upgrading the digest is best effort; login already succeeded.
func (s *AuthService) rehash(ctx context.Context, user *model.User, password string) {
	digest, err := s.hasher.Hash(password)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("rehash failed")
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, digest); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("storing rehashed password failed")
		return
	}
	user.HashedPassword = digest
	s.log.Info().Str("user_id", user.ID).Msg("password digest upgraded")
}

// Refresh exchanges a refresh token for a new access token
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.tokens.Decode(refreshToken)
	if err != nil {
		return nil, apperr.Unauthorized()
	}

	revoked, err := s.blacklist.IsRevoked(ctx, refreshToken)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if revoked {
		return nil, apperr.Unauthorized()
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.Unauthorized()
		}
		return nil, apperr.Internal(err)
	}

	access, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	result := &RefreshResult{AccessToken: access}

	if s.opts.RotateRefreshTokens {
		next, err := s.tokens.IssueRefresh(user.ID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if err := s.blacklist.Revoke(ctx, refreshToken, s.tokens.remaining(claims)); err != nil {
			return nil, apperr.Internal(err)
		}
		result.RefreshToken = next
	}
	return result, nil
}

// Logout blacklists whichever of the tokens still decode. It never fails;
// blacklist errors are logged.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) {
	for _, token := range []string{accessToken, refreshToken} {
		if token == "" {
			continue
		}
		claims, err := s.tokens.Decode(token)
		if err != nil {
			continue
		}
		if err := s.blacklist.Revoke(ctx, token, s.tokens.remaining(claims)); err != nil {
			s.log.Error().Err(err).Str("user_id", claims.UserID).Msg("failed to blacklist token on logout")
		}
	}
}

// CurrentUser resolves the user behind an access token
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (*model.User, error) {
	claims, err := s.tokens.Decode(accessToken)
	if err != nil {
		return nil, apperr.Unauthorized()
	}

	revoked, err := s.blacklist.IsRevoked(ctx, accessToken)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if revoked {
		return nil, apperr.Unauthorized()
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.Unauthorized()
		}
		return nil, apperr.Internal(err)
	}
	return user, nil
}

// RequireAdmin fails with Forbidden unless user is an admin
func RequireAdmin(user *model.User) error {
	if user == nil || !user.IsAdmin() {
		return apperr.Forbidden("admin access required")
	}
	return nil
}

// RequireActive fails with Forbidden unless user is active
func RequireActive(user *model.User) error {
	if user == nil || !user.IsActive {
		return apperr.Forbidden("user account is inactive")
	}
	return nil
}
