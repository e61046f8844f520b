package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RefreshTokenTTL is the fixed lifetime of refresh tokens
const RefreshTokenTTL = 30 * 24 * time.Hour

// ErrInvalidToken covers every reason a token is rejected
var ErrInvalidToken = errors.New("invalid token")

// Claims is the decoded content of an access or refresh token
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// JWTService signs and decodes HMAC tokens. Access and refresh tokens share
// one format and differ only in lifetime.
type JWTService struct {
	secret     []byte
	method     *jwt.SigningMethodHMAC
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewJWTService creates a token issuer. algorithm is HS256, HS384 or HS512.
func NewJWTService(secret, algorithm string, accessTTL time.Duration) (*JWTService, error) {
	var method *jwt.SigningMethodHMAC
	switch algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}

	return &JWTService{
		secret:     []byte(secret),
		method:     method,
		accessTTL:  accessTTL,
		refreshTTL: RefreshTokenTTL,
		now:        time.Now,
	}, nil
}

// WithClock replaces the time source, for tests
func (s *JWTService) WithClock(now func() time.Time) *JWTService {
	s.now = now
	return s
}

// AccessTTL is the configured access token lifetime
func (s *JWTService) AccessTTL() time.Duration {
	return s.accessTTL
}

// remaining is how long the token behind claims stays valid
func (s *JWTService) remaining(c *Claims) time.Duration {
	return c.ExpiresAt.Sub(s.now())
}

// IssueAccess signs a short-lived access token for userID
func (s *JWTService) IssueAccess(userID string) (string, error) {
	return s.sign(userID, s.accessTTL)
}

// IssueRefresh signs a 30-day refresh token for userID
func (s *JWTService) IssueRefresh(userID string) (string, error) {
	return s.sign(userID, s.refreshTTL)
}

func (s *JWTService) sign(userID string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		// jti keeps tokens issued in the same second distinct for the blacklist
		ID: uuid.NewString(),
	}

	token := jwt.NewWithClaims(s.method, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Decode verifies signature, algorithm and expiry and returns the claims.
// All failures are reported as ErrInvalidToken.
func (s *JWTService) Decode(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)

	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	return &Claims{
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
