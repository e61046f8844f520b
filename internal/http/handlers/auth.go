package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/phoneauth/server/internal/apperr"
	"github.com/phoneauth/server/internal/auth"
	"github.com/phoneauth/server/internal/http/respond"
	"github.com/phoneauth/server/internal/middleware"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/auth"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService  *auth.AuthService
	cookieSecure bool
}

// NewAuthHandler creates a new auth handler. cookieSecure controls the
// Secure attribute of the refresh cookie and is only disabled for local
// development over plain http.
func NewAuthHandler(authService *auth.AuthService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		cookieSecure: cookieSecure,
	}
}

// registerRequest is the request body for POST /auth/register
type registerRequest struct {
	FirstName   string  `json:"first_name" validate:"required,max=100"`
	LastName    string  `json:"last_name" validate:"required,max=100"`
	PhoneNumber string  `json:"phone_number" validate:"required,e164"`
	Password    string  `json:"password" validate:"required,min=8,max=128"`
	OTP         otpCode `json:"otp" validate:"required,numeric,max=6"`
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,max=32"`
	Password    string `json:"password" validate:"required,max=128"`
}

// tokenResponse is returned by register, login and refresh
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	session, err := h.authService.Register(r.Context(), auth.RegisterInput{
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Password:    req.Password,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		OTP:         string(req.OTP),
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	h.setRefreshCookie(w, session.RefreshToken)
	respond.JSON(w, http.StatusCreated, tokenResponse{AccessToken: session.AccessToken, TokenType: "bearer"})
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	session, err := h.authService.Login(r.Context(), strings.TrimSpace(req.PhoneNumber), req.Password)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	h.setRefreshCookie(w, session.RefreshToken)
	respond.JSON(w, http.StatusOK, tokenResponse{AccessToken: session.AccessToken, TokenType: "bearer"})
}

// HandleRefresh handles POST /auth/refresh. The refresh token travels only
// in the cookie.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		respond.Error(w, r, apperr.Unauthorized())
		return
	}

	result, err := h.authService.Refresh(r.Context(), cookie.Value)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	if result.RefreshToken != "" {
		h.setRefreshCookie(w, result.RefreshToken)
	}
	respond.JSON(w, http.StatusOK, tokenResponse{AccessToken: result.AccessToken, TokenType: "bearer"})
}

// HandleLogout handles POST /auth/logout. It always succeeds; any supplied
// tokens are blacklisted and the cookie is cleared.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var refresh string
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		refresh = cookie.Value
	}

	h.authService.Logout(r.Context(), middleware.BearerToken(r), refresh)

	h.clearRefreshCookie(w)
	respond.JSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respond.Error(w, r, apperr.Unauthorized())
		return
	}
	respond.JSON(w, http.StatusOK, user)
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   int(auth.RefreshTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
