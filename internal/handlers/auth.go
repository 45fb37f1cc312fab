package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tourfolio/apiserver/internal/limiter"
	"github.com/tourfolio/apiserver/internal/logging"
	"github.com/tourfolio/apiserver/internal/mail"
	"github.com/tourfolio/apiserver/internal/mq"
	"github.com/tourfolio/apiserver/internal/services"
	"github.com/tourfolio/apiserver/internal/store"
	"github.com/tourfolio/apiserver/types"
)

// SessionCookieName is the transport cookie carrying the session token.
const SessionCookieName = "jwt"

const (
	msgMissingCredentials  = "Please provide a valid email and password."
	msgIncorrectLogin      = "Incorrect email or password"
	msgNotLoggedIn         = "You are not logged in. Please login to continue."
	msgTokenExpired        = "Your token has expired. Please login again."
	msgTokenInvalid        = "Invalid token. Please login again."
	msgUserGone            = "The user belonging to the token does not exist."
	msgPasswordChanged     = "Password changed recently. Please login again."
	msgForbidden           = "You have not permission to perform this action."
	msgNoUserForEmail      = "No user found with this email address."
	msgResetTokenInvalid   = "Token is invalid or expired"
	msgWrongCurrent        = "Incorrect current password."
	msgTokenSent           = "Token sent to email"
	msgEmailSendFailed     = "There was an error sending the email. Try again later."
	msgTooManyRequests     = "Too many requests. Try again later."
	msgMissingSignupFields = "Please provide name, email and password."
	msgPasswordMismatch    = "Passwords do not match."
	msgDuplicateEmail      = "Email already registered."
)

// AuthConfig carries the session-token settings the handler needs.
// It is read-only after construction.
type AuthConfig struct {
	JWTSecret    string
	TokenTTL     time.Duration
	CookieDays   int
	SecureCookie bool
	// ResetURLBase is the public base URL embedded in reset emails.
	ResetURLBase string
}

// AuthHandler provides the session and credential endpoints.
type AuthHandler struct {
	userService *services.UserService
	mailer      mail.Mailer
	events      *mq.Publisher
	throttle    *limiter.Limiter
	log         logging.Logger

	secret       []byte
	tokenTTL     time.Duration
	cookieDays   int
	secureCookie bool
	resetURLBase string
	now          func() time.Time
}

// NewAuthHandler constructs an AuthHandler. A missing secret or
// non-positive TTL is a construction error: misconfiguration is fatal,
// not recoverable per request.
func NewAuthHandler(
	userService *services.UserService,
	cfg AuthConfig,
	mailer mail.Mailer,
	events *mq.Publisher,
	throttle *limiter.Limiter,
	log logging.Logger,
) (*AuthHandler, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if cfg.CookieDays <= 0 {
		cfg.CookieDays = 90
	}
	if log == nil {
		log = logging.Default()
	}
	return &AuthHandler{
		userService:  userService,
		mailer:       mailer,
		events:       events,
		throttle:     throttle,
		log:          log,
		secret:       []byte(cfg.JWTSecret),
		tokenTTL:     cfg.TokenTTL,
		cookieDays:   cfg.CookieDays,
		secureCookie: cfg.SecureCookie,
		resetURLBase: strings.TrimRight(cfg.ResetURLBase, "/"),
		now:          time.Now,
	}, nil
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.Post("/forgot-password", handler.ForgotPassword)
	r.Patch("/reset-password/{token}", handler.ResetPassword)
	r.With(handler.RequireAuth).Get("/me", handler.Me)
	r.With(handler.RequireAuth).Patch("/update-password", handler.UpdatePassword)
}

// RequireAuth verifies the presented session token, resolves the current
// user, and attaches it to the request context. Every stage is a
// potential early 401.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := sessionToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, msgNotLoggedIn)
			return
		}

		claims, err := parseToken(tokenString, h.secret)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, msgTokenExpired)
				return
			}
			writeError(w, http.StatusUnauthorized, msgTokenInvalid)
			return
		}

		userID, err := strconv.Atoi(claims.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, msgTokenInvalid)
			return
		}

		user, err := h.userService.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// A deleted account can still hold a valid token.
				writeError(w, http.StatusUnauthorized, msgUserGone)
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load user")
			return
		}

		// Password change is the sole revocation mechanism: any token
		// issued before the change is dead.
		if claims.IssuedAt != nil && user.PasswordChangedAfter(claims.IssuedAt.Time) {
			writeError(w, http.StatusUnauthorized, msgPasswordChanged)
			return
		}

		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), user)))
	})
}

// RequireRole gates a route to the given roles. It must run after
// RequireAuth and is configured per route at startup.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[strings.ToLower(role)] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := userFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgNotLoggedIn)
				return
			}
			if _, ok := allowed[strings.ToLower(user.Role)]; !ok {
				writeError(w, http.StatusForbidden, msgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Signup creates a new user account and opens a session.
// Only name, email and password are accepted from the body; role and
// password-changed timestamps are never client-settable.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, msgMissingSignupFields)
		return
	}
	if req.Password != req.PasswordConfirm {
		writeError(w, http.StatusBadRequest, msgPasswordMismatch)
		return
	}

	user, err := h.userService.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusBadRequest, msgDuplicateEmail)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.emit(r, mq.EventSignup, user.Email)
	h.sendSession(w, user, http.StatusCreated)
}

// Login verifies credentials and opens a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, msgMissingCredentials)
		return
	}

	if !h.allow(r, "login", req.Email) {
		writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
		return
	}

	user, err := h.userService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			// One message for unknown email and wrong password.
			writeError(w, http.StatusUnauthorized, msgIncorrectLogin)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	h.emit(r, mq.EventLogin, user.Email)
	h.sendSession(w, user, http.StatusOK)
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgNotLoggedIn)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ForgotPassword mints a one-time reset token and emails a reset link.
// The plaintext token travels only in the email; if delivery fails the
// persisted token state is rolled back so no dead token lingers.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if !h.allow(r, "reset", req.Email) {
		writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
		return
	}

	user, token, err := h.userService.MintResetToken(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgNoUserForEmail)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create reset token")
		return
	}

	resetURL := fmt.Sprintf("%s/auth/reset-password/%s", h.resetURLBase, token)
	msg := mail.PasswordResetMessage(user.Email, resetURL)
	if err := h.mailer.Send(r.Context(), msg); err != nil {
		h.log.Error(r.Context(), "reset email send failed", "email", user.Email, "error", err)
		if clearErr := h.userService.ClearResetToken(r.Context(), user.ID); clearErr != nil {
			h.log.Error(r.Context(), "reset token rollback failed", "user_id", user.ID, "error", clearErr)
		}
		writeError(w, http.StatusInternalServerError, msgEmailSendFailed)
		return
	}

	h.emit(r, mq.EventPasswordResetRequest, user.Email)
	writeJSON(w, http.StatusOK, MessageResponse{Status: "success", OK: true, Message: msgTokenSent})
}

// ResetPassword consumes a reset token from the URL and sets a new
// password, logging the user in on success.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	if req.Password != req.PasswordConfirm {
		writeError(w, http.StatusBadRequest, msgPasswordMismatch)
		return
	}

	user, err := h.userService.ResetPassword(r.Context(), token, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrResetTokenInvalid) {
			// Invalid and expired are deliberately indistinguishable.
			writeError(w, http.StatusBadRequest, msgResetTokenInvalid)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	h.emit(r, mq.EventPasswordReset, user.Email)
	h.sendSession(w, user, http.StatusOK)
}

// UpdatePassword changes the password of the authenticated user and
// issues a fresh session. Older tokens die on the next RequireAuth check
// via the password-changed timestamp.
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	current, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgNotLoggedIn)
		return
	}

	var req UpdatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.PasswordCurrent == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "current and new password are required")
		return
	}
	if req.Password != req.PasswordConfirm {
		writeError(w, http.StatusBadRequest, msgPasswordMismatch)
		return
	}

	user, err := h.userService.ChangePassword(r.Context(), current.ID, req.PasswordCurrent, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrWrongPassword) {
			writeError(w, http.StatusUnauthorized, msgWrongCurrent)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update password")
		return
	}

	h.emit(r, mq.EventPasswordChange, user.Email)
	h.sendSession(w, user, http.StatusOK)
}

// sendSession issues a token for the user, sets the session cookie, and
// writes the session response body. The password hash never serializes
// (json:"-" on the model).
func (h *AuthHandler) sendSession(w http.ResponseWriter, user types.User, status int) {
	token, err := issueToken(user.ID, h.secret, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  h.now().Add(time.Duration(h.cookieDays) * 24 * time.Hour),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, status, SessionResponse{
		Status: "success",
		OK:     true,
		Token:  token,
		Data:   SessionData{User: user},
	})
}

// allow consults the throttle when one is configured. Redis being down
// fails open: throttling is protection, not a dependency.
func (h *AuthHandler) allow(r *http.Request, scope, key string) bool {
	if h.throttle == nil {
		return true
	}
	err := h.throttle.Allow(r.Context(), scope, key, clientIP(r))
	if err == nil {
		return true
	}
	if errors.Is(err, limiter.ErrRateLimited) {
		return false
	}
	h.log.Warn(r.Context(), "throttle unavailable", "scope", scope, "error", err)
	return true
}

func (h *AuthHandler) emit(r *http.Request, eventType, email string) {
	if h.events == nil {
		return
	}
	h.events.Emit(r.Context(), eventType, email)
}

type SignupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type UpdatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type SessionResponse struct {
	Status string      `json:"status"`
	OK     bool        `json:"ok"`
	Token  string      `json:"token"`
	Data   SessionData `json:"data"`
}

type SessionData struct {
	User types.User `json:"user"`
}

type MessageResponse struct {
	Status  string `json:"status"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func issueToken(userID int, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseToken(tokenString string, secret []byte) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("missing subject")
	}
	return claims, nil
}

// sessionToken extracts the presented token, preferring the
// Authorization header over the session cookie.
func sessionToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func clientIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
