package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"vaultchat/internal/config"
	"vaultchat/internal/logger"
	"vaultchat/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PrimaryProvider is the provider whose subjects are used as user ids
// directly. Every other provider gets a deterministically derived id.
const PrimaryProvider = "vault"

// ErrAuthRequired is returned when a protected operation lacks a valid
// session; the HTTP boundary maps it to a 401.
var ErrAuthRequired = errors.New("authentication required")

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the resolved caller identity. Anonymous callers get the zero
// value with IsAuthenticated false.
type Identity struct {
	IsAuthenticated bool
	UserID          string
	AuthProvider    string
}

// IdentityFromContext returns the request identity, anonymous if absent.
func IdentityFromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityContextKey).(Identity); ok {
		return id
	}
	return Identity{}
}

// idNamespace anchors derived user ids so the same external subject always
// maps to the same account.
var idNamespace = uuid.MustParse("7d9616f1-3c0e-4f6f-9de4-27a4e2f0a1b5")

// DeriveUserID maps an external auth subject to a stable user id. Subjects of
// the primary provider are used as-is.
func DeriveUserID(provider, subject string) string {
	if provider == PrimaryProvider {
		return subject
	}
	return uuid.NewSHA1(idNamespace, []byte(provider+":"+subject)).String()
}

// Claims are the JWT session claims.
type Claims struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// Auth issues and validates session tokens and resolves request identities.
type Auth struct {
	cfg   config.AuthConfig
	users *store.Users
}

// New creates an Auth service.
func New(cfg config.AuthConfig, users *store.Users) *Auth {
	return &Auth{cfg: cfg, users: users}
}

// GenerateToken issues a signed session token for a user.
func (a *Auth) GenerateToken(userID, provider string) (string, error) {
	claims := Claims{
		UserID:   userID,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.cfg.TokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.cfg.JWTSecret)
}

// ValidateToken parses and verifies a session token.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}

// Resolve extracts the caller identity from the request. A missing or
// malformed Authorization header yields an anonymous identity, not an error;
// callers that require authentication check IsAuthenticated themselves.
func (a *Auth) Resolve(r *http.Request) Identity {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return Identity{}
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return Identity{}
	}

	claims, err := a.ValidateToken(parts[1])
	if err != nil {
		logger.Log.WithError(err).Debug("Rejected session token")
		return Identity{}
	}

	return Identity{IsAuthenticated: true, UserID: claims.UserID, AuthProvider: claims.Provider}
}

// Middleware requires a valid session and stores the identity in the
// request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := a.Resolve(r)
		if !identity.IsAuthenticated {
			sendError(w, http.StatusUnauthorized, "Invalid or missing session token", ErrAuthRequired)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalMiddleware resolves the identity if a token is present but lets
// anonymous callers through. The chat relay uses this: unauthenticated
// requests may still chat, they just lose web-search augmentation.
func (a *Auth) OptionalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), identityContextKey, a.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type registerRequest struct {
	Username string            `json:"username"`
	Password string            `json:"password"`
	Campaign map[string]string `json:"campaign,omitempty"`
}

type federatedRequest struct {
	Provider string            `json:"provider"`
	Subject  string            `json:"subject"`
	Campaign map[string]string `json:"campaign,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sendError sends a standardized JSON error response
func sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := errorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

// LoginHandler authenticates a primary-provider user and returns a session token.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Username == "" || req.Password == "" {
		sendError(w, http.StatusBadRequest, "Username and password are required", nil)
		return
	}

	user, err := a.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		logger.Log.WithField("username", req.Username).Info("Login failed: user not found")
		sendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		logger.Log.WithField("username", req.Username).Info("Login failed: invalid password")
		sendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := a.GenerateToken(user.ID, PrimaryProvider)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Error generating token", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{Token: token, UserID: user.ID})
}

// RegisterHandler creates a primary-provider account.
func (a *Auth) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Username == "" || req.Password == "" {
		sendError(w, http.StatusBadRequest, "Username and password are required", nil)
		return
	}
	if len(req.Password) < 6 {
		sendError(w, http.StatusBadRequest, "Password must be at least 6 characters", nil)
		return
	}

	if _, err := a.users.GetByUsername(r.Context(), req.Username); err == nil {
		sendError(w, http.StatusConflict, "Username already exists", nil)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Error hashing password", err)
		return
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		AuthProvider: PrimaryProvider,
		PasswordHash: string(hash),
		Campaign:     req.Campaign,
	}
	if err := a.users.Create(r.Context(), user); err != nil {
		sendError(w, http.StatusInternalServerError, "Error creating user", err)
		return
	}

	token, err := a.GenerateToken(user.ID, PrimaryProvider)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Error generating token", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tokenResponse{Token: token, UserID: user.ID})
}

// FederatedHandler exchanges an already-verified external subject for a
// session token, creating the derived account on first sight. The upstream
// identity gateway is trusted to have verified the subject.
func (a *Auth) FederatedHandler(w http.ResponseWriter, r *http.Request) {
	var req federatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Provider == "" || req.Subject == "" || req.Provider == PrimaryProvider {
		sendError(w, http.StatusBadRequest, "Provider and subject are required", nil)
		return
	}

	userID := DeriveUserID(req.Provider, req.Subject)
	if _, err := a.users.Get(r.Context(), userID); err != nil {
		user := &store.User{
			ID:           userID,
			AuthProvider: req.Provider,
			Campaign:     req.Campaign,
		}
		if err := a.users.Create(r.Context(), user); err != nil {
			sendError(w, http.StatusInternalServerError, "Error creating user", err)
			return
		}
	}

	token, err := a.GenerateToken(userID, req.Provider)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Error generating token", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{Token: token, UserID: userID})
}
