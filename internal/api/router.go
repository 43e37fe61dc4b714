// Package api assembles the HTTP routing layer.
package api

import (
	"encoding/json"
	"net/http"

	"vaultchat/internal/api/handlers"
	"vaultchat/internal/app"
	"vaultchat/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// NewRouter wires the full API surface.
func NewRouter(config *app.Config, authService *auth.Auth, chatHandlers *handlers.ChatHandlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(rateLimitMiddleware(config.AppConfig.Server.RequestsPerSecond, config.AppConfig.Server.RequestBurst))

	r.Get("/api/health", healthHandler)

	r.Post("/api/register", authService.RegisterHandler)
	r.Post("/api/login", authService.LoginHandler)
	r.Post("/api/auth/federated", authService.FederatedHandler)

	// The relay endpoint admits anonymous callers; they lose web search.
	r.Group(func(r chi.Router) {
		r.Use(authService.OptionalMiddleware)
		r.Post("/api/chat", chatHandlers.ChatHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(authService.Middleware)
		r.Post("/api/chat/exchange", chatHandlers.ExchangeHandler)
		r.Get("/api/chats", chatHandlers.ListChatsHandler)
		r.Get("/api/chats/{id}/messages", chatHandlers.GetChatMessagesHandler)
		r.Delete("/api/chats/{id}", chatHandlers.DeleteChatHandler)
		r.Get("/api/stats", chatHandlers.StatsHandler)
		r.Get("/api/personas", chatHandlers.PersonasHandler)
		r.Get("/api/models", chatHandlers.ModelsHandler)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// corsMiddleware handles CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+handlers.VaultKeyHeader)
		w.Header().Set("Access-Control-Expose-Headers", handlers.RateLimitReachedHeader+", "+handlers.RateLimitMessageHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a global request rate limit. This is backpressure
// against abusive clients, distinct from the per-user web-search quota.
func rateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":   "rate limit exceeded",
					"code":    http.StatusTooManyRequests,
					"message": "Too many requests, slow down",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
