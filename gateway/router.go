package gateway

import (
	"chat-core/auth"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the public endpoints, the JWT protected API and the
// websocket upgrade.
func NewRouter(handlers *Handlers, wsHandler *WebSocketHandler, tokens auth.TokenManager) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Post("/register", handlers.Register)
	r.Post("/login", handlers.Login)
	r.Get("/healthz", handlers.Health)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokens))

		r.Get("/conversations/{conversation}/messages", handlers.History)
		r.Get("/conversations/{conversation}/search", handlers.Search)
		r.Post("/attachments", handlers.UploadAttachment)
		r.Get("/attachments/{id}", handlers.DownloadAttachment)
		r.Get("/ws", wsHandler.ServeHTTP)
	})

	return r
}
