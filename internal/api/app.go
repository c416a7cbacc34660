package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-trivia/internal/config"
	"github.com/npezzotti/go-trivia/internal/database"
	"github.com/npezzotti/go-trivia/internal/server"
	"github.com/npezzotti/go-trivia/internal/types"
)

// Authenticator is what the HTTP layer needs from the auth package.
type Authenticator interface {
	IssueToken(user types.User, exp time.Duration) (string, error)
	Verify(token string) (types.User, error)
}

type App struct {
	log            *log.Logger
	db             database.Repository
	auth           Authenticator
	hub            *server.Hub
	srv            *http.Server
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewApp(mux *http.ServeMux, logger *log.Logger, db database.Repository, authn Authenticator, hub *server.Hub, cfg *config.Config) *App {
	a := &App{
		log:            logger,
		db:             db,
		auth:           authn,
		hub:            hub,
		allowedOrigins: cfg.AllowedOrigins,
	}

	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}

	mux.HandleFunc("GET /healthz", a.healthCheck)
	mux.HandleFunc("POST /api/auth/register", a.register)
	mux.HandleFunc("POST /api/auth/login", a.login)
	mux.HandleFunc("GET /api/auth/session", a.authMiddleware(a.session))
	mux.HandleFunc("GET /api/auth/logout", a.logout)
	mux.HandleFunc("GET /ws/chat/{roomId}", a.serveWs(server.ChatRoom))
	mux.HandleFunc("GET /ws/trivia/{roomId}", a.serveWs(server.TriviaRoom))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.errorHandler(h)

	a.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return a
}

// checkOrigin allows same-host upgrades and any origin explicitly configured.
func (a *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if slices.Contains(a.allowedOrigins, "*") || slices.Contains(a.allowedOrigins, origin) {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return u.Host == r.Host
}

func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

func (a *App) Start() error {
	a.log.Printf("starting server on %s\n", a.srv.Addr)
	return a.srv.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
