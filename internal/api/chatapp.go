package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatengine/internal/auth"
	"github.com/npezzotti/go-chatengine/internal/chat"
	"github.com/npezzotti/go-chatengine/internal/config"
	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/sirupsen/logrus"
)

type ChatApp struct {
	log            *logrus.Logger
	db             database.ChatRepository
	chat           *chat.Service
	cs             *server.ChatServer
	stats          stats.StatsProvider
	verifier       *auth.Verifier
	allowedOrigins []string
	accessLog      *io.PipeWriter
	srv            *http.Server
}

func NewChatApp(mux *http.ServeMux, logger *logrus.Logger, cs *server.ChatServer, svc *chat.Service,
	db database.ChatRepository, su stats.StatsProvider, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		db:             db,
		chat:           svc,
		cs:             cs,
		stats:          su,
		verifier:       auth.NewVerifier(cfg.SigningKey),
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("POST /api/rooms/direct", s.authMiddleware(s.createDirectRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.Handle("GET /api/rooms/{id}", s.authMiddleware(s.getRoom))
	mux.Handle("DELETE /api/rooms/{id}/participants/me", s.authMiddleware(s.leaveRoom))
	mux.Handle("GET /api/messages", s.authMiddleware(s.listMessages))
	mux.Handle("GET /api/messages/search", s.authMiddleware(s.searchMessages))
	mux.Handle("GET /api/messages/unread-count", s.authMiddleware(s.unreadCount))
	mux.Handle("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("POST /api/messages/read", s.authMiddleware(s.markReadBulk))
	mux.Handle("PUT /api/messages/{id}", s.authMiddleware(s.editMessage))
	mux.Handle("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.Handle("POST /api/messages/{id}/read", s.authMiddleware(s.markRead))
	mux.Handle("POST /api/messages/{id}/reactions", s.authMiddleware(s.toggleReaction))
	mux.Handle("GET /api/presence", s.authMiddleware(s.presence))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	s.accessLog = logger.WriterLevel(logrus.InfoLevel)
	h = handlers.CombinedLoggingHandler(s.accessLog, h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped router.
func (s *ChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *ChatApp) Start() error {
	s.log.WithField("addr", s.srv.Addr).Info("starting HTTP server")
	return s.srv.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	defer s.accessLog.Close()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
