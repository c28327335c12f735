// Package http is the transport shell over the core services. It owns
// routing, identity verification, request decoding and the mapping from
// typed domain errors to statuses; all authorization stays below it.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/channels"
	"github.com/parlorchat/parlor-server/internal/config"
	"github.com/parlorchat/parlor-server/internal/messages"
	"github.com/parlorchat/parlor-server/internal/ratelimit"
	"github.com/parlorchat/parlor-server/internal/roles"
	"github.com/parlorchat/parlor-server/internal/voice"
	"github.com/parlorchat/parlor-server/internal/ws"
)

// Deps bundles everything the transport serves.
type Deps struct {
	Messages *messages.Service
	Voice    *voice.Service
	Channels *channels.Service
	Roles    *roles.Service
	Gateway  *ws.Gateway
	Limiter  *ratelimit.Limiter
}

// Server is the HTTP front of the service.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	validate   *validator.Validate
	jwtSecret  string

	messages *messages.Service
	voice    *voice.Service
	channels *channels.Service
	roles    *roles.Service
	gateway  *ws.Gateway
	limiter  *ratelimit.Limiter
}

// NewServer builds the server and its routes.
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		logger:    logger,
		validate:  validator.New(),
		jwtSecret: cfg.Auth.JWTSecret,
		messages:  deps.Messages,
		voice:     deps.Voice,
		channels:  deps.Channels,
		roles:     deps.Roles,
		gateway:   deps.Gateway,
		limiter:   deps.Limiter,
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(s.logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.Authenticate)

		r.Get("/ws", s.handleWebsocket)

		r.Route("/api", func(r chi.Router) {
			r.Route("/servers/{serverID}", func(r chi.Router) {
				r.Get("/channels", s.handleListChannels)
				r.Post("/channels", s.handleCreateChannel)
				r.Get("/roles", s.handleListRoles)
				r.Post("/roles", s.handleCreateRole)
				r.Post("/transfer-ownership", s.handleTransferOwnership)
				r.Post("/members/{userID}/roles/{roleID}", s.handleAssignRole)
				r.Delete("/members/{userID}/roles/{roleID}", s.handleUnassignRole)
			})

			r.Route("/channels/{channelID}", func(r chi.Router) {
				r.Put("/grants", s.handleUpdateGrants)
				r.Post("/retire", s.handleRetireChannel)
				r.Post("/restore", s.handleRestoreChannel)

				r.Get("/messages", s.handleListMessages)
				r.With(RateLimit(s.limiter)).Post("/messages", s.handleCreateMessage)
				r.Patch("/messages/{messageID}", s.handleUpdateMessage)
				r.Delete("/messages/{messageID}", s.handleDeleteMessage)

				r.Post("/voice/join", s.handleVoiceJoin)
				r.Get("/voice/roster", s.handleVoiceRoster)
			})

			r.Route("/voice", func(r chi.Router) {
				r.Post("/leave", s.handleVoiceLeave)
				r.Post("/mute", s.handleVoiceMuteSelf)
				r.Post("/mute/{userID}", s.handleVoiceMuteOther)
				r.Post("/stream", s.handleVoiceStream)
			})

			r.Delete("/roles/{roleID}", s.handleDeleteRole)
		})
	})

	return r
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "not authenticated"})
		return
	}
	s.gateway.HandleClient(userID, w, r)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
