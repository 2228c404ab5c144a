package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/candidates"
	"github.com/example/court-matching/internal/chat"
	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/match"
	"github.com/example/court-matching/internal/profile"
	"github.com/example/court-matching/internal/proposal"
	"github.com/example/court-matching/internal/realtime"
	"github.com/example/court-matching/internal/swipe"
)

// Services are the domain operations the API exposes.
type Services struct {
	Profiles   *profile.Service
	Candidates *candidates.Finder
	Swipes     *swipe.Ledger
	Matches    *match.Manager
	Proposals  *proposal.Workflow
	Chat       *chat.Service
	Realtime   *realtime.Dispatcher
	Sockets    *realtime.Router
}

// Authenticator resolves the calling user of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// HeaderAuth trusts a user id injected by the gateway.
type HeaderAuth struct{ Header string }

func (h HeaderAuth) Authenticate(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = "X-User-ID"
	}
	uid := strings.TrimSpace(r.Header.Get(name))
	if uid == "" {
		return "", errUnauthenticated
	}
	return uid, nil
}

var errUnauthenticated = apperr.New(apperr.KindForbidden, "unauthenticated", "missing caller identity")

type Options struct {
	Auth Authenticator
	// EventsSecret guards the payment event intake. Empty leaves the
	// route unregistered.
	EventsSecret   string
	AllowedOrigins []string
	WS             realtime.ClientOptions
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
	// BaseContext bounds websocket sessions; cancelling it closes them.
	BaseContext context.Context
}

type Server struct {
	svc      Services
	auth     Authenticator
	secret   string
	ready    func(ctx context.Context) error
	base     context.Context
	ws       realtime.ClientOptions
	upgrader websocket.Upgrader
	origins  []string
	mux      *mux.Router
	logger   *slog.Logger
}

func NewServer(svc Services, opts Options, logger *slog.Logger) *Server {
	if opts.Auth == nil {
		opts.Auth = HeaderAuth{}
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	logger = logging.OrDiscard(logger)
	opts.WS.Logger = logger
	s := &Server{
		svc:     svc,
		auth:    opts.Auth,
		secret:  opts.EventsSecret,
		ready:   opts.Ready,
		base:    opts.BaseContext,
		ws:      opts.WS,
		origins: opts.AllowedOrigins,
		mux:     mux.NewRouter(),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
	if s.secret != "" {
		s.mux.Handle("/internal/payments/events", s.eventsAuth(http.HandlerFunc(s.handlePaymentEvent))).Methods("POST")
	}

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	m := api.PathPrefix("/matching").Subrouter()
	m.HandleFunc("/profile", s.handleUpsertProfile).Methods("PUT")
	m.HandleFunc("/profile", s.handleGetProfile).Methods("GET")
	m.HandleFunc("/candidates", s.handleCandidates).Methods("GET")
	m.HandleFunc("/swipes", s.handleSwipe).Methods("POST")
	m.HandleFunc("/swipes", s.handleSwipeHistory).Methods("GET")
	m.HandleFunc("/matches", s.handleListMatches).Methods("GET")
	m.HandleFunc("/matches/{id}", s.handleGetMatch).Methods("GET")
	m.HandleFunc("/matches/{id}/unmatch", s.handleUnmatch).Methods("POST")
	m.HandleFunc("/matches/{id}/schedule", s.handleSchedule).Methods("POST")
	m.HandleFunc("/matches/{id}/cancel", s.handleCancel).Methods("POST")
	m.HandleFunc("/matches/{id}/proposals", s.handlePropose).Methods("POST")
	m.HandleFunc("/matches/{id}/proposals", s.handleListProposals).Methods("GET")
	m.HandleFunc("/matches/{id}/proposals/{bookingId}/accept", s.handleAccept).Methods("POST")
	m.HandleFunc("/matches/{id}/proposals/{bookingId}/reject", s.handleReject).Methods("POST")

	c := api.PathPrefix("/chats").Subrouter()
	c.HandleFunc("/business", s.handleOpenBusinessRoom).Methods("POST")
	c.HandleFunc("/{roomId}/messages", s.handleHistory).Methods("GET")
	c.HandleFunc("/{roomId}/messages", s.handleSend).Methods("POST")
	c.HandleFunc("/{roomId}/read", s.handleMarkRead).Methods("POST")
	c.HandleFunc("/{roomId}/attachments", s.handleAttachment).Methods("POST")
}

// eventsAuth admits requests bearing the shared payment events secret.
func (s *Server) eventsAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			s.writeError(w, r, errUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Handler wraps the router with CORS for browser clients.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID", "X-User-ID"},
		AllowCredentials: !s.anyOrigin(),
	}).Handler(s)
}

func (s *Server) anyOrigin() bool {
	for _, o := range s.origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.anyOrigin() {
		return true
	}
	for _, o := range s.origins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

// handleWS upgrades an authenticated caller and serves the session until the
// peer leaves or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	uid, err := s.auth.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", "user_id", uid, "error", err)
		return
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	client := realtime.NewWSClient(conn, uid, s.ws)
	s.logger.Debug("ws connected", "conn", client.ID(), "user_id", uid)
	if err := s.svc.Profiles.Touch(ctx, uid); err != nil {
		s.logger.Debug("presence touch failed", "user_id", uid, "error", err)
	}
	client.Serve(ctx, s.svc.Realtime, s.svc.Sockets)
}

func newID() string { return uuid.NewString() }
