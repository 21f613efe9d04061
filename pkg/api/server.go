package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/cardvault/cardvault/pkg/auth"
	"github.com/cardvault/cardvault/pkg/httputil"
	"github.com/cardvault/cardvault/pkg/middleware"
	"github.com/cardvault/cardvault/pkg/observability"
	"github.com/cardvault/cardvault/pkg/storage"
)

// ServerConfig carries the handler-visible settings
type ServerConfig struct {
	// AuthHeaderName is the header carrying the session header token on
	// requests and login responses.
	AuthHeaderName    string
	SessionCookieName string
	CookieDomain      string

	// RegistrationCacheSize bounds the registration-code lookup cache.
	RegistrationCacheSize int

	MetricsEnabled bool
}

// Server represents our API server
type Server struct {
	router *mux.Router
	cfg    ServerConfig

	users  auth.UserStore
	groups GroupStore
	cards  CardStore
	issuer *auth.Issuer
	codec  *auth.TokenCodec
	db     *sql.DB

	metrics *observability.Metrics
	logger  *observability.Logger

	// frontLog receives client-side log lines posted to /log.
	frontLog *logrus.Logger

	// regCache caches registration-code lookups; purged whenever a
	// group mutates.
	regCache *lru.Cache[string, *Group]
}

// NewServer creates the API server and wires its routes
func NewServer(users auth.UserStore, groups GroupStore, cards CardStore,
	issuer *auth.Issuer, codec *auth.TokenCodec, guard *middleware.AuthGuard,
	db *sql.DB, cfg ServerConfig, metrics *observability.Metrics,
	logger *observability.Logger, frontLog *logrus.Logger) (*Server, error) {

	if cfg.RegistrationCacheSize <= 0 {
		cfg.RegistrationCacheSize = 128
	}
	regCache, err := lru.New[string, *Group](cfg.RegistrationCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating registration cache: %w", err)
	}

	s := &Server{
		router:   mux.NewRouter(),
		cfg:      cfg,
		users:    users,
		groups:   groups,
		cards:    cards,
		issuer:   issuer,
		codec:    codec,
		db:       db,
		metrics:  metrics,
		logger:   logger,
		frontLog: frontLog,
		regCache: regCache,
	}

	s.setupRoutes(guard)
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(guard *middleware.AuthGuard) {
	// Instrumentation runs inside the router so the matched route
	// template labels the metrics; raw paths like /credit-cards/123
	// would mint one series per card id.
	s.router.Use(s.metrics.Middleware(routeTemplate))

	// Operational routes
	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")
	if s.cfg.MetricsEnabled {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// Public routes
	s.router.HandleFunc("/authenticate", s.login).Methods("POST")
	s.router.HandleFunc("/authenticate", s.loginWithToken).Methods("GET")
	s.router.HandleFunc("/log", s.frontEndLog).Methods("POST")
	s.router.HandleFunc("/users/{registrationCode}", s.register).Methods("POST")

	// Authenticated routes
	protected := s.router.NewRoute().Subrouter()
	protected.Use(guard.Handler)
	protected.HandleFunc("/users/profile", s.profile).Methods("GET")
	protected.HandleFunc("/users", s.updateProfile).Methods("PUT")
	protected.HandleFunc("/credit-cards/group", s.listGroupCards).Methods("GET")
	protected.HandleFunc("/credit-cards/{id:[0-9]+}", s.getCard).Methods("GET")
	protected.HandleFunc("/credit-cards", s.createCard).Methods("POST")
	protected.HandleFunc("/credit-cards/{id:[0-9]+}", s.updateCard).Methods("PUT")
	protected.HandleFunc("/credit-cards/{id:[0-9]+}", s.deleteCard).Methods("DELETE")
	protected.HandleFunc("/logout", s.logout).Methods("POST")

	// Admin routes
	admin := s.router.NewRoute().Subrouter()
	admin.Use(guard.Handler, middleware.RequireAdmin)
	admin.HandleFunc("/users", s.adminListUsers).Methods("GET")
	admin.HandleFunc("/users/{id:[0-9]+}", s.adminGetUser).Methods("GET")
	admin.HandleFunc("/users", s.adminCreateUser).Methods("POST")
	admin.HandleFunc("/users/{id:[0-9]+}", s.adminUpdateUser).Methods("PUT")
	admin.HandleFunc("/users/{id:[0-9]+}", s.adminDeleteUser).Methods("DELETE")
	admin.HandleFunc("/groups", s.listGroups).Methods("GET")
	admin.HandleFunc("/groups", s.createGroup).Methods("POST")
	admin.HandleFunc("/groups/{id:[0-9]+}", s.updateGroup).Methods("PUT")
	admin.HandleFunc("/groups/{id:[0-9]+}", s.deleteGroup).Methods("DELETE")
	admin.HandleFunc("/credit-cards", s.adminListCards).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routeTemplate returns the matched mux route template for metric labels
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// healthz reports liveness; the database must answer a ping
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("health check failed")
		httputil.WriteMessage(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "ok")
}

// writeStoreError maps a store failure onto the response taxonomy:
// missing records become 404, anything else is logged and reported as a
// processing error.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteMessage(w, http.StatusNotFound, MsgNotFound)
		return
	}
	observability.FromContext(r.Context()).WithError(err).Error("store operation failed")
	httputil.WriteMessage(w, http.StatusInternalServerError, MsgProcessingError)
}
