package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"arbor-backend/application/loaders"
	"arbor-backend/infrastructure/config"
	"arbor-backend/infrastructure/secrets"
	"arbor-backend/infrastructure/sessioncache"
	"arbor-backend/interfaces/http/rest/handlers"
	"arbor-backend/internal/middleware"
	"arbor-backend/internal/service/tree"
	"arbor-backend/pkg/observability"
)

// Router creates and configures the HTTP router
type Router struct {
	cfg            *config.Config
	store          *tree.Service
	loadersFactory func() *loaders.Loaders
	sessions       *sessioncache.Cache
	secrets        *secrets.Service
	metrics        *observability.Collector
	logger         *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	cfg *config.Config,
	store *tree.Service,
	loadersFactory func() *loaders.Loaders,
	sessions *sessioncache.Cache,
	secretsService *secrets.Service,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg:            cfg,
		store:          store,
		loadersFactory: loadersFactory,
		sessions:       sessions,
		secrets:        secretsService,
		metrics:        metrics,
		logger:         logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Recovery(rt.logger))
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Timeout(30*time.Second, rt.logger))
	router.Use(middleware.CircuitBreaker(middleware.DefaultCircuitBreakerConfig("api"), rt.logger))

	if rt.cfg.EnableMetrics {
		router.Use(middleware.Metrics(rt.metrics))
	}

	if rt.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:3000", "tauri://localhost"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)

	if rt.cfg.EnableMetrics {
		router.Handle("/metrics", rt.metrics.Handler())
	}

	// API v1 routes
	router.Route("/api/v1", func(r chi.Router) {
		// Fresh batching context per request so loads coalesce and
		// memoization never leaks across requests.
		r.Use(loaders.Middleware(rt.loadersFactory))

		// Node endpoints
		r.Route("/nodes", func(r chi.Router) {
			nodeHandler := handlers.NewNodeHandler(rt.store, rt.metrics, rt.logger)
			r.Post("/", nodeHandler.CreateNode)
			r.Get("/", nodeHandler.ListRoots)
			r.Get("/{nodeID}", nodeHandler.GetNode)
			r.Put("/{nodeID}", nodeHandler.UpdateNode)
			r.Delete("/{nodeID}", nodeHandler.DeleteNode)
			r.Get("/{nodeID}/children", nodeHandler.ListChildren)
			r.Get("/{nodeID}/parent", nodeHandler.GetParent)
			r.Get("/{nodeID}/container", nodeHandler.GetContainer)
		})

		// Graph endpoint for nested expansion
		r.Get("/graph/{nodeID}", handlers.NewGraphHandler(rt.store, rt.logger).GetGraph)

		// Tag search endpoint
		r.Get("/search", handlers.NewSearchHandler(rt.store, rt.logger).SearchByTags)

		// Session state endpoints
		if rt.sessions != nil {
			r.Route("/sessions", func(r chi.Router) {
				sessionHandler := handlers.NewSessionHandler(rt.sessions, rt.logger)
				r.Put("/{key}", sessionHandler.PutSession)
				r.Get("/{key}", sessionHandler.GetSession)
				r.Delete("/{key}", sessionHandler.DeleteSession)
			})
		}

		// Secret seal/open endpoints
		if rt.secrets != nil {
			r.Route("/secrets", func(r chi.Router) {
				secretHandler := handlers.NewSecretHandler(rt.secrets, rt.logger)
				r.Post("/seal", secretHandler.Seal)
				r.Post("/open", secretHandler.Open)
			})
		}
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck handles readiness check requests
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
