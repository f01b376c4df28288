package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"tiergate/internal/catalog"
	"tiergate/internal/handlers"
	"tiergate/internal/metrics"
	"tiergate/internal/middleware"
	"tiergate/internal/responses"
)

// Options carries the router's tunables.
type Options struct {
	MaxBodyBytes int64
	// ModelsTimeout bounds the model-listing routes only; chat and responses
	// calls live as long as the upstream stream does.
	ModelsTimeout time.Duration
}

// Deps are the handlers' collaborators.
type Deps struct {
	Directory  handlers.ModelDirectory
	Upstream   handlers.Upstream
	Translator *responses.Translator
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, deps Deps, opts Options) {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.ModelsTimeout <= 0 {
		opts.ModelsTimeout = 15 * time.Second
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer()) // panic recovery
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	for _, tier := range catalog.Tiers {
		h := handlers.NewTierHandler(tier, deps.Directory, deps.Upstream, deps.Translator)

		r.Route("/"+string(tier)+"/v1", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(opts.ModelsTimeout))
				r.Get("/models", h.ListModels)
				r.Get("/models/*", h.GetModel)
			})
			r.Post("/chat/completions", h.ChatCompletions)
			r.Post("/responses", h.Responses)
		})
	}

	status := handlers.NewStatusHandler(deps.Directory)
	r.Get("/health", status.Health)
	r.Get("/status", status.Status)

	r.Handle("/metrics", metrics.Handler())

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)
}
