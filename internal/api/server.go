package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the collaborator REST API plus health and metrics.
type Server struct {
	handlers *Handlers
	server   *http.Server
}

// NewServer wires the router and returns the HTTP server.
func NewServer(handlers *Handlers, port int) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/submissions", handlers.CreateSubmission)
		r.Get("/submissions", handlers.ListSubmissions)
		r.Get("/submissions/{id}", handlers.GetSubmission)
		r.Get("/submissions/{id}/history", handlers.GetHistory)
		r.Post("/submissions/{id}/transition", handlers.Transition)
		r.Post("/submissions/{id}/cancel", handlers.CancelSubmission)
		r.Post("/submissions/{id}/acknowledgments", handlers.Acknowledge)
		r.Post("/submissions/{id}/errors", handlers.ReportError)

		r.Post("/endpoints", handlers.RegisterEndpoint)
		r.Get("/endpoints/{id}", handlers.GetEndpoint)
		r.Delete("/endpoints/{id}", handlers.DeactivateEndpoint)

		r.Post("/recipients", handlers.RegisterRecipient)
		r.Get("/recipients/{id}", handlers.GetRecipient)
		r.Delete("/recipients/{id}", handlers.DeactivateRecipient)

		r.Get("/deadletters", handlers.ListDeadLetters)
		r.Post("/deadletters/{id}/requeue", handlers.RequeueDeadLetter)
	})

	r.Get("/health", handlers.Health)
	r.Get("/health/detailed", handlers.HealthDetailed)
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		handlers: handlers,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
