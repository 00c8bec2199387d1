package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ternarybob/ghostrun/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs
	mux.HandleFunc("/api/v1/jobs", s.handleJobsRoute)

	// /{id}, /{id}/trace, /{id}/events, /{id}/screenshots/{shotId}
	mux.HandleFunc(handlers.JobsPathPrefix, s.handleJobRoutes)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	// JSON 404 for everything else
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/v1/jobs requests
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.JobHandler.ListJobsHandler, s.app.JobHandler.SubmitJobHandler)
}

// handleJobRoutes routes /api/v1/jobs/{id} and its subresources
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	segments := handlers.JobPathSegments(r.URL.Path)

	switch {
	case len(segments) == 1:
		RouteResourceItem(w, r, s.app.JobHandler.GetJobHandler, s.app.JobHandler.DeleteJobHandler)
	case len(segments) == 2 && segments[1] == "trace":
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.JobHandler.GetTraceHandler})
	case len(segments) == 2 && segments[1] == "events":
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.JobEventsHandler.HandleJobEvents})
	case len(segments) == 3 && segments[1] == "screenshots":
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.JobHandler.GetScreenshotHandler})
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
