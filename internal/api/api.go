package api

import (
	"kakigoori-worker/internal/core"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type StatusSource interface {
	Status() []core.LoopStatus
}

// HealthService exposes the state of the consumer loops for liveness probes.
type HealthService struct {
	source StatusSource
}

func NewHealthService(source StatusSource) *HealthService {
	return &HealthService{source: source}
}

func (s *HealthService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(s.Health))
	r.Route("/formats", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListFormats))
		r.Get("/{format}", RestHandler(s.GetFormat))
	})
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Formats []core.LoopStatus `json:"formats"`
}

// Health fails once any loop has failed or when no loop is left running.
func (s *HealthService) Health(r *http.Request) (any, error) {
	statuses := s.source.Status()

	running := 0
	for _, status := range statuses {
		switch status.State {
		case core.LoopFailed:
			return nil, CodedErrorf(http.StatusServiceUnavailable, "%s consumer loop has failed", status.Format)
		case core.LoopRunning:
			running++
		}
	}
	if running == 0 {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "no consumer loop is running")
	}

	return HealthResponse{Status: "ok", Formats: statuses}, nil
}

func (s *HealthService) ListFormats(r *http.Request) (any, error) {
	return s.source.Status(), nil
}

func (s *HealthService) GetFormat(r *http.Request) (any, error) {
	format := chi.URLParam(r, "format")
	if format == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {format} url parameter")
	}

	for _, status := range s.source.Status() {
		if status.Format == format {
			return status, nil
		}
	}
	return nil, CodedErrorf(http.StatusNotFound, "format %s is not enabled", format)
}
