package report

import (
	"log/slog"

	"aeroinsight/internal/report/handler"
	"aeroinsight/internal/report/service"
)

// Service exposes report submission, reads, live queries and reviews.
type Service = service.Service

// Handler wires HTTP endpoints to the report service.
type Handler = handler.Handler

// NewService constructs the report service over the given store.
func NewService(reports service.Store, opts ...service.Option) *Service {
	return service.New(reports, opts...)
}

// NewHandler constructs the HTTP handler for the /reports routes.
func NewHandler(s *Service, logger *slog.Logger, loginPath string) *Handler {
	return handler.New(s, logger, loginPath)
}
