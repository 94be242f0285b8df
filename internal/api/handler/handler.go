package handler

import (
	"context"
	"log/slog"

	"github.com/RecSpeed/firmwareextrs/internal/extract"
)

// ServiceName is reported by the health endpoint
const ServiceName = "fce-api"

// Resolver runs extraction requests
type Resolver interface {
	Resolve(ctx context.Context, req extract.Request) (*extract.Result, error)
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Resolver Resolver
}

// ExtractHandler handles extraction HTTP requests
type ExtractHandler struct {
	logger   *slog.Logger
	resolver Resolver
}

// NewExtractHandler creates a new ExtractHandler instance
func NewExtractHandler(deps *Dependencies) *ExtractHandler {
	return &ExtractHandler{
		logger:   deps.Logger,
		resolver: deps.Resolver,
	}
}
