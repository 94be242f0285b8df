package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/RecSpeed/firmwareextrs/internal/api/dto"
	"github.com/RecSpeed/firmwareextrs/internal/extract"
	"github.com/RecSpeed/firmwareextrs/internal/extract/domain"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

var statusMessages = map[string]string{
	domain.StatusReady:           "firmware image is ready",
	domain.StatusAwaitingPublish: "extraction finished, waiting for the release to be published",
}

// Extract handles GET / and GET /api/v1/extract
// Returns the download URL of an extracted image or the state of its job
func (h *ExtractHandler) Extract(c *gin.Context) {
	var req dto.ExtractRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "Invalid query parameters",
			Kind:  string(domain.KindInvalidInput),
		})
		return
	}

	h.logger.Info("Extract called",
		slog.String("url", req.URL),
		slog.String("image_type", req.ImageType()),
	)

	res, err := h.resolver.Resolve(c.Request.Context(), extract.Request{
		URL:       req.URL,
		ImageType: req.ImageType(),
	})
	if err != nil {
		h.writeError(c, res, err)
		return
	}

	c.JSON(res.HTTPStatus, dto.ExtractResponse{
		Status:      res.Status,
		Message:     message(res),
		DownloadURL: res.DownloadURL,
		TrackID:     res.TrackID,
		ImageType:   res.ImageType,
		Firmware:    res.Firmware,
		URL:         res.URL,
		TrackingURL: res.TrackingURL,
	})
}

func (h *ExtractHandler) writeError(c *gin.Context, res *extract.Result, err error) {
	body := dto.ErrorResponse{
		Error: err.Error(),
		Kind:  string(domain.KindOf(err)),
	}

	var derr *domain.Error
	if errors.As(err, &derr) {
		body.Error = derr.Message
		body.Details = derr.Detail
	}
	if res != nil {
		body.TrackID = res.TrackID
		body.TrackingURL = res.TrackingURL
	}

	status := domain.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func message(res *extract.Result) string {
	if msg, ok := statusMessages[res.Status]; ok {
		return msg
	}
	if res.HTTPStatus == http.StatusAccepted {
		return "extraction started"
	}
	return "extraction in progress"
}

// Health handles GET /health
func (h *ExtractHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.resolver.Ping(ctx); err != nil {
		h.logger.Warn("Cache health check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{
			Status:  "degraded",
			Service: ServiceName,
			Cache:   "unavailable",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:  "healthy",
		Service: ServiceName,
		Cache:   "ok",
	})
}
