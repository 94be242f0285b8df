package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RecSpeed/firmwareextrs/internal/api/dto"
	"github.com/RecSpeed/firmwareextrs/internal/extract"
	"github.com/RecSpeed/firmwareextrs/internal/extract/domain"
	"github.com/RecSpeed/firmwareextrs/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver returns canned answers and remembers the last request
type fakeResolver struct {
	res     *extract.Result
	err     error
	pingErr error
	calls   int
	last    extract.Request
}

func (f *fakeResolver) Resolve(_ context.Context, req extract.Request) (*extract.Result, error) {
	f.calls++
	f.last = req
	return f.res, f.err
}

func (f *fakeResolver) Ping(context.Context) error { return f.pingErr }

func newTestEngine(resolver Resolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewExtractHandler(&Dependencies{Logger: logger.NewDiscard(), Resolver: resolver})

	r := gin.New()
	r.GET("/extract", h.Extract)
	r.GET("/health", h.Health)
	return r
}

func serve(t *testing.T, r *gin.Engine, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestExtract_Success(t *testing.T) {
	tests := []struct {
		name        string
		res         *extract.Result
		wantMessage string
	}{
		{
			name: "ready",
			res: &extract.Result{
				Status: domain.StatusReady, HTTPStatus: http.StatusOK,
				DownloadURL: "https://dl.example/boot_rom.zip", ImageType: "boot", Firmware: "rom",
			},
			wantMessage: "firmware image is ready",
		},
		{
			name: "dispatched",
			res: &extract.Result{
				Status: domain.StatusProcessing, HTTPStatus: http.StatusAccepted,
				TrackID: "1714557600000-1a2b3c4d", ImageType: "boot", Firmware: "rom",
			},
			wantMessage: "extraction started",
		},
		{
			name: "running",
			res: &extract.Result{
				Status: domain.StatusProcessing, HTTPStatus: http.StatusOK,
				TrackID: "1714557600000-1a2b3c4d", ImageType: "boot", Firmware: "rom",
			},
			wantMessage: "extraction in progress",
		},
		{
			name: "awaiting publish",
			res: &extract.Result{
				Status: domain.StatusAwaitingPublish, HTTPStatus: http.StatusAccepted,
				TrackID: "1714557600000-1a2b3c4d", ImageType: "boot", Firmware: "rom",
			},
			wantMessage: "extraction finished, waiting for the release to be published",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{res: tt.res}
			w := serve(t, newTestEngine(resolver), "/extract?url=https://bigota.d.miui.com/V1/rom.zip&type=boot")

			assert.Equal(t, tt.res.HTTPStatus, w.Code)
			body := decode[dto.ExtractResponse](t, w)
			assert.Equal(t, tt.res.Status, body.Status)
			assert.Equal(t, tt.wantMessage, body.Message)
			assert.Equal(t, tt.res.TrackID, body.TrackID)
			assert.Equal(t, tt.res.DownloadURL, body.DownloadURL)
			assert.Equal(t, "rom", body.Firmware)
		})
	}
}

func TestExtract_ImageTypeParams(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"url=u.zip&type=recovery", "recovery"},
		{"url=u.zip&get=modem", "modem"},
		{"url=u.zip&type=boot&get=modem", "boot"},
		{"url=u.zip", ""},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resolver := &fakeResolver{res: &extract.Result{Status: domain.StatusReady, HTTPStatus: http.StatusOK}}
			serve(t, newTestEngine(resolver), "/extract?"+tt.query)

			require.Equal(t, 1, resolver.calls)
			assert.Equal(t, "u.zip", resolver.last.URL)
			assert.Equal(t, tt.want, resolver.last.ImageType)
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name        string
		res         *extract.Result
		err         error
		wantStatus  int
		wantKind    string
		wantError   string
		wantDetails string
		wantTrackID string
	}{
		{
			name:       "invalid input",
			err:        domain.InvalidInput("url must reference a .zip file"),
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_input",
			wantError:  "url must reference a .zip file",
		},
		{
			name:        "job failed",
			res:         &extract.Result{TrackID: "bad-track"},
			err:         &domain.Error{Kind: domain.KindJobFailed, Message: "extraction failed", Detail: "workflow run failed"},
			wantStatus:  http.StatusNotFound,
			wantKind:    "job_failed",
			wantError:   "extraction failed",
			wantDetails: "workflow run failed",
			wantTrackID: "bad-track",
		},
		{
			name:        "dispatch failed",
			res:         &extract.Result{TrackID: "t"},
			err:         &domain.Error{Kind: domain.KindDispatchFailed, Message: "dispatch failed", Detail: "422 Unprocessable Entity: bad inputs"},
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "dispatch_failed",
			wantError:   "dispatch failed",
			wantDetails: "422 Unprocessable Entity: bad inputs",
			wantTrackID: "t",
		},
		{
			name:        "timeout",
			res:         &extract.Result{TrackID: "slow-track"},
			err:         domain.NewError(domain.KindTimeout, "timed out waiting for extraction", nil),
			wantStatus:  http.StatusGatewayTimeout,
			wantKind:    "timeout",
			wantError:   "timed out waiting for extraction",
			wantTrackID: "slow-track",
		},
		{
			name:       "cache unavailable",
			err:        domain.Upstream("cache", errors.New("connection refused")),
			wantStatus: http.StatusInternalServerError,
			wantKind:   "upstream_unavailable",
			wantError:  "cache unavailable",
		},
		{
			name:       "unclassified",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   "internal",
			wantError:  "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{res: tt.res, err: tt.err}
			w := serve(t, newTestEngine(resolver), "/extract?url=https://bigota.d.miui.com/V1/rom.zip")

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode[dto.ErrorResponse](t, w)
			assert.Equal(t, tt.wantKind, body.Kind)
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, tt.wantDetails, body.Details)
			assert.Equal(t, tt.wantTrackID, body.TrackID)
		})
	}
}

func TestHealth(t *testing.T) {
	w := serve(t, newTestEngine(&fakeResolver{}), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[dto.HealthResponse](t, w)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, ServiceName, body.Service)

	w = serve(t, newTestEngine(&fakeResolver{pingErr: errors.New("redis: connection refused")}), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decode[dto.HealthResponse](t, w)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "unavailable", body.Cache)
	assert.Contains(t, body.Error, "connection refused")
}
