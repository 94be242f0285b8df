package ci

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RecSpeed/firmwareextrs/internal/extract/domain"
	"github.com/RecSpeed/firmwareextrs/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:    srv.URL,
		Owner:      "RecSpeed",
		Repo:       "firmwareextrs",
		Workflow:   "firmware-extraction.yml",
		Ref:        "main",
		ReleaseTag: "latest",
		Token:      "secret-token",
		Timeout:    2 * time.Second,
	}, srv.Client(), logger.NewDiscard(), nil)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestFindReleaseAsset(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/RecSpeed/firmwareextrs/releases/tags/latest", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "FCE-Worker", r.Header.Get("User-Agent"))

		writeJSON(t, w, http.StatusOK, map[string]any{
			"tag_name": "latest",
			"assets": []map[string]string{
				{"name": "recovery_rom.zip", "browser_download_url": "https://dl.example/recovery_rom.zip"},
				{"name": "boot_rom.zip", "browser_download_url": "https://dl.example/boot_rom.zip"},
			},
		})
	})

	asset, err := client.FindReleaseAsset(context.Background(), "boot", "rom")
	require.NoError(t, err)
	require.NotNil(t, asset)
	assert.Equal(t, "boot_rom.zip", asset.Name)
	assert.Equal(t, "https://dl.example/boot_rom.zip", asset.DownloadURL)

	asset, err = client.FindReleaseAsset(context.Background(), "modem", "rom")
	require.NoError(t, err)
	assert.Nil(t, asset, "asset names must match exactly")
}

func TestFindReleaseAsset_MissingRelease(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	})

	asset, err := client.FindReleaseAsset(context.Background(), "boot", "rom")
	require.NoError(t, err)
	assert.Nil(t, asset)
}

func TestFindReleaseAsset_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.FindReleaseAsset(context.Background(), "boot", "rom")
			assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
		})
	}
}

func TestDispatch(t *testing.T) {
	var got dispatchBody
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/RecSpeed/firmwareextrs/actions/workflows/firmware-extraction.yml/dispatches", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.Dispatch(context.Background(), DispatchRequest{
		URL:       "https://mirror.example/V1/rom.zip",
		TrackID:   "1714557600000-1a2b3c4d",
		ImageType: "boot",
	})
	require.NoError(t, err)

	assert.Equal(t, "main", got.Ref)
	assert.Equal(t, map[string]string{
		"url":        "https://mirror.example/V1/rom.zip",
		"track":      "1714557600000-1a2b3c4d",
		"image_type": "boot",
	}, got.Inputs)
}

func TestDispatch_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]string{"message": "Unexpected inputs provided"})
	})

	err := client.Dispatch(context.Background(), DispatchRequest{URL: "u", TrackID: "t", ImageType: "boot"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDispatchFailed)

	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Contains(t, derr.Detail, "422 Unprocessable Entity")
	assert.Contains(t, derr.Detail, "Unexpected inputs provided")
}

func TestDispatch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Owner: "o", Repo: "r", Workflow: "w.yml"}, nil, logger.NewDiscard(), nil)
	err := client.Dispatch(context.Background(), DispatchRequest{URL: "u", TrackID: "t", ImageType: "boot"})
	assert.ErrorIs(t, err, domain.ErrDispatchFailed)
}

func TestQueryRunStatus(t *testing.T) {
	runs := workflowRuns{
		WorkflowRuns: []workflowRun{
			{Name: "extract boot 111-aaaa", Status: "in_progress"},
			{DisplayTitle: "Firmware extraction 222-bbbb", Status: "completed", Conclusion: "success"},
			{Name: "extract", Inputs: map[string]string{"track": "333-cccc"}, Status: "completed", Conclusion: "failure"},
			{Name: "extract 444-dddd", Status: "queued"},
			{Name: "extract 555-eeee", Status: "completed", Conclusion: "cancelled"},
			{Name: "extract 666-ffff", Status: "waiting"},
		},
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/RecSpeed/firmwareextrs/actions/workflows/firmware-extraction.yml/runs", r.URL.Path)
		assert.Equal(t, "30", r.URL.Query().Get("per_page"))
		writeJSON(t, w, http.StatusOK, runs)
	})

	tests := []struct {
		trackID string
		want    RunStatus
	}{
		{"111-aaaa", RunActive},
		{"222-bbbb", RunCompletedSuccess},
		{"333-cccc", RunCompletedFailure},
		{"444-dddd", RunActive},
		{"555-eeee", RunCompletedFailure},
		{"666-ffff", RunActive},
		{"999-zzzz", RunNotFound},
		{"", RunNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.trackID, func(t *testing.T) {
			status, err := client.QueryRunStatus(context.Background(), tt.trackID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestQueryRunStatus_NewestMatchWins(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, workflowRuns{WorkflowRuns: []workflowRun{
			{Name: "extract 111-aaaa", Status: "queued"},
			{Name: "extract 111-aaaa", Status: "completed", Conclusion: "failure"},
		}})
	})

	status, err := client.QueryRunStatus(context.Background(), "111-aaaa")
	require.NoError(t, err)
	assert.Equal(t, RunActive, status)
}

func TestQueryRunStatus_Upstream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.QueryRunStatus(context.Background(), "111-aaaa")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestTrackingURL(t *testing.T) {
	client := NewClient(Config{Owner: "RecSpeed", Repo: "firmwareextrs", Workflow: "firmware-extraction.yml"}, nil, logger.NewDiscard(), nil)
	assert.Equal(t, "https://github.com/RecSpeed/firmwareextrs/actions/workflows/firmware-extraction.yml", client.TrackingURL())
}
