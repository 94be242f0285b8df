package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/RecSpeed/firmwareextrs/internal/extract/domain"
	"github.com/RecSpeed/firmwareextrs/shared/metrics"
	"github.com/google/uuid"
)

const (
	defaultBaseURL     = "https://api.github.com"
	defaultHTMLURL     = "https://github.com"
	defaultUserAgent   = "FCE-Worker"
	defaultTimeout     = 15 * time.Second
	defaultRunsPerPage = 30
	maxErrorBody       = 2048
)

// Config holds GitHub Actions API settings
type Config struct {
	BaseURL     string
	HTMLURL     string
	Owner       string
	Repo        string
	Workflow    string
	Ref         string
	ReleaseTag  string
	Token       string
	UserAgent   string
	Timeout     time.Duration
	RunsPerPage int
}

// Client talks to the GitHub REST API for releases and workflow runs
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	metrics metrics.Metrics
}

// NewClient creates a Client. httpClient and m may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger, m metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTMLURL == "" {
		cfg.HTMLURL = defaultHTMLURL
	}
	cfg.HTMLURL = strings.TrimRight(cfg.HTMLURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RunsPerPage <= 0 {
		cfg.RunsPerPage = defaultRunsPerPage
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		logger:  logger,
		metrics: m,
	}
}

// FindReleaseAsset looks for {kind}_{firmware}.zip in the release tagged
// cfg.ReleaseTag. It returns nil when the release or the asset is missing.
func (c *Client) FindReleaseAsset(ctx context.Context, imageKind, firmware string) (*AssetRef, error) {
	path := fmt.Sprintf("/repos/%s/%s/releases/tags/%s", c.cfg.Owner, c.cfg.Repo, url.PathEscape(c.cfg.ReleaseTag))

	raw, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, c.upstream(err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status/100 != 2 {
		return nil, c.upstream(fmt.Errorf("list release assets: status %d", status))
	}

	var rel release
	if err := json.Unmarshal(raw, &rel); err != nil {
		return nil, c.upstream(fmt.Errorf("decode release: %w", err))
	}

	want := domain.AssetName(imageKind, firmware)
	for _, asset := range rel.Assets {
		if asset.Name == want {
			found := asset
			return &found, nil
		}
	}
	return nil, nil
}

// Dispatch triggers the extraction workflow with the given inputs
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) error {
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches", c.cfg.Owner, c.cfg.Repo, url.PathEscape(c.cfg.Workflow))
	body := dispatchBody{
		Ref: c.cfg.Ref,
		Inputs: map[string]string{
			"url":        req.URL,
			"track":      req.TrackID,
			"image_type": req.ImageType,
		},
	}

	raw, status, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		c.metrics.IncUpstreamError("github")
		return &domain.Error{
			Kind:    domain.KindDispatchFailed,
			Message: "dispatch failed",
			Detail:  err.Error(),
			Err:     err,
		}
	}
	if status/100 != 2 {
		return &domain.Error{
			Kind:    domain.KindDispatchFailed,
			Message: "dispatch failed",
			Detail:  fmt.Sprintf("%d %s: %s", status, http.StatusText(status), truncate(raw, maxErrorBody)),
		}
	}
	return nil
}

// QueryRunStatus finds the newest workflow run carrying trackID in its
// inputs, name or display title and resolves its state.
func (c *Client) QueryRunStatus(ctx context.Context, trackID string) (RunStatus, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/runs?per_page=%s",
		c.cfg.Owner, c.cfg.Repo, url.PathEscape(c.cfg.Workflow), strconv.Itoa(c.cfg.RunsPerPage))

	raw, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", c.upstream(err)
	}
	if status/100 != 2 {
		return "", c.upstream(fmt.Errorf("list workflow runs: status %d", status))
	}

	var runs workflowRuns
	if err := json.Unmarshal(raw, &runs); err != nil {
		return "", c.upstream(fmt.Errorf("decode workflow runs: %w", err))
	}

	for _, run := range runs.WorkflowRuns {
		if !matchesTrack(run, trackID) {
			continue
		}
		return resolveRun(run), nil
	}
	return RunNotFound, nil
}

// TrackingURL is the human-facing page listing the workflow's runs
func (c *Client) TrackingURL() string {
	return fmt.Sprintf("%s/%s/%s/actions/workflows/%s", c.cfg.HTMLURL, c.cfg.Owner, c.cfg.Repo, c.cfg.Workflow)
}

func matchesTrack(run workflowRun, trackID string) bool {
	if trackID == "" {
		return false
	}
	if run.Inputs["track"] == trackID {
		return true
	}
	return strings.Contains(run.Name, trackID) || strings.Contains(run.DisplayTitle, trackID)
}

func resolveRun(run workflowRun) RunStatus {
	if _, ok := activeRunStatuses[run.Status]; ok {
		return RunActive
	}
	if run.Status == "completed" && run.Conclusion == "success" {
		return RunCompletedSuccess
	}
	return RunCompletedFailure
}

func (c *Client) upstream(err error) error {
	c.metrics.IncUpstreamError("github")
	return domain.Upstream("github", err)
}

// do sends one API request and returns the raw body and status code
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	reqID := uuid.New().String()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode json: %w", err)
		}
		reader = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("GitHub request failed",
			slog.String("req_id", reqID),
			slog.String("method", method),
			slog.String("path", path),
			slog.Any("error", err),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("GitHub response",
		slog.String("req_id", reqID),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(raw)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return raw, resp.StatusCode, nil
}

func truncate(raw []byte, n int) string {
	s := strings.TrimSpace(string(raw))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
