package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/RecSpeed/firmwareextrs/internal/extract/ci"
	"github.com/RecSpeed/firmwareextrs/internal/extract/domain"
	"github.com/RecSpeed/firmwareextrs/internal/extract/events"
	"github.com/RecSpeed/firmwareextrs/internal/extract/storage"
	"github.com/RecSpeed/firmwareextrs/shared/metrics"
	"github.com/google/uuid"
)

// Dispatcher is the CI provider surface the service depends on
type Dispatcher interface {
	FindReleaseAsset(ctx context.Context, imageKind, firmware string) (*ci.AssetRef, error)
	Dispatch(ctx context.Context, req ci.DispatchRequest) error
	QueryRunStatus(ctx context.Context, trackID string) (ci.RunStatus, error)
	TrackingURL() string
}

// Options tunes the state machine
type Options struct {
	ImageKinds       []string
	DefaultImageKind string

	ProcessingTTL time.Duration
	DoneTTL       time.Duration

	// DispatchGrace keeps a processing record alive while its run is not
	// yet listed by the CI provider.
	DispatchGrace time.Duration

	// FailureCooldown is how long a failed run is remembered. Zero lets the
	// next request dispatch again.
	FailureCooldown time.Duration

	Wait WaitPolicy
}

// Dependencies holds the collaborators of a Service
type Dependencies struct {
	Normalizer *Normalizer
	Jobs       *storage.JobStore
	CI         Dispatcher
	Events     events.Publisher
	Metrics    metrics.Metrics
	Clock      Clock
	Logger     *slog.Logger
}

// Request is one extraction query
type Request struct {
	URL       string
	ImageType string
}

// Result describes the job state returned to the caller. It is also
// returned next to an error when the job context is known.
type Result struct {
	Status      string
	HTTPStatus  int
	Key         string
	TrackID     string
	ImageType   string
	Firmware    string
	URL         string
	DownloadURL string
	TrackingURL string
}

// Service resolves extraction requests against the release, the cache and
// the CI provider
type Service struct {
	normalizer *Normalizer
	jobs       *storage.JobStore
	ci         Dispatcher
	events     events.Publisher
	metrics    metrics.Metrics
	clock      Clock
	logger     *slog.Logger
	opts       Options
}

// job is a validated request
type job struct {
	kind     string
	firmware Firmware
	key      string
}

// NewService creates a Service, filling unset options with defaults
func NewService(deps Dependencies, opts Options) *Service {
	if len(opts.ImageKinds) == 0 {
		opts.ImageKinds = domain.DefaultImageKinds
	}
	if opts.DefaultImageKind == "" {
		opts.DefaultImageKind = domain.ImageBoot
	}
	if opts.ProcessingTTL <= 0 {
		opts.ProcessingTTL = 5 * time.Minute
	}
	if opts.DoneTTL <= 0 {
		opts.DoneTTL = 6 * time.Hour
	}
	if opts.Wait.Mode == "" {
		opts.Wait.Mode = WaitFireAndForget
	}
	if deps.Normalizer == nil {
		deps.Normalizer = NewNormalizer(nil, "")
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}

	return &Service{
		normalizer: deps.Normalizer,
		jobs:       deps.Jobs,
		ci:         deps.CI,
		events:     deps.Events,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		logger:     deps.Logger,
		opts:       opts,
	}
}

// Ping checks the cache backend
func (s *Service) Ping(ctx context.Context) error {
	return s.jobs.Ping(ctx)
}

// Resolve runs one request through the state machine
func (s *Service) Resolve(ctx context.Context, req Request) (*Result, error) {
	j, err := s.validate(req)
	if err != nil {
		s.metrics.IncOutcome("unknown", string(domain.KindInvalidInput))
		return nil, err
	}

	res, err := s.resolve(ctx, j)
	if err != nil {
		s.metrics.IncOutcome(j.kind, string(domain.KindOf(err)))
		s.logger.Warn("Extraction request failed",
			slog.String("key", j.key),
			slog.String("kind", string(domain.KindOf(err))),
			slog.Any("error", err),
		)
		return res, err
	}

	s.metrics.IncOutcome(j.kind, res.Status)
	s.logger.Info("Extraction request resolved",
		slog.String("key", j.key),
		slog.String("status", res.Status),
		slog.String("track_id", res.TrackID),
	)
	return res, nil
}

func (s *Service) validate(req Request) (job, error) {
	kind := strings.ToLower(strings.TrimSpace(req.ImageType))
	if kind == "" {
		kind = s.opts.DefaultImageKind
	}
	if !slices.Contains(s.opts.ImageKinds, kind) {
		return job{}, domain.InvalidInput(fmt.Sprintf("invalid image type, must be one of %s", strings.Join(s.opts.ImageKinds, ", ")))
	}

	fw, err := s.normalizer.Normalize(req.URL)
	if err != nil {
		return job{}, err
	}

	return job{kind: kind, firmware: fw, key: domain.CacheKey(kind, fw.Name)}, nil
}

func (s *Service) resolve(ctx context.Context, j job) (*Result, error) {
	if res, ok := s.checkRelease(ctx, j); ok {
		return res, nil
	}

	record, found := s.jobs.Get(ctx, j.key)
	if found {
		switch record.State {
		case domain.StateDone:
			return s.ready(j, record.Result, record.TrackID), nil
		case domain.StateFailed:
			return s.result(j, domain.StatusFailed, http.StatusNotFound, record.TrackID), jobFailed(record.Error)
		case domain.StateProcessing:
			res, redispatch, err := s.checkProcessing(ctx, j, record)
			if !redispatch {
				return res, err
			}
		}
	}

	return s.dispatch(ctx, j)
}

// checkRelease reports a published asset as ready and records it as done.
// Lookup failures are logged and treated as no asset.
func (s *Service) checkRelease(ctx context.Context, j job) (*Result, bool) {
	asset, err := s.ci.FindReleaseAsset(ctx, j.kind, j.firmware.Name)
	if err != nil {
		s.logger.Warn("Release lookup failed, continuing with cache",
			slog.String("key", j.key),
			slog.Any("error", err),
		)
		return nil, false
	}
	if asset == nil {
		return nil, false
	}

	current, found := s.jobs.Get(ctx, j.key)
	if found && current.State == domain.StateDone && current.Result == asset.DownloadURL {
		return s.ready(j, asset.DownloadURL, current.TrackID), true
	}

	var trackID string
	if found {
		trackID = current.TrackID
	}
	done := s.record(j, domain.StateDone, trackID)
	done.Result = asset.DownloadURL
	if err := s.jobs.Put(ctx, done, s.opts.DoneTTL); err != nil {
		s.logger.Warn("Failed to cache finished job",
			slog.String("key", j.key),
			slog.Any("error", err),
		)
	}
	s.publish(ctx, events.TypeReady, done, "")

	return s.ready(j, asset.DownloadURL, trackID), true
}

// checkProcessing resolves an in-flight record. redispatch is true when the
// record was cleared and a new run should be started.
func (s *Service) checkProcessing(ctx context.Context, j job, record *domain.JobRecord) (*Result, bool, error) {
	processing := s.result(j, domain.StatusProcessing, http.StatusOK, record.TrackID)

	status, err := s.ci.QueryRunStatus(ctx, record.TrackID)
	if err != nil {
		s.logger.Warn("Run status unavailable, reporting processing",
			slog.String("key", j.key),
			slog.String("track_id", record.TrackID),
			slog.Any("error", err),
		)
		return processing, false, nil
	}

	switch status {
	case ci.RunActive:
		res, err := s.await(ctx, j, record, processing)
		return res, false, err

	case ci.RunCompletedSuccess:
		res, err := s.await(ctx, j, record, s.result(j, domain.StatusAwaitingPublish, http.StatusAccepted, record.TrackID))
		return res, false, err

	case ci.RunNotFound:
		if s.opts.DispatchGrace > 0 && !record.Timestamp.IsZero() && record.Age(s.clock.Now()) < s.opts.DispatchGrace {
			res, err := s.await(ctx, j, record, processing)
			return res, false, err
		}
		s.clear(ctx, j, record, "workflow run not found")
		return nil, true, nil

	default:
		if s.opts.FailureCooldown > 0 {
			res, err := s.fail(ctx, j, record, "workflow run failed")
			return res, false, err
		}
		s.clear(ctx, j, record, "previous workflow run failed")
		return nil, true, nil
	}
}

func (s *Service) dispatch(ctx context.Context, j job) (*Result, error) {
	now := s.clock.Now()
	record := s.record(j, domain.StateProcessing, newTrackID(now))

	holder, acquired, err := s.jobs.Claim(ctx, record, s.opts.ProcessingTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return s.describe(j, holder)
	}

	err = s.ci.Dispatch(ctx, ci.DispatchRequest{
		URL:       j.firmware.URL,
		TrackID:   record.TrackID,
		ImageType: j.kind,
	})
	if err != nil {
		s.metrics.IncDispatch(j.kind, "failed")
		if derr := s.jobs.Delete(ctx, j.key); derr != nil {
			s.logger.Error("Failed to release processing record after dispatch failure",
				slog.String("key", j.key),
				slog.Any("error", derr),
			)
		}
		if domain.KindOf(err) != domain.KindDispatchFailed {
			err = &domain.Error{Kind: domain.KindDispatchFailed, Message: "dispatch failed", Detail: err.Error(), Err: err}
		}
		return s.result(j, domain.StatusFailed, http.StatusInternalServerError, record.TrackID), err
	}

	s.metrics.IncDispatch(j.kind, "ok")
	s.publish(ctx, events.TypeDispatched, record, "")
	s.logger.Info("Extraction workflow dispatched",
		slog.String("key", j.key),
		slog.String("track_id", record.TrackID),
		slog.String("url", j.firmware.URL),
	)

	return s.await(ctx, j, record, s.result(j, domain.StatusProcessing, http.StatusAccepted, record.TrackID))
}

// describe reports the record that won a concurrent claim
func (s *Service) describe(j job, holder *domain.JobRecord) (*Result, error) {
	switch holder.State {
	case domain.StateDone:
		return s.ready(j, holder.Result, holder.TrackID), nil
	case domain.StateFailed:
		return s.result(j, domain.StatusFailed, http.StatusNotFound, holder.TrackID), jobFailed(holder.Error)
	default:
		return s.result(j, domain.StatusProcessing, http.StatusOK, holder.TrackID), nil
	}
}

// clear drops a stale processing record so a new run can claim the key
func (s *Service) clear(ctx context.Context, j job, record *domain.JobRecord, reason string) {
	if err := s.jobs.Delete(ctx, j.key); err != nil {
		s.logger.Warn("Failed to clear stale job record",
			slog.String("key", j.key),
			slog.Any("error", err),
		)
	}
	s.publish(ctx, events.TypeRetry, record, reason)
	s.logger.Info("Retrying extraction",
		slog.String("key", j.key),
		slog.String("previous_track_id", record.TrackID),
		slog.String("reason", reason),
	)
}

// fail records a failed run for the cooldown period
func (s *Service) fail(ctx context.Context, j job, record *domain.JobRecord, reason string) (*Result, error) {
	failed := s.record(j, domain.StateFailed, record.TrackID)
	failed.Error = reason
	if err := s.jobs.Put(ctx, failed, s.opts.FailureCooldown); err != nil {
		s.logger.Warn("Failed to cache failed job",
			slog.String("key", j.key),
			slog.Any("error", err),
		)
	}
	s.publish(ctx, events.TypeFailed, failed, reason)
	return s.result(j, domain.StatusFailed, http.StatusNotFound, record.TrackID), jobFailed(reason)
}

func (s *Service) publish(ctx context.Context, t events.Type, record *domain.JobRecord, detail string) {
	err := s.events.Publish(ctx, events.Event{
		Type:      t,
		Key:       record.Key,
		TrackID:   record.TrackID,
		ImageType: record.ImageType,
		Firmware:  record.Firmware,
		URL:       record.URL,
		Detail:    detail,
		Timestamp: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("Failed to publish job event",
			slog.String("event", string(t)),
			slog.String("key", record.Key),
			slog.Any("error", err),
		)
	}
}

func (s *Service) record(j job, state, trackID string) *domain.JobRecord {
	return &domain.JobRecord{
		Key:       j.key,
		State:     state,
		TrackID:   trackID,
		Timestamp: s.clock.Now(),
		ImageType: j.kind,
		Firmware:  j.firmware.Name,
		URL:       j.firmware.URL,
	}
}

func (s *Service) result(j job, status string, code int, trackID string) *Result {
	return &Result{
		Status:      status,
		HTTPStatus:  code,
		Key:         j.key,
		TrackID:     trackID,
		ImageType:   j.kind,
		Firmware:    j.firmware.Name,
		URL:         j.firmware.URL,
		TrackingURL: s.ci.TrackingURL(),
	}
}

func (s *Service) ready(j job, downloadURL, trackID string) *Result {
	res := s.result(j, domain.StatusReady, http.StatusOK, trackID)
	res.DownloadURL = downloadURL
	return res
}

func jobFailed(detail string) error {
	if detail == "" {
		detail = "workflow run failed"
	}
	return &domain.Error{Kind: domain.KindJobFailed, Message: "extraction failed", Detail: detail}
}

// newTrackID returns {unix millis}-{8 hex chars}
func newTrackID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
