package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/RecSpeed/firmwareextrs/internal/extract/ci"
	"github.com/RecSpeed/firmwareextrs/internal/extract/domain"
	"github.com/RecSpeed/firmwareextrs/internal/extract/events"
)

// WaitMode selects whether a request blocks until the job settles
type WaitMode string

const (
	WaitFireAndForget WaitMode = "fire-and-forget"
	WaitPoll          WaitMode = "poll-until-timeout"
)

// WaitPolicy configures the synchronous wait
type WaitPolicy struct {
	Mode        WaitMode
	MaxAttempts int
	Interval    time.Duration
}

// ParseWaitMode validates a configured wait mode
func ParseWaitMode(s string) (WaitMode, error) {
	switch WaitMode(s) {
	case "", WaitFireAndForget:
		return WaitFireAndForget, nil
	case WaitPoll:
		return WaitPoll, nil
	default:
		return "", fmt.Errorf("unknown wait mode %q", s)
	}
}

// await polls until the asset is published, the run fails or the attempts
// run out. In fire-and-forget mode it returns initial unchanged.
func (s *Service) await(ctx context.Context, j job, record *domain.JobRecord, initial *Result) (*Result, error) {
	if s.opts.Wait.Mode != WaitPoll {
		return initial, nil
	}

	for attempt := 1; attempt <= s.opts.Wait.MaxAttempts; attempt++ {
		if err := s.clock.Sleep(ctx, s.opts.Wait.Interval); err != nil {
			s.publish(context.WithoutCancel(ctx), events.TypeTimeout, record, "request canceled")
			return initial, domain.NewError(domain.KindTimeout, "wait canceled", err)
		}

		if res, ok := s.checkRelease(ctx, j); ok {
			return res, nil
		}

		status, err := s.ci.QueryRunStatus(ctx, record.TrackID)
		if err != nil {
			s.logger.Debug("Run status unavailable while waiting",
				slog.String("track_id", record.TrackID),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			continue
		}
		if status != ci.RunCompletedFailure {
			continue
		}

		if s.opts.FailureCooldown > 0 {
			return s.fail(ctx, j, record, "workflow run failed")
		}
		if err := s.jobs.Delete(ctx, j.key); err != nil {
			s.logger.Warn("Failed to clear failed job record",
				slog.String("key", j.key),
				slog.Any("error", err),
			)
		}
		s.publish(ctx, events.TypeFailed, record, "workflow run failed")
		return s.result(j, domain.StatusFailed, http.StatusNotFound, record.TrackID), jobFailed("workflow run failed")
	}

	s.publish(ctx, events.TypeTimeout, record, "")
	return initial, &domain.Error{
		Kind:    domain.KindTimeout,
		Message: "timed out waiting for extraction",
		Detail:  fmt.Sprintf("gave up after %d attempts", s.opts.Wait.MaxAttempts),
	}
}
