package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"chat-relay/internal/domain"
)

// Backoff strategies for the poll loop.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

var errJobNotFinished = errors.New("usecase: job not finished")

// pollBackoff yields the waits between status fetches after the first one.
// Fetch count is capped at maxAttempts.
func pollBackoff(strategy string, interval, maxInterval time.Duration, maxAttempts int) retry.Backoff {
	var b retry.Backoff
	if strings.EqualFold(strategy, BackoffExponential) {
		b = retry.NewExponential(interval)
		if maxInterval > 0 {
			b = retry.WithCappedDuration(maxInterval, b)
		}
	} else {
		b = retry.NewConstant(interval)
	}
	return retry.WithMaxRetries(uint64(maxAttempts-1), b)
}

// awaitJob waits one interval, then fetches the job status until it reaches a
// terminal state or the attempt budget runs out. It returns the last observed
// job and the number of status fetches performed.
func (s *ReplyService) awaitJob(ctx context.Context, job domain.Job) (domain.Job, int, error) {
	logger := zerolog.Ctx(ctx)
	attempts := 0
	current := job

	if err := sleepContext(ctx, s.cfg.PollInterval); err != nil {
		return current, attempts, contextError(err)
	}

	b := pollBackoff(s.cfg.Backoff, s.cfg.PollInterval, s.cfg.MaxPollInterval, s.cfg.MaxPollAttempts)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		next, err := s.api.GetJobStatus(ctx, current)
		if err != nil {
			return remoteError("job_status_error", err)
		}
		current = next
		logger.Debug().
			Str("job_id", next.ID).
			Str("status", string(next.Status)).
			Int("attempt", attempts).
			Msg("polled job status")

		switch {
		case next.Status == domain.JobCompleted:
			return nil
		case next.Status.Terminal():
			return jobFailedError(next)
		case next.Status == domain.JobRequiresInput:
			e := newError(ErrorUnsupportedJobState, "requires_input", nil)
			e.Detail = fmt.Sprintf("job %s is waiting for external input", next.ID)
			return e
		default:
			return retry.RetryableError(errJobNotFinished)
		}
	})

	switch {
	case err == nil:
		return current, attempts, nil
	case errors.Is(err, errJobNotFinished):
		e := newError(ErrorJobTimeout, "poll_attempts_exhausted", nil)
		e.Detail = fmt.Sprintf("job %s still %s after %d status checks", current.ID, current.Status, attempts)
		return current, attempts, e
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		var uerr *Error
		if errors.As(err, &uerr) {
			return current, attempts, err
		}
		return current, attempts, contextError(err)
	}
	return current, attempts, err
}

func jobFailedError(job domain.Job) *Error {
	e := newError(ErrorJobFailed, "job_"+strings.ReplaceAll(string(job.Status), "-", "_"), nil)
	e.Detail = job.ErrorDetail
	if e.Detail == "" {
		e.Detail = fmt.Sprintf("job %s ended with status %s", job.ID, job.Status)
	}
	return e
}

func contextError(err error) *Error {
	return newError(ErrorJobTimeout, "context_done", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
