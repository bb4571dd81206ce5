package scorer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/clifton/twag/pkg/config"
)

// ErrCredentialMissing marks a permanently-failing call: the provider has no
// API key, so retrying cannot help.
var ErrCredentialMissing = errors.New("llm credential not set")

// RetryPolicy retries transient LLM failures with exponential backoff and
// jitter. Credential errors short-circuit immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds the policy from LLM configuration.
func NewRetryPolicy(cfg *config.LLMConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBase,
		MaxDelay:    cfg.RetryMax,
		Jitter:      cfg.RetryJitter,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, the attempt budget is spent, or a
// non-retryable error surfaces.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		attempt++
		if errors.Is(err, ErrCredentialMissing) || errors.Is(err, context.Canceled) {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}

		delay := time.Duration(math.Min(
			float64(p.BaseDelay)*math.Pow(2, float64(attempt-1)),
			float64(p.MaxDelay)))
		if p.Jitter > 0 {
			factor := 1 + (rand.Float64()*2-1)*p.Jitter
			if factor < 0 {
				factor = 0
			}
			delay = time.Duration(float64(delay) * factor)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}
