package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/metrics"
	"github.com/ginjaninja78/reinf-transmitter/internal/transmit"
)

// DefaultInitialBackoff is the first retry delay when none is configured.
const DefaultInitialBackoff = 2 * time.Second

// RetryPolicy retries transport errors with exponential backoff. Rejections
// and acceptances are final. MaxAttempts <= 1 disables retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

var errTransport = errors.New("transport error")

// send transmits signed under the retry policy and returns the last result
// with the number of attempts made.
func (p *Pipeline) send(ctx context.Context, signed []byte) (transmit.Result, int) {
	var (
		result   transmit.Result
		attempts int
	)

	operation := func() error {
		attempts++
		result = p.sender.Send(ctx, signed)
		p.observe(result)
		if result.Retryable() {
			return fmt.Errorf("%w: %s", errTransport, result.Message)
		}
		return nil
	}

	policy := p.opts.Retry
	if policy.MaxAttempts <= 1 {
		_ = operation()
		return result, attempts
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialBackoff
	if expo.InitialInterval <= 0 {
		expo.InitialInterval = DefaultInitialBackoff
	}
	expo.MaxElapsedTime = 0
	expo.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(policy.MaxAttempts-1)), ctx)
	_ = backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		p.sink.Record(ctx, diag.LevelWarn, "retrying transmission", diag.Fields{
			"attempt": attempts,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	})

	return result, attempts
}

func (p *Pipeline) observe(result transmit.Result) {
	metrics.Transmissions.WithLabelValues(string(p.opts.Environment), result.Outcome.String()).Inc()
	metrics.TransmissionDuration.Observe(float64(result.Duration.Milliseconds()))
}
