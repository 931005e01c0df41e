package bulk

import (
	"net/http"
	"time"

	elasticv7 "github.com/olivere/elastic/v7"
	"github.com/pkg/errors"

	"github.com/pteich/elastic-client-kit/elastic"
)

// RetryPolicy decides how often and after which delay failed items are resent.
type RetryPolicy struct {
	Backoff    elasticv7.Backoff
	MaxRetries int
}

// ConstantRetry waits delay before each of at most maxRetries retries.
func ConstantRetry(delay time.Duration, maxRetries int) RetryPolicy {
	return RetryPolicy{Backoff: elasticv7.NewConstantBackoff(delay), MaxRetries: maxRetries}
}

// ExponentialRetry doubles the delay from initial up to maxDelay, for at most maxRetries retries.
// Once maxDelay is reached the remaining retries keep waiting maxDelay.
func ExponentialRetry(initial, maxDelay time.Duration, maxRetries int) RetryPolicy {
	ticks := make([]int, 0, max(maxRetries, 0))
	d := initial
	for range maxRetries {
		if maxDelay > 0 && d > maxDelay {
			d = maxDelay
		}
		ticks = append(ticks, int(d/time.Millisecond))
		d *= 2
	}
	return RetryPolicy{Backoff: elasticv7.NewSimpleBackoff(ticks...), MaxRetries: maxRetries}
}

// NoRetry surfaces every failure immediately.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

func DefaultRetry() RetryPolicy {
	return ExponentialRetry(50*time.Millisecond, 5*time.Second, 8)
}

// ParseRetry builds a policy from its CLI form: kind is "constant", "exponential" or "none".
func ParseRetry(kind string, delay, maxDelay time.Duration, maxRetries int) (RetryPolicy, error) {
	switch kind {
	case "constant":
		return ConstantRetry(delay, maxRetries), nil
	case "", "exponential":
		return ExponentialRetry(delay, maxDelay, maxRetries), nil
	case "none":
		return NoRetry(), nil
	}
	return RetryPolicy{}, errors.Errorf("unknown retry policy %q", kind)
}

// next returns the delay before retry number retry (starting at 1).
// The backoff itself is indexed from 0.
func (p RetryPolicy) next(retry int) (time.Duration, bool) {
	if p.Backoff == nil || retry < 1 || retry > p.MaxRetries {
		return 0, false
	}
	return p.Backoff.Next(retry - 1)
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryableError reports whole request failures worth resending the batch for.
func retryableError(err error) bool {
	var te *elastic.TransportError
	if errors.As(err, &te) {
		return true
	}
	var ee *elastic.EngineError
	return errors.As(err, &ee) && retryableStatus(ee.Status)
}
