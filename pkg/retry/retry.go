// Package retry wraps calls to external systems with bounded backoff and a
// uniform classification of what went wrong.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

var (
	// ErrNoResponse means the request was sent but nothing usable came back.
	ErrNoResponse = errors.New("no response from remote")
	// ErrClientSide means the request could not be built or encoded locally.
	ErrClientSide = errors.New("client-side request error")
)

// StatusError is returned when the remote answered with a non-2xx status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.Status, e.Body)
}

// Retryable reports whether another attempt may succeed.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// NoResponse wraps a transport error as ErrNoResponse.
func NoResponse(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNoResponse, err)
}

// ClientSide wraps a local error as ErrClientSide.
func ClientSide(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrClientSide, err)
}

// Policy controls the exponential retry used for external calls.
type Policy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxTries        uint
}

// DefaultPolicy is base 1s, factor 2, cap 10s, 3 attempts.
var DefaultPolicy = Policy{
	InitialInterval: time.Second,
	Multiplier:      2,
	MaxInterval:     10 * time.Second,
	MaxTries:        3,
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.Multiplier = p.Multiplier
	bo.MaxInterval = p.MaxInterval
	bo.RandomizationFactor = 0
	return bo
}

// Do runs op under the policy. Client-side errors and non-retryable statuses stop immediately.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if !Retryable(err) {
			return res, backoff.Permanent(err)
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("op", name).Int("attempt", attempt).Msg("external call failed")
		return res, err
	}

	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}
	return backoff.Retry(ctx, operation, backoff.WithBackOff(p.backOff()), backoff.WithMaxTries(tries))
}

// Retryable classifies err according to the external-call taxonomy.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrClientSide) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// Fixed retries op a fixed number of times with a constant delay between attempts.
// It is meant for short operational races, not for generic external failures.
func Fixed(ctx context.Context, attempts int, delay time.Duration, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op(ctx)
	}, backoff.WithBackOff(backoff.NewConstantBackOff(delay)), backoff.WithMaxTries(uint(attempts)))
	return err
}
