package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Policy bounds every provider call: per-attempt timeout, a fixed backoff
// between attempts, and an optional request rate.
type Policy struct {
	Timeout      time.Duration
	RetryBackoff time.Duration
	Retries      uint64
	RatePerSec   float64
	Burst        int

	limiter *rate.Limiter
}

// NewPolicy fills defaults: 5s timeout, one retry after 1s.
func NewPolicy(timeout, backoff time.Duration, ratePerSec float64, burst int) *Policy {
	p := &Policy{Timeout: timeout, RetryBackoff: backoff, Retries: 1, RatePerSec: ratePerSec, Burst: burst}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = time.Second
	}
	if p.RatePerSec > 0 {
		if p.Burst <= 0 {
			p.Burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(p.RatePerSec), p.Burst)
	}
	return p
}

// Do runs fn, retrying transient UnavailableErrors up to Retries times.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(p.Retries, retry.NewConstant(p.RetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		err := fn(attemptCtx)
		var ue *UnavailableError
		if errors.As(err, &ue) && ue.Transient() {
			return retry.RetryableError(err)
		}
		return err
	})
}

// Resilient decorates a QuoteProvider with a Policy.
type Resilient struct {
	next   QuoteProvider
	policy *Policy
	logger zerolog.Logger
}

// NewResilient wraps next.
func NewResilient(next QuoteProvider, policy *Policy, logger zerolog.Logger) *Resilient {
	if policy == nil {
		policy = NewPolicy(0, 0, 0, 0)
	}
	return &Resilient{
		next:   next,
		policy: policy,
		logger: logger.With().Str("component", "resilient_fetcher").Str("provider", next.Name()).Logger(),
	}
}

// Name delegates to the wrapped provider.
func (r *Resilient) Name() string { return r.next.Name() }

// FetchQuote calls the wrapped provider under the policy. Any failure, including
// context expiry, comes back as an UnavailableError.
func (r *Resilient) FetchQuote(ctx context.Context, symbol string) (Reading, error) {
	var reading Reading
	attempt := 0
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		got, err := r.next.FetchQuote(ctx, symbol)
		if err != nil {
			r.logger.Debug().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("fetch attempt failed")
			return err
		}
		reading = got
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = unavailable(r.next.Name(), symbol, ReasonTransport, err)
		}
		return Reading{}, err
	}
	return reading, nil
}

var _ QuoteProvider = (*Resilient)(nil)
