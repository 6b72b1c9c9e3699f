package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable matches every error returned by a provider that could not
// produce a reading.
var ErrUnavailable = errors.New("provider unavailable")

// Reason classifies why a provider was unavailable.
type Reason string

const (
	ReasonTransport Reason = "transport"
	ReasonStatus    Reason = "status"
	ReasonParse     Reason = "parse"
	ReasonEmpty     Reason = "empty"
)

// UnavailableError is the only error shape adapters return.
type UnavailableError struct {
	Provider   string
	Symbol     string
	Reason     Reason
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("%s %s unavailable (%s)", e.Provider, e.Symbol, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnavailable) match.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Transient reports whether a retry may succeed.
func (e *UnavailableError) Transient() bool {
	switch e.Reason {
	case ReasonTransport:
		return true
	case ReasonStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func unavailable(provider, symbol string, reason Reason, err error) error {
	return &UnavailableError{Provider: provider, Symbol: symbol, Reason: reason, Err: err}
}

func statusError(provider, symbol string, status int, body []byte) error {
	var err error
	if len(body) > 0 {
		err = errors.New(truncate(string(body), 200))
	}
	return &UnavailableError{Provider: provider, Symbol: symbol, Reason: ReasonStatus, StatusCode: status, Err: err}
}

// Reading is one raw quote as returned by a provider, before unit normalisation.
type Reading struct {
	Provider   string
	Symbol     string
	Value      decimal.Decimal
	AsOf       string
	Raw        json.RawMessage
	Fields     string
	ReceivedAt time.Time
}

// QuoteProvider fetches a single quote from one external source.
type QuoteProvider interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (Reading, error)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
