package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindNetwork     Kind = "NETWORK"
	KindAPI         Kind = "API"
	KindCalculation Kind = "CALCULATION"
	KindValidation  Kind = "VALIDATION"
	KindRateLimit   Kind = "RATE_LIMIT"
	KindData        Kind = "DATA"
	KindCORS        Kind = "CORS"
	KindTimeout     Kind = "TIMEOUT"
)

// Severity grades how loudly a failure is reported.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Severity returns the reporting severity of the kind.
func (k Kind) Severity() Severity {
	switch k {
	case KindCORS, KindRateLimit, KindCalculation:
		return SeverityHigh
	case KindValidation:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Retryable reports whether a failure of this kind may succeed on retry.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit:
		return true
	default:
		return false
	}
}

// Suggestion is a short remediation hint for operators.
func (k Kind) Suggestion() string {
	switch k {
	case KindNetwork:
		return "check connectivity to the exchange endpoint"
	case KindTimeout:
		return "the exchange is slow; raise the fetch timeout or reduce pairs"
	case KindRateLimit:
		return "too many requests; lower the poll rate for this exchange"
	case KindCORS:
		return "the endpoint rejects cross-origin requests; use a proxy"
	case KindAPI:
		return "the exchange rejected the request; verify the symbol layout and URL"
	case KindData:
		return "the response shape changed; review the field paths"
	case KindValidation:
		return "quotes failed sanity checks and were dropped"
	case KindCalculation:
		return "a detector produced an unusable number; inspect the inputs"
	default:
		return ""
	}
}

// Error is a failure tagged with its kind at the point of origin.
type Error struct {
	Kind     Kind
	Exchange string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(e.Kind)))
	if e.Exchange != "" {
		b.WriteString(" " + e.Exchange)
	}
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, exchange, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Exchange: exchange, Op: op, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind Kind, exchange, op, format string, args ...any) error {
	return &Error{Kind: kind, Exchange: exchange, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf resolves the kind of err: tagged errors first, then well-known stdlib
// errors, then message heuristics for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return classifyMessage(err.Error())
}

func classifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "cors"):
		return KindCORS
	case strings.Contains(m, "rate limit"), strings.Contains(m, "429"), strings.Contains(m, "too many requests"):
		return KindRateLimit
	case strings.Contains(m, "timeout"), strings.Contains(m, "timed out"):
		return KindTimeout
	case strings.Contains(m, "network"), strings.Contains(m, "connection"), strings.Contains(m, "fetch"):
		return KindNetwork
	case strings.Contains(m, "nan"), strings.Contains(m, "infinity"), strings.Contains(m, "division"):
		return KindCalculation
	case strings.Contains(m, "invalid"), strings.Contains(m, "validation"):
		return KindValidation
	case strings.Contains(m, "parse"), strings.Contains(m, "json"), strings.Contains(m, "unexpected"):
		return KindData
	default:
		return KindAPI
	}
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err).Retryable()
}
