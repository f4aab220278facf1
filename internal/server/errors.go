package server

import (
	"errors"

	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

// Transport failures. Wrapped so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrContext   = errors.New("context_cancelled")
)

// Refusals; their text is what the client sees in Reply.Error.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrLineTooLong = errors.New("line too long")
	ErrMaxClients  = errors.New("too many clients")
)

// mapErrToMetric maps a transport failure to its errors_total label.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrConnRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrConnWrite
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrListen
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}

// rejectReason maps a refusal to its das_intent_rejected_total label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return metrics.RejectRate
	case errors.Is(err, ErrLineTooLong):
		return metrics.RejectTooLong
	case errors.Is(err, ErrMaxClients):
		return metrics.RejectMaxClients
	default:
		return "other"
	}
}

// reject counts a refusal and returns it for the reply.
func reject(err error) error {
	metrics.IncRejected(rejectReason(err))
	return err
}
