package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers carried by wrapped stage errors. Classification happens
// with errors.Is, so markers survive arbitrary wrapping.
var (
	// ErrTransient marks failures worth retrying: network errors, rate
	// limiting, resource contention.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks failures that retrying cannot fix: invalid
	// references, unsupported or corrupt input, malformed requests.
	ErrPermanent = errors.New("permanent failure")
	// ErrTimeout marks wall-clock expiry of an external operation. Treated
	// as transient for retry purposes.
	ErrTimeout = errors.New("timeout")
	// ErrNotFound marks a missing resource (unknown reference, missing
	// workspace reservation). Not retryable.
	ErrNotFound = errors.New("not found")
	// ErrResourceExhausted marks storage or queue capacity limits.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrBackpressure marks a rejected submission; it surfaces synchronously
	// to the caller and never creates a job.
	ErrBackpressure = errors.New("backpressure")
	// ErrIO marks local filesystem failures.
	ErrIO = errors.New("io failure")
)

// Kind is the string classification persisted alongside failed jobs.
type Kind string

const (
	KindTransient         Kind = "transient"
	KindPermanent         Kind = "permanent"
	KindTimeout           Kind = "timeout"
	KindNotFound          Kind = "not_found"
	KindResourceExhausted Kind = "resource_exhausted"
	KindBackpressure      Kind = "backpressure"
	KindIO                Kind = "io"
)

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above; nil defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its Kind. Unmarked errors classify as transient
// so unexpected failures stay eligible for the bounded retry budget.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBackpressure):
		return KindBackpressure
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindTransient
	}
}

// Retryable reports whether the coordinator may schedule another attempt for
// an error of this classification. Local IO failures count as retryable
// because disks come back; exhausted capacity is terminal and surfaces as a
// failed job until an operator frees space or drains the queue.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindTimeout, KindIO:
		return true
	default:
		return false
	}
}

// Reason derives the human-readable failure reason surfaced by status
// queries. It names the error class, never a raw subprocess dump.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case KindPermanent:
		return "the source rejected the request or the media is unsupported"
	case KindNotFound:
		return "the requested reference could not be found"
	case KindTimeout:
		return "the operation exceeded its time limit"
	case KindResourceExhausted:
		return "storage or queue capacity was exhausted"
	case KindBackpressure:
		return "the queue is full; retry later"
	case KindIO:
		return "a local filesystem error interrupted processing"
	default:
		return "a temporary failure persisted across all retry attempts"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
