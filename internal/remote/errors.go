package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorClass partitions remote API failures for the retrier.
type ErrorClass int

const (
	// ClassFatal errors are never retried (bad identifiers, access denied,
	// not found, malformed requests).
	ClassFatal ErrorClass = iota
	// ClassThrottle errors are retryable rate-limit signals.
	ClassThrottle
	// ClassTransient errors are retryable 5xx-equivalent failures.
	ClassTransient
)

// APIError is a classified remote API failure. The concrete client wraps
// SDK errors into this type so the retrier never string-matches twice.
type APIError struct {
	Op    string
	Code  string
	Class ErrorClass
	Err   error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

var throttleCodes = map[string]bool{
	"ThrottlingException":          true,
	"TooManyRequestsException":     true,
	"RequestThrottled":             true,
	"SlowDown":                     true,
	"LimitExceededException":       true,
	"ProvisionedThroughputExceededException": true,
}

var transientCodes = map[string]bool{
	"InternalFailure":             true,
	"InternalFailureException":    true,
	"InternalServerError":         true,
	"ServiceUnavailable":          true,
	"ServiceUnavailableException": true,
	"RequestTimeout":              true,
	"RequestTimeoutException":     true,
}

// ClassifyCode maps a remote error code string to a class.
func ClassifyCode(code string) ErrorClass {
	if throttleCodes[code] {
		return ClassThrottle
	}
	if transientCodes[code] {
		return ClassTransient
	}
	return ClassFatal
}

// Classify determines the class of any error reaching the retrier.
// Typed APIErrors carry their class; everything else falls back to
// heuristics over the error text and network error types.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "Throttling"),
		strings.Contains(msg, "TooManyRequests"),
		strings.Contains(msg, "Rate exceeded"),
		strings.Contains(msg, "SlowDown"):
		return ClassThrottle
	case strings.Contains(msg, "InternalFailure"),
		strings.Contains(msg, "ServiceUnavailable"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "EOF"),
		strings.Contains(msg, "timeout"):
		return ClassTransient
	}
	return ClassFatal
}

// Retryable reports whether the retrier should attempt the operation again.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassThrottle, ClassTransient:
		return true
	}
	return false
}
