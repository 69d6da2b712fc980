package ai

import (
	"errors"
	"fmt"
)

var (
	ErrEmbeddingProvider  = errors.New("embedding provider error")
	ErrGenerationProvider = errors.New("generation provider error")
	ErrPolicyViolation    = errors.New("policy violation")
)

// Operation names used in errors, spans and metrics.
const (
	OpEmbed = "embed"
	OpChat  = "chat"
)

// ProviderError describes a failed provider call. It matches ErrEmbeddingProvider
// or ErrGenerationProvider depending on Op.
type ProviderError struct {
	Op         string
	Provider   string
	Endpoint   string
	StatusCode int
	Body       string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s via %s", e.Provider, e.Op, e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrEmbeddingProvider:
		return e.Op == OpEmbed
	case ErrGenerationProvider:
		return e.Op == OpChat
	}
	return false
}

// PolicyError is returned when configuration forbids the requested provider use.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return "policy violation: " + e.Reason }

func (e *PolicyError) Is(target error) bool { return target == ErrPolicyViolation }

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
