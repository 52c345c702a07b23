package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"batchgen/internal/credentials"
)

// ProviderState is the provider-side view of a submitted request.
type ProviderState string

const (
	ProviderQueued    ProviderState = "queued"
	ProviderRunning   ProviderState = "running"
	ProviderSucceeded ProviderState = "succeeded"
	ProviderFailed    ProviderState = "failed"
)

// ProviderStatus is the answer to a Query call.
type ProviderStatus struct {
	State        ProviderState
	Progress     *float64
	ResultURL    string
	ErrorCode    string
	ErrorMessage string
}

// Provider is the asynchronous generation backend: Submit returns an opaque
// request id, Query reports on it later.
type Provider interface {
	Submit(ctx context.Context, in Input, secret string) (string, error)
	Query(ctx context.Context, requestID, secret string) (ProviderStatus, error)
}

// Fetcher streams a finished artifact. The content type may be empty.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, string, error)
}

// CredentialPicker hands out the secret to use for the next provider call.
type CredentialPicker interface {
	Pick() (credentials.Entry, error)
}

// CredentialLookup is implemented by pickers that can return a named entry.
// Provider tasks are scoped to the account that created them, so the poller
// queries with the credential that submitted the job when it can.
type CredentialLookup interface {
	Lookup(name string) (credentials.Entry, bool)
}

// ProviderError is the structured failure a Provider should return so the
// submitter can classify it without parsing text.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("provider: %s (%s)", e.Message, e.Code)
	case e.Message != "":
		return "provider: " + e.Message
	case e.Code != "":
		return "provider: " + e.Code
	default:
		return fmt.Sprintf("provider: status %d", e.StatusCode)
	}
}

// rateLimitPattern is the fallback for providers that return no structured
// signal. It is a heuristic and not exhaustive.
var rateLimitPattern = regexp.MustCompile(`(?i)(\b429\b|rate[\s_-]?limit|too many requests|throttl|quota exceeded|qps)`)

// IsRateLimited classifies err as a provider-side rate limit. A
// *ProviderError with status 429 or a Throttling code wins; otherwise the
// message is matched against rateLimitPattern.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if strings.HasPrefix(strings.ToLower(perr.Code), "throttling") {
			return true
		}
	}
	return rateLimitPattern.MatchString(err.Error())
}

// retryAfter extracts a provider-suggested wait, if any.
func retryAfter(err error) time.Duration {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.RetryAfter > 0 {
		return perr.RetryAfter
	}
	return 0
}
