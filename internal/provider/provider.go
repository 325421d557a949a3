package provider

import (
	"context"
	"time"
)

type Op string

const (
	OpQuery   Op = "query"
	OpCaption Op = "caption"
	OpDetect  Op = "detect"
	OpPoint   Op = "point"
)

func (o Op) Valid() bool {
	switch o {
	case OpQuery, OpCaption, OpDetect, OpPoint:
		return true
	}
	return false
}

// Request is an immutable analysis intent for a single frame. Image holds the
// encoded frame bytes; the remaining fields apply per operation. Backends
// enforce their own size limits, surfaced as HTTP errors.
type Request struct {
	Op      Op
	Image   []byte
	Prompt  string        // query: the free-form question
	Length  string        // caption: short | normal | long, defaults to normal
	Object  string        // detect / point: target object label
	Timeout time.Duration // overrides the provider default when > 0
}

// AnalysisResult is the normalized outcome shared by every backend. Expected
// backend-side failures land in Error with Response empty and StructuredData
// nil, so multi-provider dispatches can still report partial comparisons.
type AnalysisResult struct {
	Provider         string   `json:"provider"`
	Response         string   `json:"response"`
	StructuredData   any      `json:"structured_data,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Confidence       *float64 `json:"confidence,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Provider is one inference backend. Implementations are stateless besides
// immutable configuration and are safe for concurrent calls. Analyze returns
// a hard error only when the request could not be formed; everything the
// backend answers, including failures, becomes an AnalysisResult.
type Provider interface {
	ID() string
	Analyze(ctx context.Context, req Request) (AnalysisResult, error)
}

func softFailure(provider string, elapsed time.Duration, msg string) AnalysisResult {
	return AnalysisResult{
		Provider:         provider,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Error:            msg,
	}
}

func effectiveTimeout(req Request, def time.Duration) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return def
}

func captionLength(req Request) string {
	if req.Length == "" {
		return "normal"
	}
	return req.Length
}
