package connector

import (
	"fmt"
)

// Stage identifies the pipeline stage a run failed in.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// StageError attaches the pipeline stage to the error that aborted a run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NetworkError reports a transport-level failure (connection refused, timeout,
// DNS) or a refusal by the local circuit breaker. Never retried.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure for %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError reports that the upstream kept answering 429 until the retry
// budget was spent.
type RateLimitError struct {
	Endpoint string
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s after %d attempts", e.Endpoint, e.Attempts)
}

// UpstreamError reports a non-2xx response other than 429. These are not
// transient, so they are never retried.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Snippet    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.Endpoint, e.Snippet)
}

// MalformedResponseError reports a response body that is not valid JSON or is
// missing a field the transformer requires.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response: " + e.Reason
}

// StorageConnectionError reports a failure to reach or prepare the datastore.
type StorageConnectionError struct {
	Err error
}

func (e *StorageConnectionError) Error() string {
	return fmt.Sprintf("storage connection: %v", e.Err)
}

func (e *StorageConnectionError) Unwrap() error { return e.Err }

// StorageWriteError reports a failed or timed-out write. The run terminates
// immediately; nothing tracks partial success.
type StorageWriteError struct {
	Collection string
	Err        error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write to %s: %v", e.Collection, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }
