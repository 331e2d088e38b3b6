package models

import "errors"

var (
	// ErrSourceUnavailable marks a fetcher that failed or timed out. It degrades
	// one category only.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrEmptyCategory marks a category with no documents left after curation.
	// It is a valid terminal state, never a job failure.
	ErrEmptyCategory = errors.New("empty category")

	// ErrSynthesisFailure marks a briefing that could not be generated after retries.
	ErrSynthesisFailure = errors.New("synthesis failure")

	// ErrJobCancelled is returned when a job is withdrawn before it completes.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrFatalPipeline signals a broken pipeline invariant.
	ErrFatalPipeline = errors.New("fatal pipeline error")
)
