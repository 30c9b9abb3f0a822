package service

import "errors"

// Fatal publish errors. These are never retried: the condition will not
// resolve itself, so rescheduling would only burn the retry budget.
var (
	ErrPostNotFound     = errors.New("post not found")
	ErrAlreadyPublished = errors.New("post already published")
	ErrNoAccounts       = errors.New("no active accounts selected for publishing")
	ErrNoMedia          = errors.New("no publishable media found")
	ErrInvalidMedia     = errors.New("invalid media for post type")
)

// ErrRateLimited marks a locally denied call; transient by definition.
var ErrRateLimited = errors.New("rate limit exceeded")

// IsFatal reports whether a publish error is non-retryable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPostNotFound) ||
		errors.Is(err, ErrAlreadyPublished) ||
		errors.Is(err, ErrNoAccounts) ||
		errors.Is(err, ErrNoMedia) ||
		errors.Is(err, ErrInvalidMedia)
}
