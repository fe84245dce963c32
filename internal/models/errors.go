package models

import "errors"

var (
	// ErrInvalidFrequency is returned for recurrence specs that are not
	// "<positive integer> <unit>".
	ErrInvalidFrequency = errors.New("invalid update frequency")

	// ErrInvalidStartTime is returned when a backfill start time is malformed or
	// not strictly in the past.
	ErrInvalidStartTime = errors.New("invalid start time")

	// ErrNoSuchTask is returned when unregistering an account with no job.
	ErrNoSuchTask = errors.New("no such sync task")

	// ErrAccountNotFound is fatal for a run and deregisters the account.
	ErrAccountNotFound = errors.New("media account not found")

	ErrRateLimited     = errors.New("rate limited")
	ErrChannelFetch    = errors.New("channel fetch failed")
	ErrPublishTimeout  = errors.New("publish acknowledgement timed out")
	ErrPublishRejected = errors.New("publish rejected by relay")

	// ErrInvalidQuery is returned for malformed read-side filters or paging.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUniqueViolation marks a lost insert race on interaction_id.
	ErrUniqueViolation = errors.New("unique constraint violation")
)
