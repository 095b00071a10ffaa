package jobs

import "errors"

var (
	// ErrInvalidJob is returned when an enqueue request is malformed.
	ErrInvalidJob = errors.New("invalid job")
	// ErrInvalidSchedule is returned when run_at cannot be parsed as a timestamp.
	ErrInvalidSchedule = errors.New("invalid run_at")
	// ErrUnknownSetting is returned for settings keys the queue does not recognize.
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrInvalidSetting is returned when a settings value fails validation.
	ErrInvalidSetting = errors.New("invalid setting value")
)
