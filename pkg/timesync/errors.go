package timesync

import "errors"

// Sync errors. All are handled inside the engine; only ErrSyncStarvation is
// surfaced to the device service.
var (
	// ErrJitterOutlier is returned when a sample exceeds the outlier ceiling.
	ErrJitterOutlier = errors.New("transport jitter outlier")

	// ErrSequence is returned for duplicate, reordered or unmatched messages.
	ErrSequence = errors.New("sequence error")

	// ErrSyncStarvation is raised when no exchange succeeded within the
	// starvation window.
	ErrSyncStarvation = errors.New("sync starvation")

	// ErrIncomplete is returned when estimating from a partial timestamp set.
	ErrIncomplete = errors.New("incomplete timestamp set")

	// ErrInvalidTimestamps is returned when the timestamps imply a negative
	// round trip.
	ErrInvalidTimestamps = errors.New("invalid timestamps")

	// ErrWrongRole is returned when a message arrives for the other role.
	ErrWrongRole = errors.New("message not valid for current role")
)
