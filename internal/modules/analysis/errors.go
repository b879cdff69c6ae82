package analysis

import "errors"

var (
	// ErrPaused is returned when a pause request was observed at a stage
	// boundary; the checkpoint is kept for a later resume.
	ErrPaused = errors.New("analysis paused")

	// ErrCancelled is returned when a cancel request was observed at a
	// stage boundary; the checkpoint is discarded.
	ErrCancelled = errors.New("analysis cancelled")

	// ErrCheckpointCorrupt is returned when a checkpoint claims a stage is
	// complete but the payload needed to skip it is missing.
	ErrCheckpointCorrupt = errors.New("analysis checkpoint corrupt")
)
