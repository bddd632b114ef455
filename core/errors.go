package core

import "errors"

var (
	// ErrInvalidConfiguration reports a malformed radiation pattern or an
	// antenna profile with a missing required field.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidParameter reports a non-positive frequency or a budget that
	// yields a non-finite maximum distance.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrTerrainFailure wraps an error returned by a TerrainProvider. It
	// aborts the whole computation.
	ErrTerrainFailure = errors.New("terrain provider failure")
)
