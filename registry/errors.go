package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Registry operations. Callers match them
// with errors.Is.
var (
	// ErrValidation is the base class of all registration validation
	// failures. The concrete sentinels below wrap it.
	ErrValidation = errors.New("invalid team registration")

	// ErrTeamNotFound is returned when the requested team id is unknown.
	ErrTeamNotFound = errors.New("team not found")
)

// Concrete validation failures, each wrapping ErrValidation.
var (
	ErrMissingID       = fmt.Errorf("%w: team id is required", ErrValidation)
	ErrMissingEndpoint = fmt.Errorf("%w: endpoint is required", ErrValidation)
	ErrNoCapabilities  = fmt.Errorf("%w: at least one capability is required", ErrValidation)
)
