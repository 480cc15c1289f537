package engine

import (
	"errors"
	"fmt"
)

// Engine errors.
var (
	ErrInvalidMultiplier   = errors.New("speed multiplier must be a positive finite number")
	ErrDuplicateDisruption = errors.New("duplicate disruption id")
	ErrInvalidMeta         = errors.New("invalid simulation meta")
)

// SetupError reports a configuration problem found while creating an engine
// or a batch run. The engine refuses to run rather than guess.
type SetupError struct {
	Op  string // corridor, trains, meta, ...
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("engine setup: %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }
