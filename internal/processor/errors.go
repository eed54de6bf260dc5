package processor

import (
	"errors"
	"fmt"
)

// ErrInputNotFound is returned when the input path does not exist.
var ErrInputNotFound = errors.New("input file not found")

// Pipeline stages reported by ProcessingError.
const (
	StageRead      = "read"
	StageDecode    = "decode"
	StageCrop      = "crop"
	StageEncodePNG = "encode-png"
	StageEncodeICO = "encode-ico"
	StageWrite     = "write"
)

// ProcessingError is the single failure category of the pipeline. Stage
// names where it failed; Err is the underlying cause.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing image (%s): %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func stageError(stage string, err error) error {
	return &ProcessingError{Stage: stage, Err: err}
}

// Stage extracts the failing stage from err, or "" if err is not a
// ProcessingError.
func Stage(err error) string {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
