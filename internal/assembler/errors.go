package assembler

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessing matches every per-request failure returned by Process.
	ErrProcessing = errors.New("processing failed")
	// ErrUnrequestedEntity means the lookup returned an entity whose id the
	// conversion never asked for.
	ErrUnrequestedEntity = errors.New("entity was not requested")
	// ErrUnknownRole means the conversion tagged an entity with a role the
	// target does not declare.
	ErrUnknownRole = errors.New("unknown role")
	// ErrDecode means a request body could not be decoded into the request
	// info type.
	ErrDecode = errors.New("request body could not be decoded")
)

// Stage names the step of Process that failed.
type Stage string

const (
	StageInput    Stage = "input"
	StageConvert  Stage = "convert"
	StageLookup   Stage = "lookup"
	StageAssemble Stage = "assemble"
	StageDispatch Stage = "dispatch"
	StageEvaluate Stage = "evaluate"
)

// Error is a processing failure at one stage of the pipeline.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrProcessing.
func (e *Error) Is(target error) bool { return target == ErrProcessing }

func fail(stage Stage, format string, args ...any) error {
	return &Error{Stage: stage, Err: fmt.Errorf(format, args...)}
}
