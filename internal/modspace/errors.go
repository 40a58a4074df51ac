package modspace

import "errors"

var (
	// ErrInit marks a failure to construct a usable namespace. It is fatal:
	// the host must refuse to start.
	ErrInit = errors.New("namespace initialization failed")
	// ErrSymbolNotFound is returned when neither the namespace nor any of its
	// ancestors defines a qualified name.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrReleased is returned by operations on a released namespace.
	ErrReleased = errors.New("namespace released")
	// ErrAlreadyReleased is returned by a second Release call.
	ErrAlreadyReleased = errors.New("namespace already released")
	// ErrPipelineNotFound is returned when no manifest declared the pipeline.
	ErrPipelineNotFound = errors.New("pipeline not found")
)
