package dnn

import "errors"

// Common errors returned by accelerator contexts.
var (
	ErrWorkspaceTooSmall = errors.New("workspace buffer too small for selected algorithm")
	ErrForeignWorkspace  = errors.New("workspace buffer was not allocated by this context")
	ErrUnsupportedMode   = errors.New("convolution mode not supported by this context")
	ErrUnsupportedAlgo   = errors.New("algorithm not supported by this context")
	ErrShapeMismatch     = errors.New("descriptor shapes are inconsistent")
	ErrShortBuffer       = errors.New("data slice shorter than its descriptor requires")
)
