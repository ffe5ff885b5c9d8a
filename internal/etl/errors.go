package etl

import "errors"

var (
	ErrUnsupportedConnectionKind = errors.New("unsupported connection kind")
	ErrUnsupportedTransformKind  = errors.New("unsupported transform kind")
	ErrUnknownStepKind           = errors.New("unknown step kind")
	ErrMissingQuery              = errors.New("extract step has no query")
	ErrNoInputData               = errors.New("transform step has no input data")
	ErrDestinationMissing        = errors.New("destination table does not exist")
)
