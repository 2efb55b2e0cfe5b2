package fixtures

import "errors"

var (
	ErrInvalidCase       = errors.New("invalid test case")
	ErrUnknownDataFormat = errors.New("unknown data format")
	ErrUnknownVersion    = errors.New("unknown FusedBatchNorm version")
	ErrMissingInput      = errors.New("missing input")
)
