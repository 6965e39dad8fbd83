package protocol

import "errors"

var (
	ErrEmptyEnvelope  = errors.New("protocol: empty envelope")
	ErrMissingChannel = errors.New("protocol: missing channel")
	ErrMissingName    = errors.New("protocol: missing event name")
	ErrArgCount       = errors.New("protocol: unexpected argument count")
	ErrArgDecode      = errors.New("protocol: argument decode failed")
)
