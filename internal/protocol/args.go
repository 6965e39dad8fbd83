package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// PackArgs encodes each value as one positional argument.
func PackArgs(values ...any) ([]msgpack.RawMessage, error) {
	out := make([]msgpack.RawMessage, 0, len(values))
	for i, v := range values {
		raw, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode arg[%d]: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// UnpackArg decodes args[i] into dst.
func UnpackArg(args []msgpack.RawMessage, i int, dst any) error {
	if i < 0 || i >= len(args) {
		return fmt.Errorf("%w: want index %d of %d", ErrArgCount, i, len(args))
	}
	if err := msgpack.Unmarshal(args[i], dst); err != nil {
		return fmt.Errorf("%w: arg[%d]: %v", ErrArgDecode, i, err)
	}
	return nil
}

const msgpackNil = 0xc0

// IsNil reports whether raw encodes msgpack nil. An empty raw value counts
// as nil.
func IsNil(raw msgpack.RawMessage) bool {
	return len(raw) == 0 || (len(raw) == 1 && raw[0] == msgpackNil)
}

// ExpectArgs checks that the argument count lies within [min, max].
func ExpectArgs(args []msgpack.RawMessage, min, max int) error {
	if len(args) < min || len(args) > max {
		return fmt.Errorf("%w: got %d want %d..%d", ErrArgCount, len(args), min, max)
	}
	return nil
}
