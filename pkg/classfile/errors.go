package classfile

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the parser.
//
// All of them satisfy errors.Is(err, ErrMalformed).
var (
	// ErrMalformed indicates the input is not a well-formed class file.
	ErrMalformed = errors.New("classfile: malformed class file")

	// ErrTruncated indicates the input ended before the structure it declares.
	ErrTruncated = fmt.Errorf("%w: truncated", ErrMalformed)

	// ErrBadMagic indicates the input does not start with 0xCAFEBABE.
	ErrBadMagic = fmt.Errorf("%w: bad magic", ErrMalformed)

	// ErrUnknownTag indicates an unsupported constant-pool or annotation element tag.
	ErrUnknownTag = fmt.Errorf("%w: unknown tag", ErrMalformed)

	// ErrBadIndex indicates a constant-pool reference to a missing or mistyped entry.
	ErrBadIndex = fmt.Errorf("%w: bad constant-pool index", ErrMalformed)
)

// parseFailure carries an error out of deeply nested parse helpers.
// It is only ever raised and recovered inside this package.
type parseFailure struct {
	err error
}
