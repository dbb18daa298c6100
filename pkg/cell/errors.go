package cell

import "fmt"

// BadFormatError is raised on truncated input, unknown tags, or encodings
// that are structurally non-canonical.
type BadFormatError struct{ msg string }

func (e *BadFormatError) Error() string { return "bad format: " + e.msg }

func ErrBadFormat(format string, args ...any) error {
	return &BadFormatError{msg: fmt.Sprintf(format, args...)}
}

// InvalidDataError is raised when an encoding parses structurally but is
// semantically inconsistent, e.g. a BigInt cell whose value fits in a Long.
type InvalidDataError struct{ msg string }

func (e *InvalidDataError) Error() string { return "invalid data: " + e.msg }

func ErrInvalidData(format string, args ...any) error {
	return &InvalidDataError{msg: fmt.Sprintf(format, args...)}
}

// MissingDataError is raised while lazily traversing a ref the current
// Store does not hold. Upper layers translate this into a MISSING_DATA
// wire request.
type MissingDataError struct{ H Hash }

func (e *MissingDataError) Error() string { return "missing data: " + e.H.String() }

func ErrMissingData(h Hash) error { return &MissingDataError{H: h} }

// LimitError is raised when a constructor would exceed a structural limit
// (vector/list/map count beyond 63 bits, etc).
type LimitError struct{ msg string }

func (e *LimitError) Error() string { return "limit exceeded: " + e.msg }

func ErrLimit(format string, args ...any) error {
	return &LimitError{msg: fmt.Sprintf(format, args...)}
}

// ArgumentError is raised by collection operations given a structurally
// invalid argument (e.g. a non-blob-like BlobMap key).
type ArgumentError struct{ msg string }

func (e *ArgumentError) Error() string { return "argument error: " + e.msg }

func ErrArgument(format string, args ...any) error {
	return &ArgumentError{msg: fmt.Sprintf(format, args...)}
}
