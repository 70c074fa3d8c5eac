package core

import "errors"

var (
	// ErrInvalidArgument indicates a nil, absent or unresolvable argument.
	// Calls failing with it leave the exchange untouched.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateConversionTarget indicates a network that was already
	// converted, or a conversion target id that is already in use.
	ErrDuplicateConversionTarget = errors.New("duplicate conversion target")
)
