// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors following the ADR-021 error handling pattern.
var (
	// Channel errors
	ErrEndOfStream      = errors.New("dissect: end of stream")
	ErrTruncated        = errors.New("dissect: stream closed mid-value")
	ErrUnknownTag       = errors.New("dissect: unknown value tag")
	ErrBlobTooLarge     = errors.New("dissect: length field exceeds limit")
	ErrUnsupportedValue = errors.New("dissect: value has no wire encoding")

	// Call/dispatch errors
	ErrUnknownCallback   = errors.New("dissect: unknown callback")
	ErrArgumentMismatch  = errors.New("dissect: callback argument mismatch")
	ErrUnexpectedResult  = errors.New("dissect: unexpected result type")
	ErrDispatcherStopped = errors.New("dissect: dispatcher stopped")

	// Plugin errors
	ErrUnknownClassifier = errors.New("dissect: unknown classifier")
	ErrClassifierExists  = errors.New("dissect: classifier already registered")
	ErrTypeMismatch      = errors.New("dissect: value incompatible with field type")
	ErrHandleMismatch    = errors.New("dissect: field handle changed for defined key")
	ErrFieldNotDefined   = errors.New("dissect: field not defined")

	// Emulated host errors
	ErrUnknownOperation = errors.New("dissect: unknown host operation")
	ErrNoSession        = errors.New("dissect: host operation outside a session callback")
	ErrUnknownField     = errors.New("dissect: unknown field handle")

	// Configuration errors
	ErrConfigInvalid = errors.New("dissect: invalid configuration")
)
