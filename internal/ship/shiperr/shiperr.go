// Package shiperr holds the fatal load failures. Each type names a human readable
// reason; callers tell them apart with errors.As.
package shiperr

import (
	"errors"
	"fmt"

	"shipyard.ai/internal/protocol"
)

// ParseError means the document text could not be decoded. Nothing was validated.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "ship document malformed: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// AuthorizationError is a blacklisted checksum, a foreign server binding or an owner
// mismatch.
type AuthorizationError struct {
	Reason   string
	Checksum string
}

func (e *AuthorizationError) Error() string {
	return "ship load not authorized: " + e.Reason
}

// IntegrityError is a checksum that does not match the document it was attached to.
type IntegrityError struct {
	Format   string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ship document failed integrity check (%s format): the document was modified after it was saved", e.Format)
}

// Code maps an error to its wire error code.
func Code(err error) string {
	var pe *ParseError
	var ae *AuthorizationError
	var ie *IntegrityError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return protocol.ErrShipParse
	case errors.As(err, &ae):
		return protocol.ErrShipUnauthorized
	case errors.As(err, &ie):
		return protocol.ErrShipIntegrity
	default:
		return protocol.ErrInternal
	}
}

// Fatal reports whether err is one of the load rejections above.
func Fatal(err error) bool {
	c := Code(err)
	return c == protocol.ErrShipParse || c == protocol.ErrShipUnauthorized || c == protocol.ErrShipIntegrity
}
