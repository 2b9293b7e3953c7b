package ship

import "shipyard.ai/internal/ship/shiperr"

type (
	ParseError         = shiperr.ParseError
	AuthorizationError = shiperr.AuthorizationError
	IntegrityError     = shiperr.IntegrityError
)

// Code maps a Save or Load error to its wire error code.
func Code(err error) string { return shiperr.Code(err) }
