package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"

	// Ship load outcomes.
	ErrShipParse        = "E_SHIP_PARSE"
	ErrShipUnauthorized = "E_SHIP_UNAUTHORIZED"
	ErrShipIntegrity    = "E_SHIP_INTEGRITY"

	// Save/lookup.
	ErrNotFound = "E_NOT_FOUND"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrRateLimit:        {},
	ErrShipParse:        {},
	ErrShipUnauthorized: {},
	ErrShipIntegrity:    {},
	ErrNotFound:         {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
