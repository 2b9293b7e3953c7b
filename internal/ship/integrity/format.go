package integrity

import "strings"

// Format is a checksum wire format.
type Format string

const (
	FormatServerBound    Format = "server_bound"
	FormatLegacyDigest   Format = "legacy_digest"
	FormatLegacyEnhanced Format = "legacy_enhanced"
	FormatLegacyBasic    Format = "legacy_basic"
	FormatFull           Format = "full"
	FormatUnknown        Format = "unknown"
)

// Legacy reports whether a document carrying this format gets migrated on load.
func (f Format) Legacy() bool {
	switch f {
	case FormatLegacyDigest, FormatLegacyEnhanced, FormatLegacyBasic:
		return true
	}
	return false
}

// Detect classifies a stored checksum. Checks run in fixed priority order.
func Detect(checksum string) Format {
	switch {
	case isServerBound(checksum):
		return FormatServerBound
	case isDigest(checksum):
		return FormatLegacyDigest
	case strings.HasSuffix(checksum, enhancedTag):
		return FormatLegacyEnhanced
	case isStructural(checksum) && !hasFullTerms(checksum):
		return FormatLegacyBasic
	case isStructural(checksum) && hasFullTerms(checksum):
		return FormatFull
	default:
		return FormatUnknown
	}
}

// SplitBound returns the binding and base of a server-bound checksum.
func SplitBound(checksum string) (binding, base string, ok bool) {
	if !isServerBound(checksum) {
		return "", "", false
	}
	rest := checksum[len(boundPrefix):]
	return rest[:bindingLen], rest[bindingLen+1:], true
}

func isServerBound(s string) bool {
	if !strings.HasPrefix(s, boundPrefix) {
		return false
	}
	rest := s[len(boundPrefix):]
	return len(rest) > bindingLen && rest[bindingLen] == ':' && isHex(rest[:bindingLen])
}

func isDigest(s string) bool {
	return len(s) == 64 && isHex(s)
}

func isStructural(s string) bool {
	return strings.HasPrefix(s, "G") && strings.Contains(s, ":T") && strings.Contains(s, ":E") && strings.Contains(s, ":P")
}

func hasFullTerms(s string) bool {
	return strings.Contains(s, "]:C") && strings.Contains(s, ":CM")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return s != ""
}
