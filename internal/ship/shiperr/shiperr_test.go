package shiperr

import (
	"errors"
	"fmt"
	"testing"

	"shipyard.ai/internal/protocol"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&ParseError{Err: errors.New("bad yaml")}, protocol.ErrShipParse},
		{fmt.Errorf("load: %w", &AuthorizationError{Reason: "owner mismatch"}), protocol.ErrShipUnauthorized},
		{&IntegrityError{Format: "full", Expected: "a", Actual: "b"}, protocol.ErrShipIntegrity},
		{errors.New("disk on fire"), protocol.ErrInternal},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
	if Fatal(errors.New("x")) {
		t.Fatalf("plain error should not be a fatal load rejection")
	}
	if !Fatal(&AuthorizationError{Reason: "r"}) {
		t.Fatalf("authorization error should be fatal")
	}
}

func TestParseErrorUnwrap(t *testing.T) {
	cause := errors.New("line 3: mapping values are not allowed")
	err := &ParseError{Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected ParseError to unwrap to cause")
	}
}
