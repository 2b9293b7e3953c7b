package identity

import (
	"errors"
	"testing"
	"time"
)

func TestProvider_CachesFirstFingerprint(t *testing.T) {
	calls := 0
	p := New(Probes{
		HardwareAddr: func() string { calls++; return "aa:bb:cc:dd:ee:ff" },
		Hostname:     func() string { return "node1" },
		OSVersion:    func() string { return "linux 6.1" },
		CPUTopology:  func() string { return "cpu8" },
	})
	a, err := p.Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, _ := p.Fingerprint()
	if a != b || len(a) != 64 {
		t.Fatalf("unstable or malformed fingerprint: %q vs %q", a, b)
	}
	if calls != 1 {
		t.Fatalf("probes ran %d times, want 1", calls)
	}
}

func TestProvider_DistinctHostsDiffer(t *testing.T) {
	mk := func(mac string) string {
		f, err := New(Probes{HardwareAddr: func() string { return mac }, Hostname: func() string { return "h" }}).Fingerprint()
		if err != nil {
			t.Fatalf("fingerprint: %v", err)
		}
		return f
	}
	if mk("aa:aa:aa:aa:aa:aa") == mk("bb:bb:bb:bb:bb:bb") {
		t.Fatalf("different hardware should give different fingerprints")
	}
}

func TestProvider_FallbackAndNoSignals(t *testing.T) {
	day := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	p := New(Probes{
		Hostname:  func() string { return "node1" },
		OSVersion: func() string { return "linux" },
		Now:       func() time.Time { return day },
	})
	if _, err := p.Fingerprint(); err != nil {
		t.Fatalf("fallback fingerprint: %v", err)
	}

	empty := New(Probes{HardwareAddr: func() string { return "  " }})
	if _, err := empty.Fingerprint(); !errors.Is(err, ErrNoSignals) {
		t.Fatalf("expected ErrNoSignals, got %v", err)
	}
	if _, err := Static("").Fingerprint(); !errors.Is(err, ErrNoSignals) {
		t.Fatalf("expected ErrNoSignals for empty static identity")
	}
}

func TestDefaultProbes_Fingerprint(t *testing.T) {
	if _, err := NewDefault().Fingerprint(); err != nil {
		t.Fatalf("default fingerprint: %v", err)
	}
}
