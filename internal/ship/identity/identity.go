// Package identity derives the fingerprint that binds saved ships to the server that
// produced them.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Source yields the server fingerprint. Implementations must return the same value for
// the life of the process.
type Source interface {
	Fingerprint() (string, error)
}

var ErrNoSignals = errors.New("server identity: no host signals available")

// Probes are the host signals. Each returns "" when the signal is unavailable.
type Probes struct {
	HardwareAddr func() string
	Hostname     func() string
	OSVersion    func() string
	CPUTopology  func() string
	Now          func() time.Time
}

func DefaultProbes() Probes {
	return Probes{
		HardwareAddr: firstHardwareAddr,
		Hostname: func() string {
			h, _ := os.Hostname()
			return h
		},
		OSVersion:   osVersion,
		CPUTopology: func() string { return "cpu" + strconv.Itoa(runtime.NumCPU()) },
		Now:         time.Now,
	}
}

// Provider computes the fingerprint lazily and caches it.
type Provider struct {
	probes Probes

	mu     sync.Mutex
	cached string
}

func New(p Probes) *Provider {
	return &Provider{probes: p}
}

func NewDefault() *Provider { return New(DefaultProbes()) }

func (p *Provider) Fingerprint() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != "" {
		return p.cached, nil
	}
	signals := p.collect()
	if len(signals) == 0 {
		return "", ErrNoSignals
	}
	sum := sha256.Sum256([]byte(strings.Join(signals, "|")))
	p.cached = hex.EncodeToString(sum[:])
	return p.cached, nil
}

func (p *Provider) collect() []string {
	host := call(p.probes.Hostname)
	osv := call(p.probes.OSVersion)
	if mac := call(p.probes.HardwareAddr); mac != "" {
		return nonEmpty("mac="+mac, prefixed("host=", host), prefixed("os=", osv), prefixed("cpu=", call(p.probes.CPUTopology)))
	}
	// Fallback: hostname + OS + current date.
	day := ""
	if host != "" || osv != "" {
		now := time.Now
		if p.probes.Now != nil {
			now = p.probes.Now
		}
		day = "day=" + now().UTC().Format("2006-01-02")
	}
	return nonEmpty(prefixed("host=", host), prefixed("os=", osv), day)
}

func call(f func() string) string {
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f())
}

func prefixed(prefix, v string) string {
	if v == "" {
		return ""
	}
	return prefix + v
}

func nonEmpty(vs ...string) []string {
	out := vs[:0]
	for _, v := range vs {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstHardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		return ifc.HardwareAddr.String()
	}
	return ""
}

func osVersion() string {
	if b, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		if v := strings.TrimSpace(string(b)); v != "" {
			return runtime.GOOS + " " + v
		}
	}
	return runtime.GOOS + "/" + runtime.GOARCH
}

// Static is a fixed fingerprint, for tests and for fleets that share one configured identity.
type Static string

func (s Static) Fingerprint() (string, error) {
	if s == "" {
		return "", ErrNoSignals
	}
	return string(s), nil
}
