package rebuild

import (
	"log"
	"time"

	"shipyard.ai/internal/sim/live"
)

// Hooks are post-processing side effects run once tiles are placed.
type Hooks interface {
	RegenerateAtmosphere(g live.GridID)
	RestoreDecals(g live.GridID, blob string)
}

// Scheduler defers hook calls.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// TimerScheduler runs f on its own goroutine after d.
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// Immediate runs f synchronously, ignoring the delay.
type Immediate struct{}

func (Immediate) AfterFunc(_ time.Duration, f func()) { f() }

// LogHooks logs each hook before passing it on to Next.
type LogHooks struct {
	Next   Hooks
	Logger *log.Logger
}

func (h LogHooks) RegenerateAtmosphere(g live.GridID) {
	if h.Logger != nil {
		h.Logger.Printf("hook: regenerate atmosphere grid=%s", g)
	}
	if h.Next != nil {
		h.Next.RegenerateAtmosphere(g)
	}
}

func (h LogHooks) RestoreDecals(g live.GridID, blob string) {
	if h.Logger != nil {
		h.Logger.Printf("hook: restore decals grid=%s bytes=%d", g, len(blob))
	}
	if h.Next != nil {
		h.Next.RestoreDecals(g, blob)
	}
}
