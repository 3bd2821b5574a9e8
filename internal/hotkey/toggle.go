package hotkey

import (
	"strconv"
	"strings"
	"sync"

	"keymacro/internal/input"
)

// ScanPrefix marks a toggle spec given as a raw scan code, e.g. "scan:41".
// Scan codes identify keys without a stable name such as dead keys.
const ScanPrefix = "scan:"

// Toggle is a resolved play toggle specification
type Toggle struct {
	spec     string
	name     string
	scanCode int
	hasScan  bool
}

// ParseToggle resolves a spec string. "scan:<n>" matches by scan code,
// anything else by lowercase key name. A scan spec with a bad number and an
// empty spec match nothing.
func ParseToggle(spec string) Toggle {
	spec = strings.ToLower(strings.TrimSpace(spec))
	t := Toggle{spec: spec}

	if strings.HasPrefix(spec, ScanPrefix) {
		code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(spec, ScanPrefix)))
		if err == nil {
			t.scanCode = code
			t.hasScan = true
		}
		return t
	}
	t.name = spec
	return t
}

// String returns the normalized spec
func (t Toggle) String() string {
	return t.spec
}

// IsScanCode reports whether the toggle matches by scan code
func (t Toggle) IsScanCode() bool {
	return t.hasScan
}

// Matches reports whether ev is the toggle key (press or release)
func (t Toggle) Matches(ev input.KeyEvent) bool {
	if t.hasScan {
		return ev.HasScanCode && ev.ScanCode == t.scanCode
	}
	if t.name == "" {
		return false
	}
	return strings.ToLower(ev.Name) == t.name
}

// SpecFromEvent builds a toggle spec from a pressed key, preferring the scan code
func SpecFromEvent(ev input.KeyEvent) string {
	if ev.HasScanCode {
		return ScanPrefix + strconv.Itoa(ev.ScanCode)
	}
	return strings.ToLower(strings.TrimSpace(ev.Name))
}

// Action is the outcome of resolving a key event
type Action int

const (
	// Pass means the event is not a hotkey event
	Pass Action = iota
	// Consumed means the event belongs to the toggle or capture flow and
	// must not be recorded
	Consumed
	// Fire means the toggle key went down and playback should toggle
	Fire
	// Captured means capture mode produced a new toggle spec
	Captured
)

// Decision is returned by Resolver.Resolve
type Decision struct {
	Action Action
	Spec   string // set for Captured
}

// Resolver tracks the toggle key, its re-entrancy guard and capture mode.
//
// A held key produces a burst of auto-repeat down events; the guard makes the
// toggle fire once per physical press and is cleared by the matching up event.
type Resolver struct {
	mu        sync.Mutex
	toggle    Toggle
	guard     bool
	capturing bool
}

// NewResolver creates a resolver for spec
func NewResolver(spec string) *Resolver {
	return &Resolver{toggle: ParseToggle(spec)}
}

// SetSpec replaces the toggle key and resets the guard
func (r *Resolver) SetSpec(spec string) Toggle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toggle = ParseToggle(spec)
	r.guard = false
	return r.toggle
}

// Toggle returns the current toggle key
func (r *Resolver) Toggle() Toggle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toggle
}

// BeginCapture makes the next key press define the toggle key
func (r *Resolver) BeginCapture() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capturing = true
}

// Capturing reports whether capture mode is active
func (r *Resolver) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// Resolve classifies ev. Toggle matching only happens when enabled is set;
// capture mode works regardless.
func (r *Resolver) Resolve(ev input.KeyEvent, enabled bool) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capturing && ev.Type == input.KeyDown {
		spec := SpecFromEvent(ev)
		if spec == "" {
			return Decision{Action: Consumed}
		}
		r.capturing = false
		r.toggle = ParseToggle(spec)
		r.guard = false
		return Decision{Action: Captured, Spec: r.toggle.String()}
	}

	if !enabled || !r.toggle.Matches(ev) {
		return Decision{Action: Pass}
	}

	switch ev.Type {
	case input.KeyDown:
		if !r.guard {
			r.guard = true
			return Decision{Action: Fire}
		}
	case input.KeyUp:
		r.guard = false
	}
	return Decision{Action: Consumed}
}
