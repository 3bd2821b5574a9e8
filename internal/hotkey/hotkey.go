// Package hotkey matches global key events against the configured hotkeys:
// the fixed record/play/stop bindings and the play toggle key.
package hotkey

import (
	"log"
	"strings"
	"sync"
	"time"
)

// Manager handles hotkey registration and matching
type Manager struct {
	mu           sync.RWMutex
	hotkeys      []*registeredHotkey
	currentState map[string]bool // keys currently held
	async        bool
}

type registeredHotkey struct {
	parts    []string // e.g. ["ctrl", "alt", "r"]
	original string
	callback func()
}

// NewManager creates a new hotkey manager. Callbacks run on their own
// goroutine so the key hook is never blocked.
func NewManager() *Manager {
	return &Manager{
		currentState: make(map[string]bool),
		async:        true,
	}
}

// NewSyncManager creates a manager that runs callbacks inline
func NewSyncManager() *Manager {
	m := NewManager()
	m.async = false
	return m
}

// Register registers a hotkey string (e.g. "f9", "ctrl+alt+r") and a callback.
func (m *Manager) Register(hotkeyStr string, callback func()) (int, error) {
	if strings.TrimSpace(hotkeyStr) == "" {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	parts := splitCombo(hotkeyStr)

	m.hotkeys = append(m.hotkeys, &registeredHotkey{
		parts:    parts,
		original: hotkeyStr,
		callback: callback,
	})

	return len(m.hotkeys) - 1, nil
}

// Clear removes all registered hotkeys
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotkeys = nil
}

// Keys returns the trigger key of every registered hotkey. For a combo
// like "ctrl+alt+r" that is the last part; the modifiers are left out.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var keys []string
	for _, hk := range m.hotkeys {
		if len(hk.parts) == 0 {
			continue
		}
		p := hk.parts[len(hk.parts)-1]
		if !seen[p] {
			seen[p] = true
			keys = append(keys, p)
		}
	}
	return keys
}

// UpdateState updates the held state of a key and checks for matches.
// Auto-repeat down events for a key that is already held do not match again.
func (m *Manager) UpdateState(key string, isDown bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}

	m.mu.Lock()
	wasDown := m.currentState[key]
	if isDown {
		m.currentState[key] = true
	} else {
		delete(m.currentState, key)
	}
	m.mu.Unlock()

	if isDown && !wasDown {
		m.checkMatches(key)
	}
}

func (m *Manager) checkMatches(pressed string) {
	m.mu.RLock()
	var matched []*registeredHotkey
	for _, hk := range m.hotkeys {
		// The key that just went down must take part in the combo
		// and all parts must be held
		involved := false
		match := true
		for _, part := range hk.parts {
			if part == pressed {
				involved = true
			}
			if !m.currentState[part] {
				match = false
				break
			}
		}
		if match && involved {
			matched = append(matched, hk)
		}
	}
	m.mu.RUnlock()

	for _, hk := range matched {
		log.Printf("Hotkey triggered: %s", hk.original)
		if m.async {
			go hk.callback()
		} else {
			hk.callback()
		}
	}
}

func splitCombo(combo string) []string {
	parts := strings.Split(strings.ToLower(combo), "+")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Debouncer drops triggers that arrive within an interval of the last accepted one
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewDebouncer creates a debouncer
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval, now: time.Now}
}

// Allow reports whether a trigger should be accepted
func (d *Debouncer) Allow() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if !d.last.IsZero() && now.Sub(d.last) < d.interval {
		return false
	}
	d.last = now
	return true
}
