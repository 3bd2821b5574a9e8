// Package recorder turns global key-down events into macro steps with the
// delay measured since the previous captured key.
package recorder

import (
	"log"
	"strings"
	"time"

	"keymacro/internal/input"
	"keymacro/internal/macro"
)

// DefaultIgnored are the keys bound to the record, play and stop hotkeys
var DefaultIgnored = []string{"f9", "f10", "esc"}

// Listener appends captured key presses to a macro.
//
// Listener is not safe for concurrent use; the session calls it with its
// own lock held.
type Listener struct {
	macro   *macro.Macro
	ignored map[string]bool
	now     func() time.Time
	last    time.Time
	active  bool
	notify  func(macro.Step)
}

// NewListener creates a listener writing into m. notify, if set, receives
// every appended step.
func NewListener(m *macro.Macro, notify func(macro.Step)) *Listener {
	l := &Listener{
		macro:  m,
		now:    time.Now,
		notify: notify,
	}
	l.SetIgnored(DefaultIgnored...)
	return l
}

// SetClock replaces the clock used to measure delays
func (l *Listener) SetClock(now func() time.Time) {
	l.now = now
}

// SetIgnored replaces the set of keys that are never recorded
func (l *Listener) SetIgnored(keys ...string) {
	l.ignored = make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			l.ignored[k] = true
		}
	}
}

// Ignored reports whether key is excluded from recording
func (l *Listener) Ignored(key string) bool {
	return l.ignored[strings.ToLower(key)]
}

// Start clears the macro and resets the delay clock
func (l *Listener) Start() {
	l.macro.Clear()
	l.last = l.now()
	l.active = true
	log.Println("Recorder: recording started")
}

// Stop ends recording and returns the number of captured steps
func (l *Listener) Stop() int {
	if l.active {
		log.Printf("Recorder: recording stopped, %d steps", l.macro.Len())
	}
	l.active = false
	l.last = time.Time{}
	return l.macro.Len()
}

// Active reports whether the listener is recording
func (l *Listener) Active() bool {
	return l.active
}

// Handle records ev if it is a key-down of a non-reserved key while active.
// It returns the appended step and whether anything was recorded.
func (l *Listener) Handle(ev input.KeyEvent) (macro.Step, bool) {
	if !l.active || ev.Type != input.KeyDown {
		return macro.Step{}, false
	}

	key := strings.ToLower(ev.Name)
	if key == "" || l.ignored[key] {
		return macro.Step{}, false
	}

	t := l.now()
	delay := t.Sub(l.last)
	if delay < 0 {
		delay = 0
	}
	l.last = t

	step := l.macro.Append(macro.Event{Key: key, Delay: delay})
	if l.notify != nil {
		l.notify(step)
	}
	return step, true
}
