// Package macro holds the recorded key sequence, its edit operations and its
// on-disk representation.
package macro

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Event is one recorded key press.
type Event struct {
	// Key is the lowercase symbolic key name (e.g. "a", "f5", "space")
	Key string

	// Delay is the time elapsed since the previous event, or since the start
	// of recording for the first event
	Delay time.Duration
}

// Step is the display row for an event.
type Step struct {
	Index   int    `json:"index"` // 1-based
	Key     string `json:"key"`
	DelayMs int    `json:"delay_ms"`
}

// Macro is an ordered list of events. Insertion order is playback order.
//
// A Macro is not safe for concurrent use. The session serializes access and
// hands the player a copy from Events.
type Macro struct {
	events []Event
}

// New creates an empty macro
func New() *Macro {
	return &Macro{}
}

// Append adds an event at the end of the macro
func (m *Macro) Append(ev Event) Step {
	if ev.Delay < 0 {
		ev.Delay = 0
	}
	m.events = append(m.events, ev)
	return Step{
		Index:   len(m.events),
		Key:     ev.Key,
		DelayMs: DurationToMillis(ev.Delay),
	}
}

// Clear removes all events
func (m *Macro) Clear() {
	m.events = nil
}

// Len returns the number of events
func (m *Macro) Len() int {
	return len(m.events)
}

// Events returns a copy of the recorded events
func (m *Macro) Events() []Event {
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Replace swaps the whole event list, e.g. after a load
func (m *Macro) Replace(events []Event) {
	m.events = make([]Event, len(events))
	copy(m.events, events)
}

// SetDelay updates the delay of the event at index (0-based) to ms milliseconds.
// Nothing is changed when an error is returned.
func (m *Macro) SetDelay(index int, ms int) error {
	if ms < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDelay, ms)
	}
	if index < 0 || index >= len(m.events) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index+1, len(m.events))
	}
	m.events[index].Delay = MillisToDuration(ms)
	return nil
}

// Steps returns the display rows for all events
func (m *Macro) Steps() []Step {
	steps := make([]Step, len(m.events))
	for i, ev := range m.events {
		steps[i] = Step{Index: i + 1, Key: ev.Key, DelayMs: DurationToMillis(ev.Delay)}
	}
	return steps
}

// ParseDelay parses a user supplied delay in milliseconds.
// Only non-negative base-10 integers are accepted.
func ParseDelay(text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidDelay)
	}
	ms, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidDelay, text)
	}
	if ms < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrInvalidDelay, ms)
	}
	return ms, nil
}

// SecondsToMillis converts seconds to whole milliseconds, rounding half up.
// Negative and NaN inputs yield 0.
func SecondsToMillis(sec float64) int {
	if math.IsNaN(sec) || sec < 0 {
		return 0
	}
	return int(math.Floor(sec*1000 + 0.5))
}

// MillisToSeconds converts milliseconds to seconds. Negative inputs yield 0.
func MillisToSeconds(ms int) float64 {
	if ms < 0 {
		return 0
	}
	return float64(ms) / 1000
}

// DurationToMillis rounds d to whole milliseconds, half up
func DurationToMillis(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int((d + time.Millisecond/2) / time.Millisecond)
}

// MillisToDuration converts ms to a duration. Negative inputs yield 0.
func MillisToDuration(ms int) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// secondsToDuration converts persisted seconds back to a duration
func secondsToDuration(sec float64) time.Duration {
	if math.IsNaN(sec) || sec < 0 {
		return 0
	}
	return time.Duration(math.Round(sec * float64(time.Second)))
}
