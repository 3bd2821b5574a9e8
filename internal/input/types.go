// Package input provides the global keyboard event feed and synthetic key
// injection used for recording and playback.
package input

import (
	"errors"
	"time"
)

// ErrUnavailable is returned when no global keyboard hook exists on this platform
var ErrUnavailable = errors.New("global keyboard hook not available on this platform")

// EventType tells key presses from releases
type EventType int

const (
	KeyDown EventType = iota
	KeyUp
)

func (t EventType) String() string {
	if t == KeyUp {
		return "up"
	}
	return "down"
}

// KeyEvent represents a single global keyboard event
type KeyEvent struct {
	Name        string    // lowercase symbolic name, may be empty for unmapped keys
	ScanCode    int       // hardware scan code, valid when HasScanCode is set
	HasScanCode bool      // false when the platform could not report a scan code
	Type        EventType // KeyDown or KeyUp
	Time        time.Time
}

// KeySource delivers global keyboard events to registered handlers.
// Handlers run on the hook's own goroutine and must return quickly.
type KeySource interface {
	Subscribe(handler func(KeyEvent)) error
	UnhookAll()
}

// Injector performs synthetic key presses
type Injector interface {
	Press(key string) error
}

// InjectorFunc adapts a function to the Injector interface
type InjectorFunc func(key string) error

// Press calls f(key)
func (f InjectorFunc) Press(key string) error {
	return f(key)
}

// Down builds a key-down event without a scan code
func Down(name string) KeyEvent {
	return KeyEvent{Name: name, Type: KeyDown, Time: time.Now()}
}

// Up builds a key-up event without a scan code
func Up(name string) KeyEvent {
	return KeyEvent{Name: name, Type: KeyUp, Time: time.Now()}
}

// WithScanCode returns a copy of e carrying the given scan code
func (e KeyEvent) WithScanCode(code int) KeyEvent {
	e.ScanCode = code
	e.HasScanCode = true
	return e
}
