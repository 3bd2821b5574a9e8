//go:build darwin || linux

package input

import (
	"log"
	"strings"
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// libuiohook reports 0xFFFF for events without a character
const charUndefined = 0xFFFF

// gohookSource wraps libuiohook through robotn/gohook
type gohookSource struct {
	mu       sync.Mutex
	handlers []func(KeyEvent)
	stop     chan struct{}
}

// NewKeySource returns the platform keyboard hook
func NewKeySource() KeySource {
	return &gohookSource{}
}

func (s *gohookSource) Subscribe(handler func(KeyEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = append(s.handlers, handler)
	if s.stop != nil {
		return nil
	}

	s.stop = make(chan struct{})
	events := hook.Start()
	go s.loop(events, s.stop)
	log.Println("Input: global keyboard hook started.")
	return nil
}

func (s *gohookSource) UnhookAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = nil
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
	hook.End()
	log.Println("Input: global keyboard hook stopped.")
}

func (s *gohookSource) loop(events chan hook.Event, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			ke, ok := convertHookEvent(ev)
			if !ok {
				continue
			}
			s.mu.Lock()
			handlers := s.handlers
			s.mu.Unlock()
			for _, h := range handlers {
				h(ke)
			}
		}
	}
}

// convertHookEvent maps a libuiohook event. KeyHold is the physical press
// (repeated while held); KeyDown is the synthesized "typed" event and is
// skipped so a press is not reported twice.
func convertHookEvent(ev hook.Event) (KeyEvent, bool) {
	var typ EventType
	switch ev.Kind {
	case hook.KeyHold:
		typ = KeyDown
	case hook.KeyUp:
		typ = KeyUp
	default:
		return KeyEvent{}, false
	}

	name := strings.ToLower(hook.RawcodetoKeychar(ev.Rawcode))
	if name == "" && ev.Keychar != charUndefined && ev.Keychar > ' ' {
		name = strings.ToLower(string(ev.Keychar))
	}

	when := ev.When
	if when.IsZero() {
		when = time.Now()
	}
	return KeyEvent{
		Name:        name,
		ScanCode:    int(ev.Keycode),
		HasScanCode: true,
		Type:        typ,
		Time:        when,
	}, true
}
