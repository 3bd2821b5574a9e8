package input

import "sync"

// ScriptedSource is a KeySource fed by hand, used where no real hook should
// be installed (tests, headless playback).
type ScriptedSource struct {
	mu       sync.Mutex
	handlers []func(KeyEvent)
	unhooked int
}

// NewScriptedSource creates an empty scripted source
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{}
}

// Subscribe registers a handler
func (s *ScriptedSource) Subscribe(handler func(KeyEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
	return nil
}

// UnhookAll drops all handlers
func (s *ScriptedSource) UnhookAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = nil
	s.unhooked++
}

// Emit delivers events in order to every handler, synchronously
func (s *ScriptedSource) Emit(events ...KeyEvent) {
	s.mu.Lock()
	handlers := make([]func(KeyEvent), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, ev := range events {
		for _, h := range handlers {
			h(ev)
		}
	}
}

// Unhooked reports how many times UnhookAll was called
func (s *ScriptedSource) Unhooked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unhooked
}
