package session

import (
	"log"

	"keymacro/internal/macro"
)

// Phase is the state of the session
type Phase int

const (
	Idle Phase = iota
	Recording
	Playing
)

func (p Phase) String() string {
	switch p {
	case Recording:
		return "recording"
	case Playing:
		return "playing"
	default:
		return "idle"
	}
}

// UpdateKind identifies what an Update carries
type UpdateKind string

const (
	KindStep      UpdateKind = "step"       // one row appended or changed
	KindSteps     UpdateKind = "steps"      // full table reset
	KindStatus    UpdateKind = "status"     // status line
	KindPhase     UpdateKind = "phase"      // phase change
	KindToggleKey UpdateKind = "toggle_key" // play toggle key changed
)

// Update is a message from the session to the presentation layer
type Update struct {
	Kind      UpdateKind
	Step      macro.Step
	Steps     []macro.Step
	Status    string
	Phase     Phase
	ToggleKey string
}

// emit queues u without blocking. Updates are dropped when nobody drains
// the channel.
func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		log.Printf("Session: Warning: update channel full, dropping %s update", u.Kind)
	}
}

func (s *Session) status(text string) {
	log.Printf("Session: %s", text)
	s.emit(Update{Kind: KindStatus, Status: text})
}

func (s *Session) setPhase(p Phase) {
	if s.phase == p {
		return
	}
	s.phase = p
	s.emit(Update{Kind: KindPhase, Phase: p})
}

func (s *Session) emitSteps() {
	s.emit(Update{Kind: KindSteps, Steps: s.macro.Steps()})
}
