// Package session holds the application state shared by the key hook, the
// playback goroutine and the presentation layer: the macro, playback
// settings, the toggle key and the current phase.
package session

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"keymacro/internal/hotkey"
	"keymacro/internal/input"
	"keymacro/internal/macro"
	"keymacro/internal/player"
	"keymacro/internal/recorder"
)

// Speed limits accepted by SetSpeed
const (
	MinSpeed = 0.25
	MaxSpeed = 3.0
)

// DefaultDebounce is the minimum interval between two accepted presses of
// the same hotkey
const DefaultDebounce = 500 * time.Millisecond

const updateBuffer = 256

// Bindings are the global record/play/stop hotkeys
type Bindings struct {
	Record string
	Play   string
	Stop   string
}

// DefaultBindings returns the stock hotkeys
func DefaultBindings() Bindings {
	return Bindings{Record: "f9", Play: "f10", Stop: "esc"}
}

// Options configure a new Session
type Options struct {
	Source   input.KeySource // nil disables hooking
	Injector input.Injector

	Speed          float64
	Repeat         bool
	RepeatDelayMs  int
	ToggleKey      string
	Bindings       Bindings
	HotkeysEnabled bool
	Debounce       time.Duration

	// OnMacroPath is called after a successful Save or Load
	OnMacroPath func(path string)
}

// State is a point in time copy of the session
type State struct {
	Phase          Phase        `json:"-"`
	PhaseName      string       `json:"phase"`
	Steps          []macro.Step `json:"steps"`
	Speed          float64      `json:"speed"`
	Repeat         bool         `json:"repeat_enabled"`
	RepeatDelayMs  int          `json:"repeat_delay_ms"`
	ToggleKey      string       `json:"toggle_key"`
	Capturing      bool         `json:"capturing"`
	HotkeysEnabled bool         `json:"hotkeys_enabled"`
	HookAvailable  bool         `json:"hook_available"`
	MacroPath      string       `json:"macro_path,omitempty"`
}

// Session is the application session. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	macro    *macro.Macro
	listener *recorder.Listener
	player   *player.Player
	run      *player.Run
	lastRun  *player.Run
	runSeq   int

	resolver *hotkey.Resolver
	hotkeys  *hotkey.Manager
	debounce time.Duration
	bindings Bindings

	source  input.KeySource
	hookErr error

	speed          float64
	repeat         bool
	repeatDelayMs  int
	hotkeysEnabled bool
	phase          Phase
	macroPath      string
	onMacroPath    func(string)

	updates chan Update
}

// New creates a session. Call Attach to start receiving key events.
func New(opts Options) *Session {
	if opts.Speed == 0 {
		opts.Speed = 1.0
	}
	if opts.ToggleKey == "" {
		opts.ToggleKey = macro.DefaultToggleKey
	}
	if opts.RepeatDelayMs < 0 {
		opts.RepeatDelayMs = 0
	}

	s := &Session{
		macro:          macro.New(),
		player:         player.New(opts.Injector),
		resolver:       hotkey.NewResolver(opts.ToggleKey),
		hotkeys:        hotkey.NewSyncManager(),
		debounce:       opts.Debounce,
		source:         opts.Source,
		speed:          clampSpeed(opts.Speed),
		repeat:         opts.Repeat,
		repeatDelayMs:  opts.RepeatDelayMs,
		hotkeysEnabled: opts.HotkeysEnabled,
		onMacroPath:    opts.OnMacroPath,
		updates:        make(chan Update, updateBuffer),
	}
	s.listener = recorder.NewListener(s.macro, func(step macro.Step) {
		s.emit(Update{Kind: KindStep, Step: step})
	})
	if opts.Source == nil {
		s.hookErr = ErrUnavailable
	}
	s.SetBindings(opts.Bindings)
	return s
}

// Attach subscribes to the key source. On failure the session keeps
// working without recording, hotkeys and toggle capture.
func (s *Session) Attach() error {
	if s.source == nil {
		return ErrUnavailable
	}
	if err := s.source.Subscribe(s.HandleKeyEvent); err != nil {
		s.mu.Lock()
		s.hookErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		s.mu.Unlock()
		log.Printf("Session: Warning: key hook unavailable: %v", err)
		return s.hookErr
	}
	log.Println("Session: key hook attached")
	return nil
}

// Close stops playback and removes the key hook
func (s *Session) Close() {
	s.mu.Lock()
	run := s.run
	if s.phase == Recording {
		s.listener.Stop()
		s.setPhase(Idle)
	}
	s.mu.Unlock()

	if run != nil {
		run.Stop()
		run.Wait()
	}
	if s.source != nil {
		s.source.UnhookAll()
	}
}

// Updates returns the channel of updates for the presentation layer
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// SetBindings replaces the record/play/stop hotkeys. Their keys are never
// recorded.
func (s *Session) SetBindings(b Bindings) {
	s.hotkeys.Clear()
	s.hotkeys.Register(b.Record, s.hotkeyAction(s.ToggleRecording))
	s.hotkeys.Register(b.Play, s.hotkeyAction(s.Play))
	s.hotkeys.Register(b.Stop, s.hotkeyAction(s.Stop))

	s.mu.Lock()
	s.bindings = b
	s.listener.SetIgnored(s.hotkeys.Keys()...)
	s.mu.Unlock()
}

// hotkeyAction wraps fn with its own debouncer, so one binding never
// throttles another.
func (s *Session) hotkeyAction(fn func() error) func() {
	debounce := hotkey.NewDebouncer(s.debounce)
	return func() {
		s.mu.Lock()
		enabled := s.hotkeysEnabled
		s.mu.Unlock()
		if !enabled || !debounce.Allow() {
			return
		}
		if err := fn(); err != nil {
			log.Printf("Session: hotkey ignored: %v", err)
		}
	}
}

// HandleKeyEvent processes one global key event. It runs on the hook's
// goroutine and never waits for playback.
func (s *Session) HandleKeyEvent(ev input.KeyEvent) {
	s.mu.Lock()
	enabled := s.hotkeysEnabled
	s.mu.Unlock()

	decision := s.resolver.Resolve(ev, enabled)
	switch decision.Action {
	case hotkey.Captured:
		s.mu.Lock()
		s.emit(Update{Kind: KindToggleKey, ToggleKey: decision.Spec})
		s.status(fmt.Sprintf("Play toggle key set to %s.", decision.Spec))
		s.mu.Unlock()
		return
	case hotkey.Fire:
		if err := s.TogglePlayback(); err != nil {
			log.Printf("Session: toggle ignored: %v", err)
		}
		return
	case hotkey.Consumed:
		return
	}

	s.hotkeys.UpdateState(ev.Name, ev.Type == input.KeyDown)

	s.mu.Lock()
	s.listener.Handle(ev)
	s.mu.Unlock()
}

// StartRecording clears the macro and begins capturing key presses
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hookErr != nil {
		return s.hookErr
	}
	switch s.phase {
	case Recording:
		return nil
	case Playing:
		return fmt.Errorf("%w: playback in progress", ErrBusy)
	}

	s.listener.Start()
	s.emitSteps()
	s.setPhase(Recording)
	s.status("Recording... press the record key again to stop.")
	return nil
}

// StopRecording ends recording. It does nothing when not recording.
func (s *Session) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Recording {
		return nil
	}
	n := s.listener.Stop()
	s.setPhase(Idle)
	s.status(fmt.Sprintf("Recording stopped. %d steps recorded.", n))
	return nil
}

// ToggleRecording starts or stops recording
func (s *Session) ToggleRecording() error {
	s.mu.Lock()
	recording := s.phase == Recording
	s.mu.Unlock()

	if recording {
		return s.StopRecording()
	}
	return s.StartRecording()
}

// Play starts playback on a background goroutine
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case Recording:
		return fmt.Errorf("%w: stop recording first", ErrBusy)
	case Playing:
		return fmt.Errorf("%w: already playing", ErrBusy)
	}

	settings := player.Settings{
		Speed:       s.speed,
		Repeat:      s.repeat,
		RepeatDelay: macro.MillisToDuration(s.repeatDelayMs),
	}
	s.runSeq++
	seq := s.runSeq
	run, err := s.player.Start(s.macro.Events(), settings, player.Hooks{
		OnDone: func(res player.Result) { s.finishRun(seq, res) },
	})
	if err != nil {
		if errors.Is(err, player.ErrEmpty) {
			s.status("Nothing to play.")
		}
		return err
	}

	s.run = run
	s.lastRun = run
	s.setPhase(Playing)
	if s.repeat {
		s.status(fmt.Sprintf("Playing at %.2fx, repeating until stopped...", s.speed))
	} else {
		s.status(fmt.Sprintf("Playing at %.2fx...", s.speed))
	}
	return nil
}

func (s *Session) finishRun(seq int, res player.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.runSeq {
		return
	}
	s.run = nil
	s.setPhase(Idle)
	s.status(res.Status())
}

// Stop requests playback to stop. The phase changes once the playback
// goroutine has observed the request.
func (s *Session) Stop() error {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run != nil && !run.Stopping() {
		log.Println("Session: stopping playback")
		run.Stop()
	}
	return nil
}

// TogglePlayback stops a running playback or starts a new one
func (s *Session) TogglePlayback() error {
	s.mu.Lock()
	playing := s.phase == Playing
	s.mu.Unlock()

	if playing {
		return s.Stop()
	}
	return s.Play()
}

// Wait blocks until the most recent playback has ended and returns its
// result. It reports false if nothing was ever played.
func (s *Session) Wait() (player.Result, bool) {
	s.mu.Lock()
	run := s.lastRun
	s.mu.Unlock()

	if run == nil {
		return player.Result{}, false
	}
	return run.Wait(), true
}

// Clear removes all recorded steps
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == Recording {
		return fmt.Errorf("%w: stop recording first", ErrBusy)
	}
	s.macro.Clear()
	s.emitSteps()
	s.status("Macro cleared.")
	return nil
}

// Save writes the macro and its repeat and toggle settings to path
func (s *Session) Save(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidInput)
	}

	s.mu.Lock()
	if s.macro.Len() == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: nothing to save", ErrEmpty)
	}
	doc := macro.Document{
		Version:       macro.CurrentVersion,
		Events:        s.macro.Events(),
		RepeatEnabled: s.repeat,
		RepeatDelayMs: s.repeatDelayMs,
		PlayToggleKey: s.resolver.Toggle().String(),
	}
	s.mu.Unlock()

	if err := macro.Save(path, doc); err != nil {
		s.mu.Lock()
		s.status(fmt.Sprintf("Save failed: %v", err))
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.macroPath = path
	s.status(fmt.Sprintf("Saved %d steps to %s.", len(doc.Events), path))
	s.mu.Unlock()

	if s.onMacroPath != nil {
		s.onMacroPath(path)
	}
	return nil
}

// Load replaces the macro and settings with the contents of path. On error
// nothing is changed.
func (s *Session) Load(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidInput)
	}

	s.mu.Lock()
	recording := s.phase == Recording
	s.mu.Unlock()
	if recording {
		return fmt.Errorf("%w: stop recording first", ErrBusy)
	}

	doc, err := macro.Load(path)

	s.mu.Lock()
	if err != nil {
		s.status(fmt.Sprintf("Load failed: %v", err))
		s.mu.Unlock()
		return err
	}
	if s.phase == Recording {
		s.mu.Unlock()
		return fmt.Errorf("%w: stop recording first", ErrBusy)
	}

	s.macro.Replace(doc.Events)
	s.repeat = doc.RepeatEnabled
	s.repeatDelayMs = doc.RepeatDelayMs
	toggle := s.resolver.SetSpec(doc.PlayToggleKey)
	s.macroPath = path
	s.emitSteps()
	s.emit(Update{Kind: KindToggleKey, ToggleKey: toggle.String()})
	s.status(fmt.Sprintf("Loaded %d steps from %s.", len(doc.Events), path))
	s.mu.Unlock()

	if s.onMacroPath != nil {
		s.onMacroPath(path)
	}
	return nil
}

// ApplyToggleKey sets the play toggle key from a spec such as "f8" or "scan:41"
func (s *Session) ApplyToggleKey(spec string) error {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" {
		return fmt.Errorf("%w: empty toggle key", ErrInvalidInput)
	}
	if strings.HasPrefix(spec, hotkey.ScanPrefix) && !hotkey.ParseToggle(spec).IsScanCode() {
		return fmt.Errorf("%w: bad scan code %q", ErrInvalidInput, spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	toggle := s.resolver.SetSpec(spec)
	s.emit(Update{Kind: KindToggleKey, ToggleKey: toggle.String()})
	s.status(fmt.Sprintf("Play toggle key set to %s.", toggle))
	return nil
}

// CaptureToggleKey makes the next pressed key the play toggle key
func (s *Session) CaptureToggleKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hookErr != nil {
		return s.hookErr
	}
	s.resolver.BeginCapture()
	s.status("Press the key to use as the play toggle...")
	return nil
}

// EditDelay sets the delay of step index (1-based, as displayed) from user
// text in milliseconds. Invalid text leaves the step unchanged.
func (s *Session) EditDelay(index int, text string) error {
	ms, err := macro.ParseDelay(text)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.macro.SetDelay(index-1, ms); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	steps := s.macro.Steps()
	s.emit(Update{Kind: KindStep, Step: steps[index-1]})
	return nil
}

// SetSpeed sets the speed multiplier for the next playback
func (s *Session) SetSpeed(speed float64) error {
	if math.IsNaN(speed) || speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("%w: speed %v outside %.2f-%.2f", ErrInvalidInput, speed, MinSpeed, MaxSpeed)
	}
	s.mu.Lock()
	s.speed = speed
	s.mu.Unlock()
	return nil
}

// SetRepeat sets looping and the pause between passes for the next playback
func (s *Session) SetRepeat(enabled bool, delayMs int) error {
	if delayMs < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, player.ErrInvalidRepeatDelay)
	}
	s.mu.Lock()
	s.repeat = enabled
	s.repeatDelayMs = delayMs
	s.mu.Unlock()
	return nil
}

// SetHotkeysEnabled turns the global hotkeys and the toggle key on or off
func (s *Session) SetHotkeysEnabled(enabled bool) {
	s.mu.Lock()
	s.hotkeysEnabled = enabled
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Phase:          s.phase,
		PhaseName:      s.phase.String(),
		Steps:          s.macro.Steps(),
		Speed:          s.speed,
		Repeat:         s.repeat,
		RepeatDelayMs:  s.repeatDelayMs,
		ToggleKey:      s.resolver.Toggle().String(),
		Capturing:      s.resolver.Capturing(),
		HotkeysEnabled: s.hotkeysEnabled,
		HookAvailable:  s.hookErr == nil,
		MacroPath:      s.macroPath,
	}
}

func clampSpeed(speed float64) float64 {
	if math.IsNaN(speed) || speed < MinSpeed {
		return MinSpeed
	}
	if speed > MaxSpeed {
		return MaxSpeed
	}
	return speed
}
