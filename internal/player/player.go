// Package player replays a macro through a key injector on its own goroutine.
package player

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"keymacro/internal/input"
	"keymacro/internal/macro"
)

// MinSpeed is the lowest effective speed multiplier
const MinSpeed = 0.01

var (
	// ErrEmpty is returned when there is nothing to play
	ErrEmpty = errors.New("no macro recorded")

	// ErrInvalidRepeatDelay is returned for a negative repeat delay
	ErrInvalidRepeatDelay = errors.New("repeat delay must be a non-negative integer (ms)")
)

// Settings controls a playback run
type Settings struct {
	Speed       float64       // multiplier, clamped to MinSpeed
	Repeat      bool          // loop until stopped
	RepeatDelay time.Duration // pause between passes when Repeat is set
}

// Outcome tells how a run ended
type Outcome int

const (
	Finished Outcome = iota
	Stopped
)

func (o Outcome) String() string {
	if o == Stopped {
		return "stopped"
	}
	return "finished"
}

// Result summarizes a run. Failed counts injections that errored; they do
// not end the run.
type Result struct {
	Outcome  Outcome
	Passes   int // completed full passes
	Injected int
	Failed   int
}

// Status returns the user facing status line
func (r Result) Status() string {
	if r.Outcome == Stopped {
		return "Playback stopped."
	}
	return "Playback finished."
}

// Hooks receive progress from the playback goroutine
type Hooks struct {
	// OnStep is called after each injection attempt. index is 1-based.
	OnStep func(pass, index int, key string, err error)

	// OnDone is called once when the run ends, before Wait returns
	OnDone func(Result)
}

// Player drives playback runs
type Player struct {
	injector input.Injector
}

// New creates a player that presses keys through injector
func New(injector input.Injector) *Player {
	return &Player{injector: injector}
}

// Run is a single playback in progress
type Run struct {
	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}
	result Result
}

// Start launches playback of events on a new goroutine.
// events must not be modified while the run is active.
func (p *Player) Start(events []macro.Event, settings Settings, hooks Hooks) (*Run, error) {
	if len(events) == 0 {
		return nil, ErrEmpty
	}
	if settings.Repeat && settings.RepeatDelay < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRepeatDelay, settings.RepeatDelay)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		cancel: cancel,
		ctx:    ctx,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(r.done)
		defer cancel()
		r.result = p.play(ctx, events, settings, hooks)
		log.Printf("Player: %s after %d pass(es), %d injected, %d failed",
			r.result.Outcome, r.result.Passes, r.result.Injected, r.result.Failed)
		if hooks.OnDone != nil {
			hooks.OnDone(r.result)
		}
	}()

	return r, nil
}

// Play runs playback synchronously until it finishes or ctx is cancelled
func (p *Player) Play(ctx context.Context, events []macro.Event, settings Settings, hooks Hooks) (Result, error) {
	r, err := p.Start(events, settings, hooks)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-ctx.Done():
		r.Stop()
	case <-r.Done():
	}
	return r.Wait(), nil
}

// Stop requests cancellation. It takes effect at the next check point:
// before a delay, after a delay and between passes.
func (r *Run) Stop() {
	r.cancel()
}

// Stopping reports whether Stop has been called or the run has ended
func (r *Run) Stopping() bool {
	return r.ctx.Err() != nil
}

// Done is closed when the run has ended
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns its result
func (r *Run) Wait() Result {
	<-r.done
	return r.result
}

func (p *Player) play(ctx context.Context, events []macro.Event, s Settings, hooks Hooks) Result {
	speed := s.Speed
	if math.IsNaN(speed) || speed < MinSpeed {
		speed = MinSpeed
	}

	var res Result
	for pass := 1; ; pass++ {
		for i, ev := range events {
			if ctx.Err() != nil {
				break
			}
			if !sleep(ctx, time.Duration(float64(ev.Delay)/speed)) {
				break
			}

			err := p.inject(ev.Key)
			if err != nil {
				res.Failed++
				log.Printf("Player: Warning: failed to press %q: %v", ev.Key, err)
			} else {
				res.Injected++
			}
			if hooks.OnStep != nil {
				hooks.OnStep(pass, i+1, ev.Key, err)
			}
		}

		if ctx.Err() != nil {
			break
		}
		res.Passes++
		if !s.Repeat {
			break
		}
		if !sleep(ctx, s.RepeatDelay) {
			break
		}
	}

	if ctx.Err() != nil {
		res.Outcome = Stopped
	}
	return res
}

// inject presses one key. A panicking backend counts as a failed press.
func (p *Player) inject(key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("injector panic: %v", r)
		}
	}()
	return p.injector.Press(key)
}

// sleep waits for d and reports false if ctx was cancelled first or during
// the wait.
func sleep(ctx context.Context, d time.Duration) bool {
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}
	return ctx.Err() == nil
}
