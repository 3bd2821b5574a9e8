package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymacro/internal/macro"
)

type pressRecorder struct {
	mu      sync.Mutex
	keys    []string
	times   []time.Time
	pressed chan string
	fail    map[string]error
	panics  map[string]bool
}

func newPressRecorder() *pressRecorder {
	return &pressRecorder{pressed: make(chan string, 64)}
}

func (p *pressRecorder) Press(key string) error {
	p.mu.Lock()
	p.keys = append(p.keys, key)
	p.times = append(p.times, time.Now())
	err := p.fail[key]
	doPanic := p.panics[key]
	p.mu.Unlock()

	p.pressed <- key
	if doPanic {
		panic("backend exploded")
	}
	return err
}

func (p *pressRecorder) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func (p *pressRecorder) waitPress(t *testing.T) string {
	t.Helper()
	select {
	case k := <-p.pressed:
		return k
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for key press")
		return ""
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestPlaybackTimingAndOrder(t *testing.T) {
	rec := newPressRecorder()
	p := New(rec)
	events := []macro.Event{
		{Key: "a", Delay: ms(100)},
		{Key: "b", Delay: ms(200)},
		{Key: "c", Delay: ms(50)},
	}

	start := time.Now()
	run, err := p.Start(events, Settings{Speed: 2.0}, Hooks{})
	require.NoError(t, err)
	res := run.Wait()
	elapsed := time.Since(start)

	assert.Equal(t, Finished, res.Outcome)
	assert.Equal(t, "Playback finished.", res.Status())
	assert.Equal(t, 1, res.Passes)
	assert.Equal(t, 3, res.Injected)
	assert.Equal(t, []string{"a", "b", "c"}, rec.Keys(), "each step once per pass, in order")
	assert.GreaterOrEqual(t, elapsed, ms(175))
	assert.Less(t, elapsed, ms(175+250))
}

func TestPlaybackStopMidRun(t *testing.T) {
	rec := newPressRecorder()
	p := New(rec)
	events := []macro.Event{
		{Key: "a", Delay: 0},
		{Key: "b", Delay: ms(300)},
		{Key: "c", Delay: ms(300)},
	}

	var steps []int
	var mu sync.Mutex
	run, err := p.Start(events, Settings{Speed: 1}, Hooks{
		OnStep: func(pass, index int, key string, err error) {
			mu.Lock()
			steps = append(steps, index)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "a", rec.waitPress(t))
	run.Stop()
	assert.True(t, run.Stopping())
	res := run.Wait()

	assert.Equal(t, Stopped, res.Outcome)
	assert.Equal(t, "Playback stopped.", res.Status())
	assert.Equal(t, []string{"a"}, rec.Keys())
	assert.Zero(t, res.Passes)
	mu.Lock()
	assert.Equal(t, []int{1}, steps)
	mu.Unlock()
}

func TestPlaybackRepeat(t *testing.T) {
	rec := newPressRecorder()
	p := New(rec)
	events := []macro.Event{{Key: "x", Delay: ms(10)}}

	run, err := p.Start(events, Settings{Speed: 1, Repeat: true, RepeatDelay: ms(250)}, Hooks{})
	require.NoError(t, err)

	rec.waitPress(t)
	rec.waitPress(t)
	run.Stop()
	res := run.Wait()

	assert.Equal(t, Stopped, res.Outcome)
	assert.GreaterOrEqual(t, res.Passes, 1)

	rec.mu.Lock()
	gap := rec.times[1].Sub(rec.times[0])
	rec.mu.Unlock()
	assert.GreaterOrEqual(t, gap, ms(250+10))
}

func TestPlaybackStopDuringRepeatDelay(t *testing.T) {
	rec := newPressRecorder()
	p := New(rec)
	events := []macro.Event{{Key: "x", Delay: 0}}

	run, err := p.Start(events, Settings{Speed: 1, Repeat: true, RepeatDelay: ms(400)}, Hooks{})
	require.NoError(t, err)

	rec.waitPress(t)
	time.Sleep(ms(50))
	run.Stop()

	select {
	case <-run.Done():
	case <-time.After(ms(200)):
		t.Fatal("stop during repeat delay was not honored promptly")
	}
	res := run.Wait()
	assert.Equal(t, Stopped, res.Outcome)
	assert.Equal(t, 1, res.Passes)
	assert.Equal(t, []string{"x"}, rec.Keys())
}

func TestPlaybackInjectionFailuresAreSkipped(t *testing.T) {
	rec := newPressRecorder()
	rec.fail = map[string]error{"b": errors.New("unknown key")}
	rec.panics = map[string]bool{"c": true}
	p := New(rec)

	events := []macro.Event{{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}}
	var errs []error
	run, err := p.Start(events, Settings{Speed: 1}, Hooks{
		OnStep: func(_, _ int, _ string, err error) { errs = append(errs, err) },
	})
	require.NoError(t, err)
	res := run.Wait()

	assert.Equal(t, Finished, res.Outcome)
	assert.Equal(t, 2, res.Injected)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"a", "b", "c", "d"}, rec.Keys())
	require.Len(t, errs, 4)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
	assert.Error(t, errs[2])
	assert.NoError(t, errs[3])
}

func TestPlaybackRejections(t *testing.T) {
	p := New(newPressRecorder())

	_, err := p.Start(nil, Settings{Speed: 1}, Hooks{})
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = p.Start([]macro.Event{{Key: "a"}}, Settings{Speed: 1, Repeat: true, RepeatDelay: -ms(1)}, Hooks{})
	assert.ErrorIs(t, err, ErrInvalidRepeatDelay)
}

func TestPlaybackSpeedFloor(t *testing.T) {
	rec := newPressRecorder()
	p := New(rec)

	res, err := p.Play(context.Background(), []macro.Event{{Key: "a"}, {Key: "b"}}, Settings{Speed: 0}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, Finished, res.Outcome)
	assert.Equal(t, 2, res.Injected)
}

func TestPlayHonorsContext(t *testing.T) {
	rec := newPressRecorder()
	p := New(rec)

	ctx, cancel := context.WithTimeout(context.Background(), ms(50))
	defer cancel()

	var done Result
	res, err := p.Play(ctx, []macro.Event{{Key: "a", Delay: time.Second}}, Settings{Speed: 1}, Hooks{
		OnDone: func(r Result) { done = r },
	})
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.Outcome)
	assert.Equal(t, res, done)
	assert.Empty(t, rec.Keys())
}
