package hotkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymacro/internal/input"
)

func TestManagerSingleKey(t *testing.T) {
	m := NewSyncManager()
	count := 0
	_, err := m.Register("F9", func() { count++ })
	require.NoError(t, err)

	m.UpdateState("f9", true)
	m.UpdateState("f9", true) // auto-repeat
	m.UpdateState("f9", true)
	m.UpdateState("f9", false)
	assert.Equal(t, 1, count)

	m.UpdateState("F9", true)
	assert.Equal(t, 2, count)
}

func TestManagerCombo(t *testing.T) {
	m := NewSyncManager()
	count := 0
	m.Register("Ctrl + Alt + R", func() { count++ })

	m.UpdateState("r", true)
	m.UpdateState("r", false)
	assert.Equal(t, 0, count)

	m.UpdateState("ctrl", true)
	m.UpdateState("alt", true)
	m.UpdateState("r", true)
	assert.Equal(t, 1, count)

	// an unrelated key while the combo is held does not re-trigger it
	m.UpdateState("x", true)
	assert.Equal(t, 1, count)
}

func TestManagerKeysSkipsModifiers(t *testing.T) {
	m := NewSyncManager()
	m.Register("ctrl+alt+r", func() {})
	m.Register("ctrl+alt+p", func() {})
	m.Register("esc", func() {})

	assert.Equal(t, []string{"r", "p", "esc"}, m.Keys())
}

func TestManagerEmptyAndClear(t *testing.T) {
	m := NewSyncManager()
	id, err := m.Register("  ", func() { t.Fatal("empty hotkey must not register") })
	require.NoError(t, err)
	assert.Zero(t, id)

	m.Register("esc", func() { t.Fatal("cleared hotkey fired") })
	assert.Equal(t, []string{"esc"}, m.Keys())
	m.Clear()
	assert.Empty(t, m.Keys())
	m.UpdateState("esc", true)
}

func TestManagerAsyncCallback(t *testing.T) {
	m := NewManager()
	fired := make(chan struct{}, 1)
	m.Register("f10", func() { fired <- struct{}{} })

	m.UpdateState("f10", true)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("async callback did not run")
	}
}

func TestDebouncer(t *testing.T) {
	now := time.Unix(0, 0)
	d := NewDebouncer(500 * time.Millisecond)
	d.now = func() time.Time { return now }

	assert.True(t, d.Allow())
	now = now.Add(100 * time.Millisecond)
	assert.False(t, d.Allow())
	now = now.Add(500 * time.Millisecond)
	assert.True(t, d.Allow())
}

func TestParseToggle(t *testing.T) {
	name := ParseToggle(" F8 ")
	assert.Equal(t, "f8", name.String())
	assert.False(t, name.IsScanCode())
	assert.True(t, name.Matches(input.Down("F8")))
	assert.False(t, name.Matches(input.Down("f9")))

	scan := ParseToggle("SCAN:41")
	assert.True(t, scan.IsScanCode())
	assert.True(t, scan.Matches(input.Down("").WithScanCode(41)))
	assert.False(t, scan.Matches(input.Down("scan:41")), "name is ignored for scan specs")
	assert.False(t, scan.Matches(input.Down("^").WithScanCode(40)))

	bad := ParseToggle("scan:abc")
	assert.False(t, bad.IsScanCode())
	assert.False(t, bad.Matches(input.Down("scan:abc")))
	assert.False(t, bad.Matches(input.Down("a").WithScanCode(0)))

	assert.False(t, ParseToggle("").Matches(input.Down("")))
}

func TestScanCodeTakesPrecedence(t *testing.T) {
	// the event's name equals the spec text but only the scan code counts
	tog := ParseToggle("scan:12")
	assert.True(t, tog.Matches(input.Down("f8").WithScanCode(12)))
	assert.False(t, tog.Matches(input.Down("f8").WithScanCode(66)))
}

func TestSpecFromEvent(t *testing.T) {
	assert.Equal(t, "scan:41", SpecFromEvent(input.Down("^").WithScanCode(41)))
	assert.Equal(t, "f7", SpecFromEvent(input.Down("F7")))
	assert.Equal(t, "", SpecFromEvent(input.Down("")))
}

func TestResolverGuardSuppressesAutoRepeat(t *testing.T) {
	r := NewResolver("f8")

	fires := 0
	for _, ev := range []input.KeyEvent{
		input.Down("f8"), input.Down("f8"), input.Down("f8"), input.Down("f8"),
		input.Up("f8"),
	} {
		d := r.Resolve(ev, true)
		require.NotEqual(t, Pass, d.Action)
		if d.Action == Fire {
			fires++
		}
	}
	assert.Equal(t, 1, fires, "press-and-hold fires once")

	assert.Equal(t, Fire, r.Resolve(input.Down("f8"), true).Action, "next press fires again")
}

func TestResolverPassAndDisabled(t *testing.T) {
	r := NewResolver("f8")
	assert.Equal(t, Pass, r.Resolve(input.Down("a"), true).Action)
	assert.Equal(t, Pass, r.Resolve(input.Down("f8"), false).Action)
}

func TestResolverCapture(t *testing.T) {
	r := NewResolver("f8")
	r.BeginCapture()
	require.True(t, r.Capturing())

	// release events do not complete the capture
	assert.Equal(t, Pass, r.Resolve(input.Up("q"), true).Action)
	// a press with neither name nor scan code keeps capturing
	assert.Equal(t, Consumed, r.Resolve(input.Down(""), true).Action)
	require.True(t, r.Capturing())

	d := r.Resolve(input.Down("^").WithScanCode(41), false)
	assert.Equal(t, Captured, d.Action)
	assert.Equal(t, "scan:41", d.Spec)
	assert.False(t, r.Capturing())
	assert.Equal(t, "scan:41", r.Toggle().String())

	// the release of the captured key is swallowed, not recorded
	assert.Equal(t, Consumed, r.Resolve(input.Up("^").WithScanCode(41), true).Action)
	assert.Equal(t, Fire, r.Resolve(input.Down("^").WithScanCode(41), true).Action)
}

func TestResolverSetSpecResetsGuard(t *testing.T) {
	r := NewResolver("f8")
	require.Equal(t, Fire, r.Resolve(input.Down("f8"), true).Action)

	r.SetSpec("F8")
	assert.Equal(t, Fire, r.Resolve(input.Down("f8"), true).Action)
}
