package input

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "down", KeyDown.String())
	assert.Equal(t, "up", KeyUp.String())
}

func TestKeyEventWithScanCode(t *testing.T) {
	ev := Down("^").WithScanCode(41)

	assert.Equal(t, "^", ev.Name)
	assert.Equal(t, KeyDown, ev.Type)
	assert.True(t, ev.HasScanCode)
	assert.Equal(t, 41, ev.ScanCode)
	assert.False(t, Up("a").HasScanCode)
}

func TestScriptedSource(t *testing.T) {
	src := NewScriptedSource()

	var got []KeyEvent
	assert.NoError(t, src.Subscribe(func(ev KeyEvent) { got = append(got, ev) }))

	src.Emit(Down("a"), Up("a"), Down("b"))
	assert.Len(t, got, 3)
	assert.Equal(t, "b", got[2].Name)

	src.UnhookAll()
	src.Emit(Down("c"))
	assert.Len(t, got, 3, "no delivery after UnhookAll")
	assert.Equal(t, 1, src.Unhooked())
}

func TestRobotgoKeyName(t *testing.T) {
	tests := map[string]string{
		"a":         "a",
		" F8 ":      "f8",
		"escape":    "esc",
		"esc":       "esc",
		"return":    "enter",
		"page down": "pagedown",
		"windows":   "cmd",
	}
	for in, want := range tests {
		assert.Equal(t, want, RobotgoKeyName(in), "RobotgoKeyName(%q)", in)
	}
}

func TestInjectorFunc(t *testing.T) {
	var pressed []string
	inj := InjectorFunc(func(key string) error {
		pressed = append(pressed, key)
		if key == "bad" {
			return errors.New("boom")
		}
		return nil
	})

	assert.NoError(t, inj.Press("a"))
	assert.Error(t, inj.Press("bad"))
	assert.Equal(t, []string{"a", "bad"}, pressed)
}
