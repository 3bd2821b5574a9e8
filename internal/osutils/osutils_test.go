package osutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fakePlatform(t *testing.T, platform string, env map[string]string) {
	t.Helper()
	oldOS, oldEnv := goos, getenv
	goos = platform
	getenv = func(k string) string { return env[k] }
	t.Cleanup(func() { goos, getenv = oldOS, oldEnv })
}

func TestLinuxDisplay(t *testing.T) {
	fakePlatform(t, "linux", map[string]string{"DISPLAY": ":0"})
	assert.Empty(t, InputWarnings())

	fakePlatform(t, "linux", map[string]string{"WAYLAND_DISPLAY": "wayland-0"})
	w := InputWarnings()
	if assert.Len(t, w, 1) {
		assert.Contains(t, w[0], "Wayland")
	}

	fakePlatform(t, "linux", nil)
	w = InputWarnings()
	if assert.Len(t, w, 1) {
		assert.Contains(t, w[0], "No X11 display")
	}
}

func TestDarwinPermissions(t *testing.T) {
	fakePlatform(t, "darwin", nil)
	w := InputWarnings()
	if assert.Len(t, w, 1) {
		assert.Contains(t, w[0], "Accessibility")
	}
}

func TestOtherPlatforms(t *testing.T) {
	fakePlatform(t, "plan9", nil)
	assert.Empty(t, InputWarnings())
}
