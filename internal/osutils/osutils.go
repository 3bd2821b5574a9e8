// Package osutils reports platform conditions that limit global key
// hooking and key injection.
package osutils

import (
	"os"
	"runtime"
)

// Overridden in tests
var (
	goos   = runtime.GOOS
	getenv = os.Getenv
)

// InputWarnings returns human readable problems that may stop the key hook
// or the injected key presses from working
func InputWarnings() []string {
	var warnings []string
	switch goos {
	case "windows":
		if !IsAdmin() {
			warnings = append(warnings,
				"Not running as Administrator: keys typed into elevated windows are not recorded or played back")
		}
	case "darwin":
		warnings = append(warnings,
			"Recording and playback need Accessibility and Input Monitoring permission in System Settings > Privacy & Security")
	case "linux":
		if getenv("DISPLAY") == "" {
			if getenv("WAYLAND_DISPLAY") != "" {
				warnings = append(warnings, "Wayland session without XWayland: global key hooks need an X11 display")
			} else {
				warnings = append(warnings, "No X11 display found: global key hooks are unavailable")
			}
		}
	}
	return warnings
}
