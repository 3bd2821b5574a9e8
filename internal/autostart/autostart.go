// Package autostart registers the application to start on login.
package autostart

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"
)

// AppID names the login item on every platform
const AppID = "keymacro"

const macLaunchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>com.keymacro.agent</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>`

const xdgDesktopEntry = `[Desktop Entry]
Type=Application
Name=Key Macro
Comment=Keystroke macro recorder
Exec="{{.ExecutablePath}}"
X-GNOME-Autostart-enabled=true
NoDisplay=true
`

// Overridden in tests
var (
	userHomeDir = os.UserHomeDir
	executable  = os.Executable
	goos        = runtime.GOOS
)

// Enable enables auto-start on login
func Enable() error {
	execPath, err := executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	switch goos {
	case "windows":
		return enableWindows(execPath)
	case "darwin":
		path, err := macPlistPath()
		if err != nil {
			return err
		}
		return writeTemplate(path, macLaunchAgentPlist, execPath)
	default:
		path, err := xdgEntryPath()
		if err != nil {
			return err
		}
		return writeTemplate(path, xdgDesktopEntry, execPath)
	}
}

// Disable disables auto-start on login
func Disable() error {
	var path string
	var err error
	switch goos {
	case "windows":
		return disableWindows()
	case "darwin":
		path, err = macPlistPath()
	default:
		path, err = xdgEntryPath()
	}
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsEnabled checks if auto-start is enabled
func IsEnabled() bool {
	var path string
	var err error
	switch goos {
	case "windows":
		return isEnabledWindows()
	case "darwin":
		path, err = macPlistPath()
	default:
		path, err = xdgEntryPath()
	}
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Apply enables or disables auto-start to match want
func Apply(want bool) error {
	if want == IsEnabled() {
		return nil
	}
	if want {
		return Enable()
	}
	return Disable()
}

func macPlistPath() (string, error) {
	home, err := userHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", "com.keymacro.agent.plist"), nil
}

func xdgEntryPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := userHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "autostart", AppID+".desktop"), nil
}

func writeTemplate(path, text, execPath string) error {
	tmpl, err := template.New(filepath.Base(path)).Parse(text)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return tmpl.Execute(f, struct{ ExecutablePath string }{execPath})
}
