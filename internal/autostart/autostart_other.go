//go:build !windows

package autostart

import "fmt"

func enableWindows(string) error {
	return fmt.Errorf("registry not available on %s", goos)
}

func disableWindows() error {
	return fmt.Errorf("registry not available on %s", goos)
}

func isEnabledWindows() bool {
	return false
}
