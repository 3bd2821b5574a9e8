package input

import (
	"fmt"
	"strings"

	"github.com/go-vgo/robotgo"
)

// robotgoNames maps hook key names to the names robotgo expects
var robotgoNames = map[string]string{
	"escape":        "esc",
	"return":        "enter",
	"page up":       "pageup",
	"page down":     "pagedown",
	"caps lock":     "capslock",
	"print screen":  "printscreen",
	"scroll lock":   "scrolllock",
	"num lock":      "numlock",
	"left":          "left",
	"right":         "right",
	"windows":       "cmd",
	"left windows":  "lcmd",
	"right windows": "rcmd",
	"command":       "cmd",
	"option":        "alt",
	"control":       "ctrl",
	"left ctrl":     "lctrl",
	"right ctrl":    "rctrl",
	"left shift":    "lshift",
	"right shift":   "rshift",
	"left alt":      "lalt",
	"right alt":     "ralt",
	"spacebar":      "space",
}

// RobotgoKeyName normalizes a recorded key name for robotgo
func RobotgoKeyName(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if name, ok := robotgoNames[key]; ok {
		return name
	}
	return key
}

// RobotInjector presses keys through robotgo
type RobotInjector struct{}

// NewInjector creates a robotgo backed injector
func NewInjector() *RobotInjector {
	return &RobotInjector{}
}

// Press taps the named key once
func (i *RobotInjector) Press(key string) (err error) {
	name := RobotgoKeyName(key)
	if name == "" {
		return fmt.Errorf("empty key name")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inject %q: %v", name, r)
		}
	}()
	if err := robotgo.KeyTap(name); err != nil {
		return fmt.Errorf("inject %q: %w", name, err)
	}
	return nil
}
