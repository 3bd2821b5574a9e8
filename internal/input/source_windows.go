//go:build windows

package input

import (
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookEx    = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procGetMessage          = user32.NewProc("GetMessageW")
	procTranslateMessage    = user32.NewProc("TranslateMessage")
	procDispatchMessage     = user32.NewProc("DispatchMessageW")
	procPostThreadMessage   = user32.NewProc("PostThreadMessageW")
	kernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procGetModuleHandle     = kernel32.NewProc("GetModuleHandleW")
)

const (
	whKeyboardLL = 13
	wmQuit       = 0x0012
	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105
)

type kbdLLHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type hookMsg struct {
	Hwnd    syscall.Handle
	Message uint32
	Wparam  uintptr
	Lparam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

// windowsSource is a WH_KEYBOARD_LL hook running on its own locked OS thread
type windowsSource struct {
	mu       sync.Mutex
	handlers []func(KeyEvent)
	threadID uint32
	hook     uintptr
	running  bool
}

// low-level hook callbacks carry no context, so the source is process wide
var activeSource = &windowsSource{}

// NewKeySource returns the platform keyboard hook
func NewKeySource() KeySource {
	return activeSource
}

func (s *windowsSource) Subscribe(handler func(KeyEvent)) error {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	started := make(chan error, 1)

	// Hooks must be registered in the same thread that runs the message loop
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		hMod, _, _ := procGetModuleHandle.Call(0)
		hook, _, err := procSetWindowsHookEx.Call(
			whKeyboardLL,
			syscall.NewCallback(keyboardHookProc),
			hMod,
			0,
		)
		if hook == 0 {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			started <- fmt.Errorf("%w: SetWindowsHookEx: %v", ErrUnavailable, err)
			return
		}

		s.mu.Lock()
		s.hook = hook
		s.threadID = windows.GetCurrentThreadId()
		s.mu.Unlock()
		started <- nil

		log.Println("Input: Windows keyboard hook started.")

		var msg hookMsg
		for {
			ret, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
			if int32(ret) <= 0 {
				break
			}
			procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
			procDispatchMessage.Call(uintptr(unsafe.Pointer(&msg)))
		}

		procUnhookWindowsHookEx.Call(hook)
		log.Println("Input: Windows keyboard hook stopped.")
	}()

	return <-started
}

func (s *windowsSource) UnhookAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = nil
	if s.running && s.threadID != 0 {
		procPostThreadMessage.Call(uintptr(s.threadID), wmQuit, 0, 0)
	}
	s.running = false
	s.threadID = 0
	s.hook = 0
}

func (s *windowsSource) dispatch(ev KeyEvent) {
	s.mu.Lock()
	handlers := s.handlers
	s.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func keyboardHookProc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	if nCode == 0 {
		kbd := (*kbdLLHookStruct)(unsafe.Pointer(lParam))
		var typ EventType
		known := true
		switch wParam {
		case wmKeyDown, wmSysKeyDown:
			typ = KeyDown
		case wmKeyUp, wmSysKeyUp:
			typ = KeyUp
		default:
			known = false
		}
		if known {
			activeSource.dispatch(KeyEvent{
				Name:        vkCodeToName(kbd.VkCode),
				ScanCode:    int(kbd.ScanCode),
				HasScanCode: true,
				Type:        typ,
				Time:        time.Now(),
			})
		}
	}
	ret, _, _ := procCallNextHookEx.Call(activeSource.hook, uintptr(nCode), wParam, lParam)
	return ret
}

func vkCodeToName(vk uint32) string {
	switch vk {
	case 0x11, 0xA2, 0xA3:
		return "ctrl"
	case 0x12, 0xA4, 0xA5:
		return "alt"
	case 0x10, 0xA0, 0xA1:
		return "shift"
	case 0x5B, 0x5C:
		return "windows"
	case 0x20:
		return "space"
	case 0x0D:
		return "enter"
	case 0x1B:
		return "esc"
	case 0x08:
		return "backspace"
	case 0x09:
		return "tab"
	case 0x14:
		return "caps lock"
	case 0x21:
		return "page up"
	case 0x22:
		return "page down"
	case 0x23:
		return "end"
	case 0x24:
		return "home"
	case 0x25:
		return "left"
	case 0x26:
		return "up"
	case 0x27:
		return "right"
	case 0x28:
		return "down"
	case 0x2C:
		return "print screen"
	case 0x2D:
		return "insert"
	case 0x2E:
		return "delete"
	case 0x13:
		return "pause"
	case 0x91:
		return "scroll lock"
	case 0x90:
		return "num lock"
	case 0xBA:
		return ";"
	case 0xBB:
		return "="
	case 0xBC:
		return ","
	case 0xBD:
		return "-"
	case 0xBE:
		return "."
	case 0xBF:
		return "/"
	case 0xC0:
		return "`"
	case 0xDB:
		return "["
	case 0xDC:
		return "\\"
	case 0xDD:
		return "]"
	case 0xDE:
		return "'"
	}

	// Letters A-Z and digits 0-9 share their ASCII codes
	if (vk >= 0x41 && vk <= 0x5A) || (vk >= 0x30 && vk <= 0x39) {
		return strings.ToLower(string(rune(vk)))
	}

	// F1-F24
	if vk >= 0x70 && vk <= 0x87 {
		return fmt.Sprintf("f%d", vk-0x6F)
	}

	// Numpad 0-9
	if vk >= 0x60 && vk <= 0x69 {
		return fmt.Sprintf("%d", vk-0x60)
	}

	// Dead keys and layout specific keys have no stable name; the scan
	// code still identifies them.
	return ""
}
