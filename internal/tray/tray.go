// Package tray provides system tray functionality using getlantern/systray.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// MenuItem represents a menu item
type MenuItem struct {
	ID        int
	Title     string
	Checked   bool
	Checkable bool // shown with a check box
	Disabled  bool
	Callback  func()
	item      *systray.MenuItem
}

// Tray manages the system tray icon and menu. Items are added before Run;
// titles and check marks may be changed at any time.
type Tray struct {
	mu      sync.Mutex
	title   string
	tooltip string
	items   []*MenuItem
	ready   bool
	onExit  func()
	quitCh  chan struct{}
}

// New creates a new system tray
func New(title, tooltip string) *Tray {
	return &Tray{
		title:   title,
		tooltip: tooltip,
		quitCh:  make(chan struct{}),
	}
}

// OnExit sets a function called after the tray loop ends
func (t *Tray) OnExit(fn func()) {
	t.onExit = fn
}

// AddMenuItem adds a menu item to the tray
func (t *Tray) AddMenuItem(title string, callback func()) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := len(t.items)
	t.items = append(t.items, &MenuItem{
		ID:       id,
		Title:    title,
		Callback: callback,
	})
	return id
}

// AddSeparator adds a separator to the menu
func (t *Tray) AddSeparator() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, nil) // nil indicates separator
}

// Item returns a copy of the menu item with id
func (t *Tray) Item(id int) (MenuItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mi := t.lookup(id)
	if mi == nil {
		return MenuItem{}, false
	}
	return *mi, true
}

// SetItemTitle changes the label of a menu item
func (t *Tray) SetItemTitle(id int, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mi := t.lookup(id); mi != nil {
		mi.Title = title
		if mi.item != nil {
			mi.item.SetTitle(title)
		}
	}
}

// SetItemChecked sets the checked state of a menu item
func (t *Tray) SetItemChecked(id int, checked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mi := t.lookup(id); mi != nil {
		mi.Checked = checked
		mi.Checkable = true
		if mi.item != nil {
			if checked {
				mi.item.Check()
			} else {
				mi.item.Uncheck()
			}
		}
	}
}

// SetItemEnabled enables or greys out a menu item
func (t *Tray) SetItemEnabled(id int, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mi := t.lookup(id); mi != nil {
		mi.Disabled = !enabled
		if mi.item != nil {
			if enabled {
				mi.item.Enable()
			} else {
				mi.item.Disable()
			}
		}
	}
}

// SetTooltip changes the tray tooltip
func (t *Tray) SetTooltip(tooltip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tooltip = tooltip
	if t.ready {
		systray.SetTooltip(tooltip)
	}
}

func (t *Tray) lookup(id int) *MenuItem {
	if id < 0 || id >= len(t.items) {
		return nil
	}
	return t.items[id]
}

// Run starts the tray event loop (blocks)
func (t *Tray) Run() {
	systray.Run(t.setupMenu, func() {
		close(t.quitCh)
		if t.onExit != nil {
			t.onExit()
		}
	})
}

// setupMenu is called when systray is ready
func (t *Tray) setupMenu() {
	t.mu.Lock()
	defer t.mu.Unlock()

	systray.SetTitle(t.title)
	systray.SetTooltip(t.tooltip)
	systray.SetIcon(getIcon())
	t.ready = true

	for _, menuItem := range t.items {
		if menuItem == nil {
			systray.AddSeparator()
			continue
		}

		var item *systray.MenuItem
		if menuItem.Checkable {
			item = systray.AddMenuItemCheckbox(menuItem.Title, "", menuItem.Checked)
		} else {
			item = systray.AddMenuItem(menuItem.Title, "")
		}
		if menuItem.Disabled {
			item.Disable()
		}
		menuItem.item = item

		// Handle clicks in goroutine
		if menuItem.Callback != nil {
			go func(mi *MenuItem, clicked chan struct{}) {
				for {
					select {
					case <-clicked:
						mi.Callback()
					case <-t.quitCh:
						return
					}
				}
			}(menuItem, item.ClickedCh)
		}
	}
}

// Stop stops the tray
func (t *Tray) Stop() {
	systray.Quit()
}

// getIcon returns a 16x16 32-bit ICO showing a light key cap on a
// transparent background
func getIcon() []byte {
	const (
		size      = 16
		headerLen = 6 + 16
		dibLen    = 40
		pixelLen  = size * size * 4
		maskLen   = size * 4 // 1 bpp rows padded to 32 bits
		imageLen  = dibLen + pixelLen + maskLen
	)

	icon := make([]byte, headerLen+imageLen)
	le16 := func(b []byte, v int) { b[0], b[1] = byte(v), byte(v>>8) }
	le32 := func(b []byte, v int) { le16(b, v); le16(b[2:], v>>16) }

	// ICONDIR
	le16(icon[2:], 1) // type: icon
	le16(icon[4:], 1) // one image

	// ICONDIRENTRY
	icon[6], icon[7] = size, size
	le16(icon[10:], 1)  // planes
	le16(icon[12:], 32) // bpp
	le32(icon[14:], imageLen)
	le32(icon[18:], headerLen)

	// BITMAPINFOHEADER, height doubled for the AND mask
	dib := icon[headerLen:]
	le32(dib[0:], dibLen)
	le32(dib[4:], size)
	le32(dib[8:], size*2)
	le16(dib[12:], 1)
	le16(dib[14:], 32)
	le32(dib[20:], pixelLen)

	// Pixels are BGRA, bottom row first
	pixels := dib[dibLen:]
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x < 2 || x > 13 || y < 2 || y > 13 {
				continue
			}
			p := pixels[(y*size+x)*4:]
			border := x == 2 || x == 13 || y == 2 || y == 13
			if border {
				p[0], p[1], p[2] = 0xea, 0x7e, 0x66
			} else {
				p[0], p[1], p[2] = 0xf0, 0xe8, 0xe2
			}
			p[3] = 0xff
		}
	}
	return icon
}
