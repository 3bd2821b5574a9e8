// Key Macro - keystroke recorder and player
// Records global key presses with their timing and replays them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"keymacro/internal/api"
	"keymacro/internal/autostart"
	"keymacro/internal/config"
	"keymacro/internal/input"
	"keymacro/internal/network"
	"keymacro/internal/osutils"
	"keymacro/internal/session"
	"keymacro/internal/tray"
	"keymacro/internal/ui"
)

var (
	version     = "0.1.0"
	showVer     = flag.Bool("version", false, "Show version")
	showUI      = flag.Bool("ui", false, "Open the control panel of the running service")
	playFile    = flag.String("play", "", "Play a macro file and exit (Ctrl+C stops)")
	speed       = flag.Float64("speed", 1.0, "Playback speed for -play (0.25 - 3.0)")
	repeat      = flag.Bool("repeat", false, "Loop playback for -play until interrupted")
	repeatDelay = flag.Int("repeat-delay", 250, "Pause between passes in milliseconds for -play")
	configPath  = flag.String("config", "", "Configuration file (.json, .toml, .yaml)")
	sendCmd     = flag.String("send", "", "Send a command to the running service: record, play, stop, toggle, clear, capture")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("keymacro version %s\n", version)
		return
	}

	// Initialize config
	var cfgMgr *config.Manager
	if *configPath != "" {
		cfgMgr = config.NewManagerAt(*configPath)
	} else {
		var err error
		cfgMgr, err = config.NewManager()
		if err != nil {
			log.Fatalf("Failed to initialize config: %v", err)
		}
	}
	if err := cfgMgr.Load(); err != nil {
		log.Printf("Warning: failed to load config: %v", err)
	}

	if *playFile != "" {
		os.Exit(runPlayback(cfgMgr, *playFile))
	}

	if *showUI {
		openControlPanel(cfgMgr.Get())
		return
	}

	if *sendCmd != "" {
		os.Exit(sendCommand(cfgMgr.Get(), *sendCmd))
	}

	// Default: run as background service
	runService(cfgMgr)
}

// flagSet reports whether name was given on the command line
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func runPlayback(cfgMgr *config.Manager, path string) int {
	cfg := cfgMgr.Get()
	sess := session.New(session.Options{
		Injector:      input.NewInjector(),
		Speed:         cfg.Playback.Speed,
		RepeatDelayMs: cfg.Playback.RepeatDelayMs,
		ToggleKey:     cfg.Hotkeys.Toggle,
	})
	defer sess.Close()

	if err := sess.Load(path); err != nil {
		log.Printf("Failed to load %s: %v", path, err)
		return 1
	}

	state := sess.Snapshot()
	if flagSet("speed") {
		if err := sess.SetSpeed(*speed); err != nil {
			log.Printf("Invalid -speed: %v", err)
			return 2
		}
	}
	if flagSet("repeat") || flagSet("repeat-delay") {
		enabled, delay := state.Repeat, state.RepeatDelayMs
		if flagSet("repeat") {
			enabled = *repeat
		}
		if flagSet("repeat-delay") {
			delay = *repeatDelay
		}
		if err := sess.SetRepeat(enabled, delay); err != nil {
			log.Printf("Invalid -repeat-delay: %v", err)
			return 2
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Play(); err != nil {
		log.Printf("Playback failed: %v", err)
		return 1
	}
	go func() {
		<-ctx.Done()
		sess.Stop()
	}()

	res, _ := sess.Wait()
	fmt.Printf("%s %d pass(es), %d keys pressed, %d failed\n", res.Status(), res.Passes, res.Injected, res.Failed)
	return 0
}

// controlPanelURL returns the address of the service's control panel
func controlPanelURL(cfg config.Config) string {
	u := fmt.Sprintf("http://127.0.0.1:%d/", cfg.General.APIPort)
	if cfg.General.APIToken != "" {
		u += "?token=" + url.QueryEscape(cfg.General.APIToken)
	}
	return u
}

func openControlPanel(cfg config.Config) {
	if !cfg.General.APIEnabled {
		log.Printf("The control panel needs general.api_enabled in the configuration")
		return
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.General.APIPort))
	if err != nil {
		log.Printf("Key Macro service is not running on port %d: %v", cfg.General.APIPort, err)
		return
	}
	resp.Body.Close()

	ui.OpenBrowser(controlPanelURL(cfg))
}

// sendCommand runs a command in the service over its WebSocket and prints
// the resulting status
func sendCommand(cfg config.Config, command string) int {
	client := network.NewWSClient(fmt.Sprintf("127.0.0.1:%d", cfg.General.APIPort), cfg.General.APIToken)

	result := make(chan string, 1)
	failed := make(chan string, 1)
	client.OnStatus = func(text string) {
		select {
		case result <- text:
		default:
		}
	}
	client.OnError = func(text string) {
		select {
		case failed <- text:
		default:
		}
	}

	if err := client.Connect(); err != nil {
		log.Printf("Key Macro service is not reachable: %v", err)
		return 1
	}
	defer client.Close()

	if err := client.SendCommand(command); err != nil {
		log.Printf("Failed to send %s: %v", command, err)
		return 1
	}

	select {
	case text := <-result:
		fmt.Println(text)
		return 0
	case text := <-failed:
		fmt.Fprintf(os.Stderr, "%s: %s\n", command, text)
		return 1
	case <-client.Done():
		log.Printf("Connection closed")
		return 1
	case <-time.After(3 * time.Second):
		// Some commands, like stopping an idle session, have no status
		return 0
	}
}

func runService(cfgMgr *config.Manager) {
	log.Printf("Key Macro %s starting...", version)

	cfg := cfgMgr.Get()
	sess := session.New(session.Options{
		Source:         input.NewKeySource(),
		Injector:       input.NewInjector(),
		Speed:          cfg.Playback.Speed,
		Repeat:         cfg.Playback.RepeatEnabled,
		RepeatDelayMs:  cfg.Playback.RepeatDelayMs,
		ToggleKey:      cfg.Hotkeys.Toggle,
		Bindings:       bindingsFrom(cfg),
		HotkeysEnabled: cfg.Hotkeys.Enabled,
		Debounce:       session.DefaultDebounce,
		OnMacroPath: func(path string) {
			cfgMgr.Update(func(c *config.Config) { c.General.LastMacroPath = path })
			if err := cfgMgr.Save(); err != nil {
				log.Printf("Warning: failed to save config: %v", err)
			}
		},
	})

	for _, w := range osutils.InputWarnings() {
		log.Printf("Warning: %s", w)
	}
	if err := sess.Attach(); err != nil {
		log.Printf("Warning: recording and hotkeys are disabled: %v", err)
	}

	if cfg.General.Autoload && cfg.General.LastMacroPath != "" {
		if err := sess.Load(cfg.General.LastMacroPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: failed to load last macro: %v", err)
		}
	}

	if err := autostart.Apply(cfg.General.StartOnBoot); err != nil {
		log.Printf("Warning: failed to update login item: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// API server and control panel
	var apiServer *api.Server
	var panel *ui.Server
	if cfg.General.APIEnabled {
		apiServer = api.NewServer(sess, cfgMgr)
		page := ui.NewServer(apiServer.Handler(), ui.PageData{Version: version})
		go func() {
			if err := apiServer.Start(cfg.General.APIPort, page.Handler()); err != nil {
				log.Printf("API server error: %v", err)
			}
		}()
	}

	openPanel := func() {
		if apiServer != nil {
			ui.OpenBrowser(controlPanelURL(cfgMgr.Get()))
			return
		}
		// Without the service API the panel gets its own server on a free port
		if panel == nil {
			panel = ui.NewServer(api.NewServer(sess, cfgMgr).Handler(), ui.PageData{Version: version})
			go func() {
				if err := panel.Start(); err != nil {
					log.Printf("UI server error: %v", err)
				}
			}()
			return
		}
		ui.OpenBrowser(panel.URL())
	}

	// Apply configuration edits made through the API or on disk. Only
	// changed fields are applied so a loaded macro keeps its own settings.
	var prevMu sync.Mutex
	prev := cfg
	cfgMgr.RegisterChangeCallback(func() {
		prevMu.Lock()
		defer prevMu.Unlock()
		c := cfgMgr.Get()
		old := prev
		prev = c

		if c.Playback.Speed != old.Playback.Speed {
			if err := sess.SetSpeed(c.Playback.Speed); err != nil {
				log.Printf("Config: Warning: %v", err)
			}
		}
		if c.Playback.RepeatEnabled != old.Playback.RepeatEnabled || c.Playback.RepeatDelayMs != old.Playback.RepeatDelayMs {
			if err := sess.SetRepeat(c.Playback.RepeatEnabled, c.Playback.RepeatDelayMs); err != nil {
				log.Printf("Config: Warning: %v", err)
			}
		}
		if c.Hotkeys.Enabled != old.Hotkeys.Enabled {
			sess.SetHotkeysEnabled(c.Hotkeys.Enabled)
		}
		if bindingsFrom(c) != bindingsFrom(old) {
			sess.SetBindings(bindingsFrom(c))
		}
		if c.Hotkeys.Toggle != old.Hotkeys.Toggle && c.Hotkeys.Toggle != sess.Snapshot().ToggleKey {
			if err := sess.ApplyToggleKey(c.Hotkeys.Toggle); err != nil {
				log.Printf("Config: Warning: %v", err)
			}
		}
		if c.General.StartOnBoot != old.General.StartOnBoot {
			if err := autostart.Apply(c.General.StartOnBoot); err != nil {
				log.Printf("Warning: failed to update login item: %v", err)
			}
		}
	})
	if err := cfgMgr.Watch(ctx); err != nil {
		log.Printf("Warning: config file changes will not be picked up: %v", err)
	}

	// Tray instance
	t := tray.New("KM", "Key Macro")
	recordItem := t.AddMenuItem("Start Recording", func() {
		if err := sess.ToggleRecording(); err != nil {
			log.Printf("Tray: %v", err)
		}
	})
	playItem := t.AddMenuItem("Play", func() {
		if err := sess.TogglePlayback(); err != nil {
			log.Printf("Tray: %v", err)
		}
	})
	t.AddMenuItem("Clear", func() {
		if err := sess.Clear(); err != nil {
			log.Printf("Tray: %v", err)
		}
	})
	t.AddSeparator()

	var hotkeysItem, bootItem int
	hotkeysItem = t.AddMenuItem("Hotkeys Enabled", func() {
		enabled := !cfgMgr.Get().Hotkeys.Enabled
		cfgMgr.Update(func(c *config.Config) { c.Hotkeys.Enabled = enabled })
		t.SetItemChecked(hotkeysItem, enabled)
		if err := cfgMgr.Save(); err != nil {
			log.Printf("Warning: failed to save config: %v", err)
		}
	})
	t.SetItemChecked(hotkeysItem, cfg.Hotkeys.Enabled)
	bootItem = t.AddMenuItem("Start on Login", func() {
		enabled := !cfgMgr.Get().General.StartOnBoot
		cfgMgr.Update(func(c *config.Config) { c.General.StartOnBoot = enabled })
		t.SetItemChecked(bootItem, enabled)
		if err := cfgMgr.Save(); err != nil {
			log.Printf("Warning: failed to save config: %v", err)
		}
	})
	t.SetItemChecked(bootItem, cfg.General.StartOnBoot)
	t.AddMenuItem("Control Panel", openPanel)
	t.AddSeparator()
	t.AddMenuItem("Quit", func() {
		log.Println("Quitting...")
		t.Stop()
	})

	if !sess.Snapshot().HookAvailable {
		t.SetItemEnabled(recordItem, false)
	}

	// Drain session updates on one goroutine: web clients and the tray menu
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-sess.Updates():
				if apiServer != nil {
					apiServer.Publish(u)
				}
				switch u.Kind {
				case session.KindPhase:
					if u.Phase == session.Recording {
						t.SetItemTitle(recordItem, "Stop Recording")
					} else {
						t.SetItemTitle(recordItem, "Start Recording")
					}
					if u.Phase == session.Playing {
						t.SetItemTitle(playItem, "Stop")
					} else {
						t.SetItemTitle(playItem, "Play")
					}
				case session.KindStatus:
					t.SetTooltip("Key Macro - " + u.Status)
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		log.Println("Signal received, shutting down...")
		t.Stop()
	}()

	if cfg.General.OpenUI {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openPanel()
		}()
	}

	log.Println("Key Macro running. Use the tray menu or the hotkeys.")
	t.Run()

	stop()
	sess.Close()
	if apiServer != nil {
		apiServer.Close()
	}
	if panel != nil {
		panel.Stop()
	}
	log.Println("Key Macro stopped")
}

func bindingsFrom(c config.Config) session.Bindings {
	return session.Bindings{
		Record: c.Hotkeys.Record,
		Play:   c.Hotkeys.Play,
		Stop:   c.Hotkeys.Stop,
	}
}
