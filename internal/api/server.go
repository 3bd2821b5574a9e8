// Package api provides the local HTTP API used by the control panel.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"keymacro/internal/config"
	"keymacro/internal/macro"
	"keymacro/internal/session"
)

// Server provides the HTTP API for session control
type Server struct {
	session   *session.Session
	configMgr *config.Manager
	token     string
	wsMgr     *WSManager
	hubOnce   sync.Once
	server    *http.Server
}

// NewServer creates a new API server
func NewServer(sess *session.Session, configMgr *config.Manager) *Server {
	s := &Server{
		session:   sess,
		configMgr: configMgr,
		token:     configMgr.Get().General.APIToken,
	}
	s.wsMgr = newWSManager(s)
	return s
}

// Handler returns the API handler with middleware applied
func (s *Server) Handler() http.Handler {
	s.hubOnce.Do(func() { go s.wsMgr.start() })

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/steps", s.handleSteps)
	mux.HandleFunc("/api/steps/{index}/delay", s.handleStepDelay)
	mux.HandleFunc("/api/record", s.handleRecord)
	mux.HandleFunc("/api/play", s.command(s.session.Play))
	mux.HandleFunc("/api/stop", s.command(s.session.Stop))
	mux.HandleFunc("/api/toggle", s.command(s.session.TogglePlayback))
	mux.HandleFunc("/api/clear", s.command(s.session.Clear))
	mux.HandleFunc("/api/save", s.handleSave)
	mux.HandleFunc("/api/load", s.handleLoad)
	mux.HandleFunc("/api/toggle-key", s.handleToggleKey)
	mux.HandleFunc("/api/toggle-key/capture", s.command(s.session.CaptureToggleKey))
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/ws", s.wsMgr.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	return originMiddleware(s.authMiddleware(s.recoverMiddleware(mux)))
}

// Start serves h, or the API handler when h is nil, on 127.0.0.1:port.
// It blocks until Close is called.
func (s *Server) Start(port int, h http.Handler) error {
	if h == nil {
		h = s.Handler()
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		log.Printf("API: failed to listen on %s: %v", addr, err)
		log.Printf("API: continuing without the control panel API")
		return err
	}
	log.Printf("API: listening on http://%s", addr)

	s.server = &http.Server{Handler: h}
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Printf("API: server stopped: %v", err)
		return err
	}
	return nil
}

// Close stops the server and the WebSocket hub
func (s *Server) Close() error {
	s.wsMgr.stop()
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Publish forwards a session update to connected WebSocket clients
func (s *Server) Publish(u session.Update) {
	s.wsMgr.publish(messageFor(u))
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("API: PANIC RECOV: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// originMiddleware rejects requests from web pages that are not served from
// loopback, and requests whose Host is not loopback (DNS rebinding).
func originMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !loopbackRequest(r) {
			log.Printf("API: Warning: rejected %s %s from origin %q host %q", r.Method, r.URL.Path, r.Header.Get("Origin"), r.Host)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loopbackRequest reports whether r targets a loopback host and, when the
// browser sent an Origin, whether that origin is loopback too
func loopbackRequest(r *http.Request) bool {
	if !loopbackHost(r.Host) {
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return loopbackHost(u.Host)
}

func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// authMiddleware checks the API token if configured. Browsers cannot set
// headers on WebSocket requests, so a token query parameter is accepted too.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("API: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		if r.URL.Path == "/health" || s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("Authorization") != "Bearer "+s.token && r.URL.Query().Get("token") != s.token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// command adapts a session command to a POST handler
func (s *Server) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := fn(); err != nil {
			writeError(w, err)
			return
		}
		writeState(w, s.session.Snapshot())
	}
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeState(w, s.session.Snapshot())
}

// handleSteps handles GET /api/steps
func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": s.session.Snapshot().Steps})
}

// handleStepDelay handles POST /api/steps/{index}/delay with {"delay_ms": "250"}.
// The value is taken as typed by the user, number or string.
func (s *Server) handleStepDelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: step index %q", session.ErrInvalidInput, r.PathValue("index")))
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	text := gjson.GetBytes(body, "delay_ms").String()
	if err := s.session.EditDelay(index, text); err != nil {
		writeError(w, err)
		return
	}
	writeState(w, s.session.Snapshot())
}

// handleRecord handles POST /api/record?action=start|stop|toggle
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var fn func() error
	switch r.URL.Query().Get("action") {
	case "start":
		fn = s.session.StartRecording
	case "stop":
		fn = s.session.StopRecording
	case "", "toggle":
		fn = s.session.ToggleRecording
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}
	s.command(fn)(w, r)
}

// handleSave handles POST /api/save?path=<file>. Without a path the last
// used file or the default location is used.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	path, err := s.macroPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.command(func() error { return s.session.Save(path) })(w, r)
}

// handleLoad handles POST /api/load?path=<file>
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	path, err := s.macroPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.command(func() error { return s.session.Load(path) })(w, r)
}

func (s *Server) macroPath(r *http.Request) (string, error) {
	if p := r.URL.Query().Get("path"); p != "" {
		return p, nil
	}
	if p := s.session.Snapshot().MacroPath; p != "" {
		return p, nil
	}
	return macro.DefaultPath()
}

// handleToggleKey handles GET and POST /api/toggle-key with {"key": "f8"}
func (s *Server) handleToggleKey(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"key": s.session.Snapshot().ToggleKey})
	case http.MethodPost:
		body, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}
		key := gjson.GetBytes(body, "key").String()
		if err := s.session.ApplyToggleKey(key); err != nil {
			writeError(w, err)
			return
		}
		key = s.session.Snapshot().ToggleKey
		s.configMgr.Update(func(c *config.Config) { c.Hotkeys.Toggle = key })
		s.saveConfig()
		writeState(w, s.session.Snapshot())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSettings handles POST /api/settings. Only the fields present in the
// body are changed; nothing is changed if any of them is invalid.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	state := s.session.Snapshot()
	speed := state.Speed
	repeat := state.Repeat
	repeatDelay := state.RepeatDelayMs
	hotkeys := state.HotkeysEnabled

	if v := gjson.GetBytes(body, "speed"); v.Exists() {
		speed = v.Float()
	}
	if v := gjson.GetBytes(body, "repeat_enabled"); v.Exists() {
		repeat = v.Bool()
	}
	if v := gjson.GetBytes(body, "repeat_delay_ms"); v.Exists() {
		ms, err := macro.ParseDelay(v.String())
		if err != nil {
			writeError(w, fmt.Errorf("%w: %w", session.ErrInvalidInput, err))
			return
		}
		repeatDelay = ms
	}
	if v := gjson.GetBytes(body, "hotkeys_enabled"); v.Exists() {
		hotkeys = v.Bool()
	}

	if err := s.session.SetSpeed(speed); err != nil {
		writeError(w, err)
		return
	}
	if err := s.session.SetRepeat(repeat, repeatDelay); err != nil {
		writeError(w, err)
		return
	}
	s.session.SetHotkeysEnabled(hotkeys)

	s.configMgr.Update(func(c *config.Config) {
		c.Playback.Speed = speed
		c.Playback.RepeatEnabled = repeat
		c.Playback.RepeatDelayMs = repeatDelay
		c.Hotkeys.Enabled = hotkeys
	})
	s.saveConfig()
	writeState(w, s.session.Snapshot())
}

// handleConfig handles GET /api/config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cfg := s.configMgr.Get()
	cfg.General.APIToken = ""
	writeJSON(w, http.StatusOK, cfg)
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) saveConfig() {
	if err := s.configMgr.Save(); err != nil {
		log.Printf("API: Warning: failed to save config: %v", err)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: request body is not valid JSON", session.ErrInvalidInput)
	}
	return body, nil
}

// statusFor maps session errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrEmpty):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, macro.ErrMalformed), errors.Is(err, macro.ErrUnsupportedVersion):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("API: request failed: %v", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeState(w http.ResponseWriter, state session.State) {
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
