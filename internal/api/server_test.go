package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymacro/internal/config"
	"keymacro/internal/input"
	"keymacro/internal/macro"
	"keymacro/internal/protocol"
	"keymacro/internal/session"
)

type fixture struct {
	srv     *httptest.Server
	api     *Server
	sess    *session.Session
	cfg     *config.Manager
	dir     string
	mu      sync.Mutex
	pressed []string
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir()}
	f.cfg = config.NewManagerAt(filepath.Join(f.dir, "config.json"))
	f.cfg.Update(func(c *config.Config) { c.General.APIToken = token })
	f.sess = session.New(session.Options{
		Injector: input.InjectorFunc(func(key string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.pressed = append(f.pressed, key)
			return nil
		}),
		ToggleKey:     "f8",
		RepeatDelayMs: 250,
	})
	f.api = NewServer(f.sess, f.cfg)
	f.srv = httptest.NewServer(f.api.Handler())
	t.Cleanup(func() {
		f.srv.Close()
		f.api.Close()
		f.sess.Close()
	})
	return f
}

func (f *fixture) writeMacro(t *testing.T, keys ...string) string {
	t.Helper()
	doc := macro.Document{Version: macro.CurrentVersion, RepeatDelayMs: 250, PlayToggleKey: "f8"}
	for _, k := range keys {
		doc.Events = append(doc.Events, macro.Event{Key: k})
	}
	path := filepath.Join(f.dir, "macro.json")
	require.NoError(t, macro.Save(path, doc))
	return path
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealthAndAuth(t *testing.T) {
	f := newFixture(t, "secret")

	resp, _ := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	r2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, http.StatusOK, r2.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/status?token=secret", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoadAndPlay(t *testing.T) {
	f := newFixture(t, "")
	path := f.writeMacro(t, "a", "b")

	resp, body := f.do(t, http.MethodPost, "/api/load?path="+path, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["steps"], 2)
	assert.Equal(t, "idle", body["phase"])

	resp, _ = f.do(t, http.MethodGet, "/api/play", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/play", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.sess.Wait()

	f.mu.Lock()
	assert.Equal(t, []string{"a", "b"}, f.pressed)
	f.mu.Unlock()
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t, "")

	resp, body := f.do(t, http.MethodPost, "/api/play", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, _ = f.do(t, http.MethodPost, "/api/record", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/record?action=dance", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/load?path="+filepath.Join(f.dir, "missing.json"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	bad := filepath.Join(f.dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"events": "nope"}`), 0644))
	resp, _ = f.do(t, http.MethodPost, "/api/load?path="+bad, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/save?path="+filepath.Join(f.dir, "out.json"), "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEditStepDelay(t *testing.T) {
	f := newFixture(t, "")
	f.do(t, http.MethodPost, "/api/load?path="+f.writeMacro(t, "a"), "")

	for _, body := range []string{`{"delay_ms": "abc"}`, `{"delay_ms": -5}`, `{}`, `not json`} {
		resp, _ := f.do(t, http.MethodPost, "/api/steps/1/delay", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	resp, _ := f.do(t, http.MethodPost, "/api/steps/x/delay", `{"delay_ms": 5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, f.sess.Snapshot().Steps[0].DelayMs)

	resp, _ = f.do(t, http.MethodPost, "/api/steps/1/delay", `{"delay_ms": 250}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 250, f.sess.Snapshot().Steps[0].DelayMs)
}

func TestSettingsPersistToConfig(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := f.do(t, http.MethodPost, "/api/settings", `{"speed": 5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1.0, f.cfg.Get().Playback.Speed)

	resp, body := f.do(t, http.MethodPost, "/api/settings", `{"speed": 2, "repeat_enabled": true, "repeat_delay_ms": "100"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, body["speed"])
	assert.Equal(t, true, body["repeat_enabled"])

	cfg := f.cfg.Get()
	assert.Equal(t, 2.0, cfg.Playback.Speed)
	assert.True(t, cfg.Playback.RepeatEnabled)
	assert.Equal(t, 100, cfg.Playback.RepeatDelayMs)
	assert.FileExists(t, f.cfg.Path())
}

func TestToggleKeyEndpoint(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := f.do(t, http.MethodPost, "/api/toggle-key", `{"key": "scan:41"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "scan:41", f.sess.Snapshot().ToggleKey)
	assert.Equal(t, "scan:41", f.cfg.Get().Hotkeys.Toggle)

	resp, _ = f.do(t, http.MethodPost, "/api/toggle-key", `{"key": ""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/toggle-key", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "scan:41", body["key"])
}

func TestConfigHidesToken(t *testing.T) {
	f := newFixture(t, "secret")
	resp, body := f.do(t, http.MethodGet, "/api/config?token=secret", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	general := body["general"].(map[string]interface{})
	_, hasToken := general["api_token"]
	assert.False(t, hasToken)
}

func TestWebSocketSyncAndPublish(t *testing.T) {
	f := newFixture(t, "")
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(protocol.Message{Type: protocol.TypeSyncRequest}))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(protocol.TypeSyncResponse), msg["type"])

	f.api.Publish(session.Update{Kind: session.KindStep, Step: macro.Step{Index: 1, Key: "a", DelayMs: 120}})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(protocol.TypeStep), msg["type"])
	assert.Equal(t, map[string]interface{}{"index": 1.0, "key": "a", "delay_ms": 120.0}, msg["payload"])

	require.NoError(t, conn.WriteJSON(protocol.Message{
		Type:    protocol.TypeCommand,
		Payload: protocol.CommandPayload{Command: "play"},
	}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(protocol.TypeError), msg["type"])
}

func TestRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, "")
	path := f.writeMacro(t, "a")

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/load?path="+path, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, f.sess.Snapshot().Steps)

	req, _ = http.NewRequest(http.MethodGet, f.srv.URL+"/api/status", nil)
	req.Host = "evil.example"
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, f.srv.URL+"/api/load?path="+path, nil)
	req.Header.Set("Origin", f.srv.URL)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	_, wsResp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, wsResp)
	assert.Equal(t, http.StatusForbidden, wsResp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost:1234"}})
	require.NoError(t, err)
	conn.Close()
}

func TestLoopbackHost(t *testing.T) {
	for host, want := range map[string]bool{
		"127.0.0.1:18090": true,
		"localhost":       true,
		"LOCALHOST:80":    true,
		"[::1]:18090":     true,
		"127.1.2.3":       true,
		"192.168.1.5:80":  false,
		"evil.example":    false,
		"":                false,
	} {
		assert.Equal(t, want, loopbackHost(host), host)
	}
}

func TestMessageFor(t *testing.T) {
	msg := messageFor(session.Update{Kind: session.KindPhase, Phase: session.Playing})
	assert.Equal(t, protocol.TypePhase, msg.Type)
	assert.Equal(t, protocol.PhasePayload{Phase: "playing"}, msg.Payload)

	msg = messageFor(session.Update{Kind: session.KindStatus, Status: "Playback stopped."})
	assert.Equal(t, protocol.StatusPayload{Text: "Playback stopped."}, msg.Payload)

	msg = messageFor(session.Update{Kind: session.KindSteps})
	assert.Equal(t, protocol.StepsPayload{Steps: []protocol.StepPayload{}}, msg.Payload)
}
