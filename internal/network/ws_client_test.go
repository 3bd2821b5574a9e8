package network

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymacro/internal/api"
	"keymacro/internal/config"
	"keymacro/internal/input"
	"keymacro/internal/session"
)

func startService(t *testing.T, token string) (*api.Server, string) {
	t.Helper()
	cfg := config.NewManagerAt(filepath.Join(t.TempDir(), "config.json"))
	cfg.Update(func(c *config.Config) { c.General.APIToken = token })
	sess := session.New(session.Options{Injector: input.InjectorFunc(func(string) error { return nil })})
	srv := api.NewServer(sess, cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		sess.Close()
	})
	return srv, strings.TrimPrefix(ts.URL, "http://")
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestSyncAndCommands(t *testing.T) {
	srv, addr := startService(t, "")

	c := NewWSClient(addr, "")
	syncs := make(chan json.RawMessage, 1)
	errs := make(chan string, 1)
	statuses := make(chan string, 1)
	c.OnSync = func(state json.RawMessage) { syncs <- state }
	c.OnError = func(text string) { errs <- text }
	c.OnStatus = func(text string) { statuses <- text }

	require.NoError(t, c.Connect())
	defer c.Close()

	require.NoError(t, c.SendSyncRequest())
	var state map[string]interface{}
	require.NoError(t, json.Unmarshal(wait(t, syncs), &state))
	assert.Equal(t, "idle", state["phase"])

	require.NoError(t, c.SendCommand("play"))
	assert.Contains(t, wait(t, errs), "no macro recorded")

	srv.Publish(session.Update{Kind: session.KindStatus, Status: "Macro cleared."})
	assert.Equal(t, "Macro cleared.", wait(t, statuses))
}

func TestToken(t *testing.T) {
	_, addr := startService(t, "secret")

	assert.Error(t, NewWSClient(addr, "").Connect())

	c := NewWSClient(addr, "secret")
	require.NoError(t, c.Connect())
	c.Close()
	<-c.Done()
	assert.ErrorIs(t, c.SendCommand("stop"), ErrClosed)
}
