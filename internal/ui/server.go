// Package ui provides the browser based control panel.
package ui

import (
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os/exec"
	"runtime"
)

// PageData is rendered into the control panel page. The page is served
// without authentication; the API token is read from the page URL.
type PageData struct {
	Version string
}

// Server serves the control panel page and forwards everything else to the
// API handler
type Server struct {
	api      http.Handler
	data     PageData
	listener net.Listener
}

// NewServer creates a new UI server in front of api
func NewServer(api http.Handler, data PageData) *Server {
	return &Server{api: api, data: data}
}

// Handler returns the page handler with the API mounted under it
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", s.handleIndex)
	mux.Handle("/", s.api)
	return mux
}

// Start starts the UI server on a free loopback port and opens the browser.
// It blocks until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	s.listener = listener

	port := listener.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://127.0.0.1:%d", port)

	log.Printf("UI: control panel at %s", url)
	go OpenBrowser(url)

	if err := http.Serve(listener, s.Handler()); err != nil && s.listener != nil {
		return err
	}
	return nil
}

// URL returns the address of a started server
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Stop stops the UI server
func (s *Server) Stop() error {
	if s.listener != nil {
		ln := s.listener
		s.listener = nil
		return ln.Close()
	}
	return nil
}

// OpenBrowser opens url in the default browser
func OpenBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		err = exec.Command("xdg-open", url).Start()
	}
	if err != nil {
		log.Printf("UI: Failed to open browser: %v", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, s.data); err != nil {
		log.Printf("UI: render failed: %v", err)
	}
}

var tmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Key Macro</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 100%);
            color: #e2e8f0;
            min-height: 100vh;
            padding: 2rem;
        }
        .container { max-width: 720px; margin: 0 auto; }
        h1 { font-size: 1.75rem; margin-bottom: 1.5rem; color: #a5b4fc; }
        .card {
            background: rgba(255,255,255,0.05);
            border: 1px solid rgba(255,255,255,0.1);
            border-radius: 16px;
            padding: 1.25rem;
            margin-bottom: 1.25rem;
        }
        .row { display: flex; gap: 0.5rem; flex-wrap: wrap; align-items: center; margin-bottom: 0.75rem; }
        button {
            background: #667eea; color: #fff; border: 0; border-radius: 8px;
            padding: 0.5rem 1rem; cursor: pointer; font-size: 0.9rem;
        }
        button.secondary { background: rgba(255,255,255,0.1); }
        input {
            background: rgba(0,0,0,0.3); color: #e2e8f0; border: 1px solid rgba(255,255,255,0.15);
            border-radius: 6px; padding: 0.4rem 0.6rem;
        }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 0.35rem 0.5rem; border-bottom: 1px solid rgba(255,255,255,0.06); }
        td input { width: 7rem; }
        #status { color: #94a3b8; min-height: 1.2rem; }
        #phase { font-weight: 600; text-transform: uppercase; }
        .steps { max-height: 360px; overflow-y: auto; }
    </style>
</head>
<body>
<div class="container">
    <h1>Key Macro <small style="font-size:0.8rem;color:#64748b">{{.Version}}</small></h1>

    <div class="card">
        <div class="row">
            <button onclick="post('/api/record')">Record</button>
            <button onclick="post('/api/toggle')">Play / Stop</button>
            <button class="secondary" onclick="post('/api/clear')">Clear</button>
            <span id="phase">idle</span>
        </div>
        <div class="row">
            <input id="path" placeholder="macro file (empty = last used)" size="40">
            <button class="secondary" onclick="post('/api/save' + pathQuery())">Save</button>
            <button class="secondary" onclick="post('/api/load' + pathQuery())">Load</button>
        </div>
        <div id="status"></div>
    </div>

    <div class="card">
        <div class="row">
            <label>Speed <input id="speed" type="number" min="0.25" max="3" step="0.05" value="1"></label>
            <label><input id="repeat" type="checkbox"> Repeat</label>
            <label>Delay (ms) <input id="repeatDelay" type="number" min="0" value="250"></label>
            <button class="secondary" onclick="saveSettings()">Apply</button>
        </div>
        <div class="row">
            <label>Play toggle key <input id="toggleKey" size="10"></label>
            <button class="secondary" onclick="setToggle()">Set</button>
            <button class="secondary" onclick="post('/api/toggle-key/capture')">Capture</button>
        </div>
    </div>

    <div class="card steps">
        <table>
            <thead><tr><th>#</th><th>Key</th><th>Delay (ms)</th></tr></thead>
            <tbody id="steps"></tbody>
        </table>
    </div>
</div>
<script>
const token = new URLSearchParams(location.search).get('token') || '';
const headers = token ? {'Authorization': 'Bearer ' + token} : {};

function setStatus(text) { document.getElementById('status').textContent = text; }

function pathQuery() {
    const p = document.getElementById('path').value.trim();
    return p ? '?path=' + encodeURIComponent(p) : '';
}

async function post(url, body) {
    const resp = await fetch(url, {method: 'POST', headers: headers, body: body ? JSON.stringify(body) : undefined});
    const data = await resp.json().catch(() => ({}));
    if (!resp.ok) { setStatus(data.error || resp.statusText); return null; }
    render(data);
    return data;
}

function saveSettings() {
    post('/api/settings', {
        speed: parseFloat(document.getElementById('speed').value),
        repeat_enabled: document.getElementById('repeat').checked,
        repeat_delay_ms: document.getElementById('repeatDelay').value,
    });
}

function setToggle() {
    post('/api/toggle-key', {key: document.getElementById('toggleKey').value});
}

function row(step) {
    const tr = document.createElement('tr');
    tr.id = 'step-' + step.index;
    tr.innerHTML = '<td>' + step.index + '</td><td></td><td><input type="text"></td>';
    tr.children[1].textContent = step.key;
    const input = tr.querySelector('input');
    input.value = step.delay_ms;
    input.addEventListener('change', async () => {
        const ok = await post('/api/steps/' + step.index + '/delay', {delay_ms: input.value});
        if (!ok) { input.value = step.delay_ms; } else { step.delay_ms = parseInt(input.value, 10); }
    });
    return tr;
}

function setSteps(steps) {
    const body = document.getElementById('steps');
    body.innerHTML = '';
    (steps || []).forEach(s => body.appendChild(row(s)));
}

function putStep(step) {
    const existing = document.getElementById('step-' + step.index);
    const tr = row(step);
    if (existing) { existing.replaceWith(tr); } else { document.getElementById('steps').appendChild(tr); }
    tr.scrollIntoView({block: 'nearest'});
}

function render(state) {
    if (!state || state.phase === undefined) return;
    document.getElementById('phase').textContent = state.phase;
    document.getElementById('speed').value = state.speed;
    document.getElementById('repeat').checked = state.repeat_enabled;
    document.getElementById('repeatDelay').value = state.repeat_delay_ms;
    document.getElementById('toggleKey').value = state.toggle_key;
    setSteps(state.steps);
}

function connect() {
    const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
    const ws = new WebSocket(proto + location.host + '/ws' + (token ? '?token=' + encodeURIComponent(token) : ''));
    ws.onopen = () => ws.send(JSON.stringify({type: 'sync_req'}));
    ws.onmessage = (ev) => {
        const msg = JSON.parse(ev.data);
        const p = msg.payload || {};
        switch (msg.type) {
            case 'sync_resp': render(p); break;
            case 'step': putStep(p); break;
            case 'steps': setSteps(p.steps); break;
            case 'status': case 'error': setStatus(p.text); break;
            case 'phase': document.getElementById('phase').textContent = p.phase; break;
            case 'toggle_key': document.getElementById('toggleKey').value = p.key; break;
        }
    };
    ws.onclose = () => setTimeout(connect, 2000);
}

connect();
</script>
</body>
</html>
`))
