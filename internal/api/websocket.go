package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"keymacro/internal/protocol"
	"keymacro/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     loopbackRequest,
}

// WSManager handles WebSocket connections and broadcasting
type WSManager struct {
	server     *Server
	clients    map[*WebSocketClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan protocol.Message
	unregister chan *WebSocketClient
	shutdown   chan struct{}
	stopOnce   sync.Once
}

// WebSocketClient represents a connected control panel
type WebSocketClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
}

func newWSManager(s *Server) *WSManager {
	return &WSManager{
		server:     s,
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan protocol.Message, 256),
		unregister: make(chan *WebSocketClient),
		shutdown:   make(chan struct{}),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				log.Printf("WS: Client unregistered from %s. Total clients: %d", client.ip, len(m.clients))
			}
			m.clientsMu.Unlock()

		case message := <-m.broadcast:
			m.broadcastMessage(message)

		case <-m.shutdown:
			return
		}
	}
}

func (m *WSManager) stop() {
	m.stopOnce.Do(func() { close(m.shutdown) })
}

// publish queues a message for all clients without blocking the caller
func (m *WSManager) publish(msg protocol.Message) {
	select {
	case m.broadcast <- msg:
	default:
		log.Printf("WS: Warning: broadcast queue full, dropping %s message", msg.Type)
	}
}

func (m *WSManager) broadcastMessage(message protocol.Message) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("WS: Failed to marshal broadcast message: %v", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		select {
		case client.send <- jsonMsg:
		default:
			close(client.send)
			delete(m.clients, client)
		}
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: Failed to upgrade connection: %v", err)
		return
	}

	client := &WebSocketClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		ip:      r.RemoteAddr,
	}

	// Registered before the pumps start so replies to the first request
	// are never dropped
	m.clientsMu.Lock()
	m.clients[client] = true
	n := len(m.clients)
	m.clientsMu.Unlock()
	log.Printf("WS: New client registered from %s. Total clients: %d", client.ip, n)

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS: Read error: %v", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("WS: Invalid message format: %v", err)
		return
	}

	sess := c.manager.server.session
	switch msg.Type {
	case protocol.TypeSyncRequest:
		c.reply(protocol.Message{Type: protocol.TypeSyncResponse, Payload: sess.Snapshot()})

	case protocol.TypeCommand:
		var payload protocol.CommandPayload
		jsonBytes, _ := json.Marshal(msg.Payload)
		if err := json.Unmarshal(jsonBytes, &payload); err != nil {
			log.Printf("WS: Invalid command payload: %v", err)
			return
		}

		var fn func() error
		switch payload.Command {
		case "record":
			fn = sess.ToggleRecording
		case "play":
			fn = sess.Play
		case "stop":
			fn = sess.Stop
		case "toggle":
			fn = sess.TogglePlayback
		case "clear":
			fn = sess.Clear
		case "capture":
			fn = sess.CaptureToggleKey
		default:
			log.Printf("WS: Unknown command %q from %s", payload.Command, c.ip)
			c.reply(protocol.Message{Type: protocol.TypeError, Payload: protocol.StatusPayload{Text: "unknown command " + payload.Command}})
			return
		}

		log.Printf("WS: Received %s command from %s", payload.Command, c.ip)
		if err := fn(); err != nil {
			c.reply(protocol.Message{Type: protocol.TypeError, Payload: protocol.StatusPayload{Text: err.Error()}})
		}
	}
}

func (c *WebSocketClient) reply(msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WS: Failed to marshal reply: %v", err)
		return
	}

	c.manager.clientsMu.RLock()
	defer c.manager.clientsMu.RUnlock()
	if !c.manager.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// messageFor converts a session update into its wire message
func messageFor(u session.Update) protocol.Message {
	switch u.Kind {
	case session.KindStep:
		return protocol.Message{Type: protocol.TypeStep, Payload: stepPayload(u.Step.Index, u.Step.Key, u.Step.DelayMs)}
	case session.KindSteps:
		steps := make([]protocol.StepPayload, len(u.Steps))
		for i, st := range u.Steps {
			steps[i] = stepPayload(st.Index, st.Key, st.DelayMs)
		}
		return protocol.Message{Type: protocol.TypeSteps, Payload: protocol.StepsPayload{Steps: steps}}
	case session.KindPhase:
		return protocol.Message{Type: protocol.TypePhase, Payload: protocol.PhasePayload{Phase: u.Phase.String()}}
	case session.KindToggleKey:
		return protocol.Message{Type: protocol.TypeToggleKey, Payload: protocol.ToggleKeyPayload{Key: u.ToggleKey}}
	default:
		return protocol.Message{Type: protocol.TypeStatus, Payload: protocol.StatusPayload{Text: u.Status}}
	}
}

func stepPayload(index int, key string, delayMs int) protocol.StepPayload {
	return protocol.StepPayload{Index: index, Key: key, DelayMs: delayMs}
}
