// Package network provides the client side of the control panel WebSocket,
// used to drive a running service from the command line.
package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"keymacro/internal/protocol"
)

// ErrClosed is returned when sending on a closed client
var ErrClosed = errors.New("client closed")

// inbound is a received message with its payload left undecoded
type inbound struct {
	Type    protocol.MessageType `json:"type"`
	Payload json.RawMessage      `json:"payload"`
}

// WSClient handles a WebSocket connection to the service
type WSClient struct {
	addr  string
	token string
	conn  *websocket.Conn
	send  chan protocol.Message
	done  chan struct{}
	once  sync.Once

	// Callbacks, run on the read goroutine
	OnStatus    func(text string)
	OnError     func(text string)
	OnPhase     func(phase string)
	OnStep      func(step protocol.StepPayload)
	OnSteps     func(steps []protocol.StepPayload)
	OnToggleKey func(key string)
	OnSync      func(state json.RawMessage)
	OnClose     func()
}

// NewWSClient creates a client for the service at addr (host:port)
func NewWSClient(addr, token string) *WSClient {
	return &WSClient{
		addr:  addr,
		token: token,
		send:  make(chan protocol.Message, 16),
		done:  make(chan struct{}),
	}
}

// Connect dials the service and starts the read and write pumps
func (c *WSClient) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/ws"}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u.String(), err)
	}
	c.conn = conn
	log.Printf("WS Client: Connected to %s", u.String())

	go c.writePump()
	go c.readPump()
	return nil
}

func (c *WSClient) readPump() {
	defer func() {
		c.Close()
		if c.OnClose != nil {
			c.OnClose()
		}
	}()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS Client: Read error: %v", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("WS Client: Invalid message: %v", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("WS Client: Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.conn.Close()
			return
		}
	}
}

func (c *WSClient) handleMessage(msg inbound) {
	switch msg.Type {
	case protocol.TypeStatus, protocol.TypeError:
		var payload protocol.StatusPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if msg.Type == protocol.TypeError {
			if c.OnError != nil {
				c.OnError(payload.Text)
			}
		} else if c.OnStatus != nil {
			c.OnStatus(payload.Text)
		}

	case protocol.TypePhase:
		var payload protocol.PhasePayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && c.OnPhase != nil {
			c.OnPhase(payload.Phase)
		}

	case protocol.TypeStep:
		var payload protocol.StepPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && c.OnStep != nil {
			c.OnStep(payload)
		}

	case protocol.TypeSteps:
		var payload protocol.StepsPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && c.OnSteps != nil {
			c.OnSteps(payload.Steps)
		}

	case protocol.TypeToggleKey:
		var payload protocol.ToggleKeyPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && c.OnToggleKey != nil {
			c.OnToggleKey(payload.Key)
		}

	case protocol.TypeSyncResponse:
		if c.OnSync != nil {
			c.OnSync(msg.Payload)
		}
	}
}

func (c *WSClient) enqueue(msg protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// SendCommand asks the service to run a session command
// (record, play, stop, toggle, clear or capture)
func (c *WSClient) SendCommand(command string) error {
	return c.enqueue(protocol.Message{
		Type:    protocol.TypeCommand,
		Payload: protocol.CommandPayload{Command: command},
	})
}

// SendSyncRequest asks the service for its full state
func (c *WSClient) SendSyncRequest() error {
	return c.enqueue(protocol.Message{Type: protocol.TypeSyncRequest})
}

// Done is closed when the connection has ended
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// Close stops the client
func (c *WSClient) Close() {
	c.once.Do(func() { close(c.done) })
}
