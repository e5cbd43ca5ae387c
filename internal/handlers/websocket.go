package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/call-relay/internal/lifecycle"
	"github.com/mossy-p/call-relay/internal/models"
	"github.com/mossy-p/call-relay/internal/registry"
	"github.com/mossy-p/call-relay/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// wsChannel adapts one WebSocket connection to the registry's Channel
// interface. Writes go through a buffered queue drained by a single
// writePump goroutine.
type wsChannel struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (ch *wsChannel) ID() string { return ch.id }

func (ch *wsChannel) IsOpen() bool {
	select {
	case <-ch.closed:
		return false
	default:
		return true
	}
}

// Send queues one event frame. It fails fast when the channel is closed or
// the queue is full; the caller treats any error as the connection being
// gone.
func (ch *wsChannel) Send(event string, data any) error {
	frame, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case <-ch.closed:
		return errors.New("channel closed")
	default:
	}
	select {
	case ch.send <- frame:
		return nil
	default:
		return errors.New("send buffer full for event " + event)
	}
}

func (ch *wsChannel) Close() error {
	ch.closeOnce.Do(func() { close(ch.closed) })
	return ch.conn.Close()
}

func (ch *wsChannel) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		ch.Close()
	}()

	for {
		select {
		case <-ch.closed:
			ch.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			ch.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-ch.send:
			ch.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ch.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			ch.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ch.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SignalingHandler serves the WebSocket signaling endpoint.
type SignalingHandler struct {
	reg    *registry.Registry
	router *signaling.Router
	life   *lifecycle.Handler
}

func NewSignalingHandler(reg *registry.Registry, router *signaling.Router, life *lifecycle.Handler) *SignalingHandler {
	return &SignalingHandler{reg: reg, router: router, life: life}
}

// Handle upgrades an authenticated request and runs the channel's read loop.
// The identity comes from the validated JWT, never from the client's frames.
func (h *SignalingHandler) Handle(c *gin.Context) {
	identity := c.GetString("user_id")
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	displayName := c.GetString("display_name")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	ch := newWSChannel(conn)
	log.Printf("Channel %s opened for user %s", ch.id, identity)

	go ch.writePump()
	go h.readPump(ch, identity, displayName)
}

// readPump consumes frames from one channel until it dies. A channel cannot
// send or receive call signals before its explicit join; only join and ping
// are accepted while unregistered.
func (h *SignalingHandler) readPump(ch *wsChannel, identity, displayName string) {
	joined := false
	reason := "connection closed"

	defer func() {
		ch.Close()
		if joined {
			// Guarded by the expected-channel check: if a newer channel
			// superseded this one, the current registration survives.
			h.life.Disconnect(identity, ch.id, reason)
		} else {
			log.Printf("Channel %s for %s closed before join", ch.id, identity)
		}
	}()

	ch.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	ch.conn.SetPongHandler(func(string) error {
		ch.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		h.reg.Touch(identity)
		return nil
	})

	for {
		_, frame, err := ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on channel %s: %v", ch.id, err)
				reason = "connection error"
			}
			return
		}
		ch.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg models.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			h.sendError(ch, "malformed message: not valid JSON")
			continue
		}

		switch msg.Event {
		case models.EventJoin:
			if msg.Identity != "" && msg.Identity != identity {
				h.sendError(ch, "join identity does not match authenticated user")
				continue
			}
			name := msg.DisplayName
			if name == "" {
				name = displayName
			}
			h.life.Join(identity, name, ch)
			joined = true

		case models.EventPing:
			if joined {
				h.reg.Touch(identity)
			}
			if err := ch.Send(string(models.EventPong), models.Message{
				Event:      models.EventPong,
				Timestamp:  msg.Timestamp,
				ServerTime: time.Now().UnixMilli(),
			}); err != nil {
				log.Printf("Failed to send pong on channel %s: %v", ch.id, err)
			}

		case models.EventPong:
			// Answer to a liveness probe; any traffic cancels eviction.
			h.reg.Touch(identity)

		default:
			sender, ok := h.reg.Lookup(identity)
			if !ok || sender.Channel.ID() != ch.id {
				h.sendError(ch, "join required before signaling")
				continue
			}
			h.reg.Touch(identity)
			h.router.Route(sender, msg)
		}
	}
}

func (h *SignalingHandler) sendError(ch *wsChannel, why string) {
	if err := ch.Send(string(models.EventSignalError), models.Message{
		Event:  models.EventSignalError,
		Reason: why,
	}); err != nil {
		log.Printf("Failed to send signal-error on channel %s: %v", ch.id, err)
	}
}
