// Package chat implements the real-time chat hub: WebSocket upgrade,
// per-connection reader/writer tasks, room multiplexing, and message
// persistence with history replay on join.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/asepharyana/gatewayd/internal/apierr"
	"github.com/asepharyana/gatewayd/internal/db"
	"github.com/asepharyana/gatewayd/internal/telemetry"
)

const historySize = 50

// Frame is one outbound JSON payload queued on a client's mailbox.
type Frame struct {
	Event string `json:"event"`
	Room  string `json:"room,omitempty"`
	From  string `json:"from,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// WsMessage is one inbound frame as parsed off the socket.
type WsMessage struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	To    string          `json:"to,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	SenderID  string    `json:"sender_id"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is one live WebSocket connection's server-side handle.
type Client struct {
	ID      string
	conn    *websocket.Conn
	mailbox *Mailbox
	room    string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub multiplexes every live connection across rooms and persists
// messages through the database pool.
type Hub struct {
	pool  *db.Pool
	rooms *RoomManager

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub builds a Hub backed by pool for message persistence. pool may be
// nil in tests, in which case persistence and history replay are skipped.
func NewHub(pool *db.Pool) *Hub {
	return &Hub{
		pool:    pool,
		rooms:   NewRoomManager(),
		clients: make(map[string]*Client),
	}
}

// Rooms exposes the RoomManager so the Scheduler can reap empty rooms.
func (h *Hub) Rooms() *RoomManager {
	return h.rooms
}

// ServeWS upgrades the request to a WebSocket and runs the connection's
// lifecycle to completion. initialRoom is joined before history replay.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initialRoom string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	client := &Client{
		ID:      uuid.NewString(),
		conn:    conn,
		mailbox: NewMailbox(),
		room:    initialRoom,
	}

	h.register(client)
	defer h.unregister(client)

	client.mailbox.Send(Frame{Event: "connected", From: client.ID})

	h.rooms.Join(initialRoom, client)
	h.replayHistory(r.Context(), client, initialRoom)

	h.run(client)
	return nil
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()
	metrics.UpdateChatConnections(count)
}

// unregister removes c from ChatHub.clients by identity and every room it
// was a member of, then closes its mailbox and socket.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	count := len(h.clients)
	h.mu.Unlock()
	metrics.UpdateChatConnections(count)

	h.rooms.LeaveAll(c)
	c.mailbox.Close()
	c.conn.Close()
}

func (h *Hub) replayHistory(ctx context.Context, c *Client, room string) {
	messages, err := h.recentMessages(ctx, room, historySize)
	if err != nil {
		log.Warn().Err(err).Str("room", room).Msg("failed to load chat history")
		return
	}
	c.mailbox.Send(Frame{Event: "history", Room: room, Data: messages})
}

// run starts the writer and reader tasks and waits for whichever finishes
// first; the other is then cancelled by closing the connection, mirroring
// the pool/session "single stop signal, many waiters" shutdown shape
// generalized to exactly two per-connection goroutines.
func (h *Hub) run(c *Client) {
	eg, _ := errgroup.WithContext(context.Background())

	eg.Go(func() error {
		err := h.writerLoop(c)
		c.conn.Close()
		return err
	})
	eg.Go(func() error {
		err := h.readerLoop(c)
		c.mailbox.Close()
		return err
	})

	if err := eg.Wait(); err != nil {
		log.Debug().Err(err).Str("client_id", c.ID).Msg("chat connection closed")
	}
}

// writerLoop drains the mailbox, writing text frames to the socket. On any
// write error it terminates, which the reader loop observes via the
// underlying connection closing.
func (h *Hub) writerLoop(c *Client) error {
	for {
		frame, ok := c.mailbox.Next()
		if !ok {
			return nil
		}
		raw, err := json.Marshal(frame)
		if err != nil {
			log.Warn().Err(err).Msg("failed to marshal outbound chat frame")
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
}

// readerLoop reads frames and dispatches by event. It terminates on any
// read error (including the peer closing the connection).
func (h *Hub) readerLoop(c *Client) error {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		var msg WsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.mailbox.Send(Frame{Event: "error", Data: apierr.ErrInvalidMessage.Error()})
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *Hub) dispatch(c *Client, msg WsMessage) {
	switch msg.Event {
	case "ping":
		c.mailbox.Send(Frame{Event: "pong"})
	case "join":
		h.rooms.Join(msg.Room, c)
		c.room = msg.Room
		h.broadcast(msg.Room, Frame{Event: "join", Room: msg.Room, Data: c.ID})
	case "leave":
		h.rooms.Leave(msg.Room, c.ID)
		h.broadcast(msg.Room, Frame{Event: "leave", Room: msg.Room, Data: c.ID})
	case "message":
		h.handleMessage(c, msg)
	case "private":
		h.handlePrivate(c, msg)
	default:
		c.mailbox.Send(Frame{Event: "error", Data: "unknown event: " + msg.Event})
	}
}

func (h *Hub) handleMessage(c *Client, msg WsMessage) {
	saved, err := h.persistMessage(context.Background(), msg.Room, c.ID, string(msg.Data))
	if err != nil {
		log.Warn().Err(err).Str("room", msg.Room).Msg("failed to persist chat message")
		c.mailbox.Send(Frame{Event: "error", Data: "message not saved"})
		return
	}
	h.broadcast(msg.Room, Frame{Event: "new_message", Room: msg.Room, Data: saved})
}

func (h *Hub) handlePrivate(c *Client, msg WsMessage) {
	h.mu.RLock()
	target, ok := h.clients[msg.To]
	h.mu.RUnlock()
	if !ok {
		c.mailbox.Send(Frame{Event: "error", Data: "recipient not connected"})
		return
	}
	target.mailbox.Send(Frame{Event: "private", Data: msg.Data})
}

// broadcast clones the payload into every room member's mailbox. A member
// whose Send would observe a closed mailbox is simply skipped here; it was
// already reaped by unregister on its own connection's exit.
func (h *Hub) broadcast(room string, frame Frame) {
	r := h.rooms.Get(room)
	if r == nil {
		return
	}
	for _, member := range r.snapshot() {
		member.mailbox.Send(frame)
	}
}

func (h *Hub) persistMessage(ctx context.Context, room, senderID, data string) (*Message, error) {
	msg := &Message{
		ID:        uuid.NewString(),
		Room:      room,
		SenderID:  senderID,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if h.pool == nil {
		return msg, nil
	}
	_, err := h.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, room, sender_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.Room, msg.SenderID, msg.Data, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	metrics.RecordChatMessage(room)
	return msg, nil
}

// Close closes every live connection, which unblocks each connection's
// readerLoop with a read error and lets run/unregister tear it down.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) recentMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	if h.pool == nil {
		return nil, nil
	}
	rows, err := h.pool.Query(ctx, `
		SELECT id, room, sender_id, data, created_at
		FROM chat_messages
		WHERE room = $1
		ORDER BY created_at DESC
		LIMIT $2`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Room, &m.SenderID, &m.Data, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
