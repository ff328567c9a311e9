package main

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection attached to the coordinator.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan any
}

// connRegistry maps connection IDs to clients so the session manager
// can push events without knowing about websockets.
type connRegistry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

func newConnRegistry() *connRegistry {
	return &connRegistry{
		clients: make(map[string]*Client),
	}
}

func (cr *connRegistry) add(c *Client) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	cr.clients[c.id] = c
}

func (cr *connRegistry) remove(id string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if c, ok := cr.clients[id]; ok {
		delete(cr.clients, id)
		close(c.send)
	}
}

// notify implements the session manager's push primitive. It never
// blocks: a consumer with a full send buffer loses the event rather
// than stalling a registry handler.
func (cr *connRegistry) notify(connID string, msg any) {
	cr.mu.Lock()
	c, ok := cr.clients[connID]
	cr.mu.Unlock()

	if !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

func serveWS(cfg *Config, sm *SessionManager, reg *connRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan any, 16),
		}

		reg.add(client)
		logf(cfg, "SERVE: connection %s attached from %s", client.id, realIP(r))

		go client.writePump()
		client.readPump(cfg, sm, reg)
	}
}

func (c *Client) readPump(cfg *Config, sm *SessionManager, reg *connRegistry) {
	defer func() {
		sm.Disconnect(c.id)
		reg.remove(c.id)
		_ = c.conn.Close()
		logf(cfg, "SERVE: connection %s detached", c.id)
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.dispatch(sm, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *Client) reply(msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) fail(request string, err error) {
	c.reply(ErrorMessage{
		Type:    "error",
		Request: request,
		Error:   err.Error(),
	})
}

func errMissingField(name string) error {
	return fmt.Errorf("missing required field %q", name)
}

// dispatch validates each call's required fields at the boundary, then
// hands it to the session manager. Responses go back on the calling
// connection; pushes to other parties come out of the manager itself.
func (c *Client) dispatch(sm *SessionManager, msg ClientMessage) {
	switch msg.Type {
	case "create-room":
		if msg.HostName == "" {
			c.fail(msg.Type, errMissingField("hostName"))
			return
		}
		var settings RoomSettings
		if msg.Settings != nil {
			settings = *msg.Settings
		}
		room, err := sm.CreateRoom(c.id, msg.HostName, settings)
		if err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply(RoomCreatedMessage{
			Type:     "room-created",
			RoomCode: room.Code,
			Room:     room,
		})

	case "join-room":
		if msg.RoomCode == "" {
			c.fail(msg.Type, errMissingField("roomCode"))
			return
		}
		if msg.PlayerName == "" {
			c.fail(msg.Type, errMissingField("playerName"))
			return
		}
		room, err := sm.JoinRoom(c.id, msg.RoomCode, msg.PlayerName)
		if err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply(RoomJoinedMessage{
			Type: "room-joined",
			Room: room,
		})

	case "update-settings":
		if msg.Settings == nil {
			c.fail(msg.Type, errMissingField("settings"))
			return
		}
		// The settings-updated broadcast reaches the owner too, so a
		// successful call needs no separate reply.
		if err := sm.UpdateSettings(c.id, *msg.Settings); err != nil {
			c.fail(msg.Type, err)
		}

	case "start-game":
		if err := sm.StartGame(c.id); err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply(StartAckMessage{
			Type:    "game-started-ack",
			Success: true,
		})

	case "word-seen":
		sm.WordSeen(c.id)

	case "get-speaking-order":
		order, err := sm.SpeakingOrder(c.id)
		if err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply(SpeakingOrderMessage{
			Type:  "speaking-order",
			Order: order,
		})

	case "create-offline-room":
		if len(msg.Players) == 0 {
			c.fail(msg.Type, errMissingField("players"))
			return
		}
		if msg.BaseURL == "" {
			c.fail(msg.Type, errMissingField("baseUrl"))
			return
		}
		code, issued, err := sm.CreateOfflineRoom(c.id, msg.Players, msg.BaseURL)
		if err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply(OfflineRoomCreatedMessage{
			Type:     "offline-room-created",
			RoomCode: code,
			Players:  issued,
		})

	case "claim-by-token":
		if msg.Token == "" {
			c.fail(msg.Type, errMissingField("token"))
			return
		}
		claimed, err := sm.Claim(c.id, msg.Token)
		if err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply(claimed)

	case "token-word-seen":
		if msg.Token == "" {
			return
		}
		sm.TokenWordSeen(msg.Token)

	case "reconnect-with-token":
		if msg.Token == "" {
			c.fail(msg.Type, errMissingField("token"))
			return
		}
		rebound, err := sm.Rebind(c.id, msg.Token)
		if err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply(rebound)

	case "update-round-tokens":
		if msg.RoomCode == "" {
			c.fail(msg.Type, errMissingField("roomCode"))
			return
		}
		if len(msg.Players) == 0 {
			c.fail(msg.Type, errMissingField("players"))
			return
		}
		if err := sm.UpdateRound(c.id, msg.RoomCode, msg.Players); err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply(RoundUpdatedMessage{
			Type:    "round-updated",
			Success: true,
		})

	case "close-offline-room":
		if msg.RoomCode == "" {
			c.fail(msg.Type, errMissingField("roomCode"))
			return
		}
		sm.CloseOfflineRoom(msg.RoomCode)

	default:
		// ignore unknown types
	}
}

// serveClaimQR re-renders the PNG QR image for a known claim token, so
// a facilitator can print a link again without reissuing anything.
func serveClaimQR(cfg *Config, sm *SessionManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := ps.ByName("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusBadRequest)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		link, ok := sm.claimLinkFor(scheme+"://"+r.Host+cfg.prefix, token)
		if !ok {
			http.Error(w, "unknown token", http.StatusNotFound)
			return
		}

		png, err := sm.encodeQR(link)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerGame wires the coordinator's routes: the websocket carrying
// the whole call set, and the claim-link QR endpoint.
func registerGame(cfg *Config, sm *SessionManager, mux *httprouter.Router) {
	reg := newConnRegistry()
	sm.notify = reg.notify

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, sm, reg))
	mux.GET(cfg.prefix+"/claim/:token/qr", serveClaimQR(cfg, sm))
}
