package main

import (
	"context"
	"strings"
	"sync"
	"time"
)

// SessionManager exclusively owns the two process-wide registries:
// live rooms and hybrid-mode claim tokens. Every mutation runs as one
// atomic handler under a single mutex, and nothing blocks while
// holding it; anything that can stall (word-pair fetches, image
// encodes) happens outside the critical section. State lives for the
// process lifetime only — after a restart every token fails closed.
type SessionManager struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	tokens map[string]*ClaimToken

	// conns tracks which room each attached connection currently
	// belongs to, the way socket.io kept roomCode on the socket.
	conns map[string]string

	// notify delivers one message to one connection and must never
	// block; broadcast and notifyOwner are built on it, keeping the
	// registries independent of any particular transport.
	notify func(connID string, msg any)

	wordPairs WordPairProvider
	encodeQR  func(url string) ([]byte, error)

	cfg *Config
}

func newSessionManager(cfg *Config) *SessionManager {
	sm := &SessionManager{
		rooms:    make(map[string]*Room),
		tokens:   make(map[string]*ClaimToken),
		conns:    make(map[string]string),
		notify:   func(string, any) {},
		encodeQR: defaultQREncoder,
		cfg:      cfg,
	}

	if cfg.wordAPI != "" {
		sm.wordPairs = httpPairProvider(cfg.wordAPI)
	}

	return sm
}

// newRoomCode samples codes until one misses the live-room set.
// Caller holds sm.mu.
func (sm *SessionManager) newRoomCode() string {
	for {
		code := randomRoomCode()
		if _, exists := sm.rooms[code]; !exists {
			return code
		}
	}
}

func (sm *SessionManager) roomForConn(connID string) *Room {
	code, ok := sm.conns[connID]
	if !ok {
		return nil
	}
	return sm.rooms[code]
}

// deleteRoomLocked removes a room, every token referencing it, and
// every connection binding into it. Caller holds sm.mu.
func (sm *SessionManager) deleteRoomLocked(room *Room) {
	delete(sm.rooms, room.Code)

	for token, t := range sm.tokens {
		if t.RoomCode == room.Code {
			delete(sm.tokens, token)
		}
	}

	for connID, code := range sm.conns {
		if code == room.Code {
			delete(sm.conns, connID)
		}
	}
}

// broadcast fans one event out to every connected party in the room:
// each seated player in online mode, the owner plus every bound token
// holder in hybrid mode. Caller holds sm.mu.
func (sm *SessionManager) broadcast(room *Room, msg any) {
	if room.Mode == ModeHybrid {
		if room.OwnerConnID != "" {
			sm.notify(room.OwnerConnID, msg)
		}
		for _, t := range sm.tokens {
			if t.RoomCode == room.Code && t.BoundConnID != "" {
				sm.notify(t.BoundConnID, msg)
			}
		}
		return
	}

	for _, p := range room.Players {
		sm.notify(p.ConnectionID, msg)
	}
}

// notifyOwner pushes to the distinguished owner channel only.
// Caller holds sm.mu.
func (sm *SessionManager) notifyOwner(room *Room, msg any) {
	if room.OwnerConnID != "" {
		sm.notify(room.OwnerConnID, msg)
	}
}

func (sm *SessionManager) counts() (rooms, tokens int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return len(sm.rooms), len(sm.tokens)
}

// CreateRoom opens an online-mode room with the caller seated as
// owner. Unset settings take the historical defaults of 4 players with
// one aware-minority.
func (sm *SessionManager) CreateRoom(connID, ownerName string, settings RoomSettings) (SafeRoom, error) {
	if settings.TotalPlayers == 0 {
		settings.TotalPlayers = 4
	}
	if settings.MinorityCount == 0 {
		settings.MinorityCount = 1
	}
	if err := settings.validate(); err != nil {
		return SafeRoom{}, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	room := &Room{
		Code:        sm.newRoomCode(),
		Mode:        ModeOnline,
		OwnerConnID: connID,
		OwnerName:   ownerName,
		Settings:    settings,
		Status:      StatusWaiting,
		CreatedAt:   time.Now(),
		Players: []*Player{{
			ConnectionID: connID,
			Name:         ownerName,
			IsOwner:      true,
		}},
	}

	sm.rooms[room.Code] = room
	sm.conns[connID] = room.Code

	logf(sm.cfg, "ROOMS: %s created by %q", room.Code, ownerName)

	return room.safe(), nil
}

// JoinRoom seats a new player. Names are unique case-insensitively
// within the room; the projection returned never exposes secrets.
func (sm *SessionManager) JoinRoom(connID, code, name string) (SafeRoom, error) {
	code = strings.ToUpper(code)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	room, ok := sm.rooms[code]
	if !ok {
		return SafeRoom{}, ErrRoomNotFound
	}
	if room.Mode == ModeHybrid {
		return SafeRoom{}, ErrHybridRoom
	}
	if room.Status != StatusWaiting {
		return SafeRoom{}, ErrGameStarted
	}
	if len(room.Players) >= room.Settings.TotalPlayers {
		return SafeRoom{}, ErrRoomFull
	}
	if room.hasName(name) {
		return SafeRoom{}, ErrNameTaken
	}

	room.Players = append(room.Players, &Player{
		ConnectionID: connID,
		Name:         name,
	})
	sm.conns[connID] = code

	logf(sm.cfg, "ROOMS: %q joined %s", name, code)

	sm.broadcast(room, PlayerJoinedMessage{
		Type:         "player-joined",
		Player:       SafePlayer{Name: name},
		Players:      room.safePlayers(),
		TotalPlayers: room.Settings.TotalPlayers,
	})

	return room.safe(), nil
}

// UpdateSettings lets the owner adjust counts while the room is still
// waiting. Re-validated here so assignment can keep trusting the
// majority invariant.
func (sm *SessionManager) UpdateSettings(connID string, settings RoomSettings) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	room := sm.roomForConn(connID)
	if room == nil {
		return ErrRoomNotFound
	}
	if room.OwnerConnID != connID {
		return ErrNotAuthorized
	}
	if room.Status != StatusWaiting {
		return ErrGameStarted
	}
	if err := settings.validate(); err != nil {
		return err
	}
	if settings.TotalPlayers < len(room.Players) {
		return ErrRoomFull
	}

	room.Settings = settings

	sm.broadcast(room, SettingsUpdatedMessage{
		Type:     "settings-updated",
		Settings: settings,
	})

	return nil
}

// StartGame deals one round: fetch the word pair, partition roles, and
// push each player their word privately. The pair fetch may hit the
// network, so the lock is dropped around it and the room re-verified
// afterwards; the assignment itself runs under the lock against the
// live roster.
func (sm *SessionManager) StartGame(connID string) error {
	sm.mu.Lock()

	room := sm.roomForConn(connID)
	switch {
	case room == nil:
		sm.mu.Unlock()
		return ErrRoomNotFound
	case room.OwnerConnID != connID:
		sm.mu.Unlock()
		return ErrNotAuthorized
	case room.Status != StatusWaiting:
		sm.mu.Unlock()
		return ErrGameStarted
	case len(room.Players) < 3:
		sm.mu.Unlock()
		return ErrNotEnoughPlayers
	case len(room.Players)-room.Settings.MinorityCount-room.Settings.WildcardCount < 2:
		// Settings were validated against the table size; with fewer
		// players actually seated the majority could still fall below
		// two, so the invariant is re-established against the live
		// roster before assignment is allowed to trust it.
		sm.mu.Unlock()
		return ErrBadSettings
	}

	code := room.Code
	sm.mu.Unlock()

	words := sm.roundWords()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	room, ok := sm.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	if room.Status != StatusWaiting {
		return ErrGameStarted
	}
	// The roster may have changed while the pair was being fetched.
	if len(room.Players) < 3 {
		return ErrNotEnoughPlayers
	}
	if len(room.Players)-room.Settings.MinorityCount-room.Settings.WildcardCount < 2 {
		return ErrBadSettings
	}

	names := make([]string, 0, len(room.Players))
	for _, p := range room.Players {
		names = append(names, p.Name)
	}

	assignments := assignRoles(names, room.Settings, words)

	// Reorder the roster to the reshuffled assignment order so seating
	// position carries no role information.
	seated := make([]*Player, 0, len(assignments))
	for _, a := range assignments {
		p := room.playerByName(a.Name)
		p.Role = a.Role
		p.Word = a.Word
		p.HasAcknowledged = false
		seated = append(seated, p)
	}
	room.Players = seated
	room.Words = &words
	room.RevealTotal = len(room.Players)
	room.setStatus(StatusRevealing)

	logf(sm.cfg, "ROOMS: round started in %s with %d players", code, len(room.Players))

	sm.broadcast(room, GameStartedMessage{
		Type:    "game-started",
		Players: room.safePlayers(),
	})

	for _, p := range room.Players {
		sm.notify(p.ConnectionID, YourWordMessage{
			Type: "your-word",
			Word: p.Word,
			Role: p.Role,
		})
	}

	return nil
}

// roundWords picks the secret pair for a round, falling back silently
// to the built-in list when no upstream is configured or it fails.
// Called without sm.mu held.
func (sm *SessionManager) roundWords() WordPair {
	if sm.wordPairs != nil {
		pair, err := sm.wordPairs()
		if err == nil {
			return pair
		}
		logf(sm.cfg, "WORDS: upstream pair fetch failed, using fallback: %v", err)
	}
	return fallbackPair()
}

// WordSeen records the calling player's acknowledgment. The reveal
// denominator was frozen at round start; when every one of those
// acknowledgments is in, the room moves to playing exactly once. A
// player who leaves before acknowledging keeps the round in revealing —
// shrinking the denominator would change game semantics.
func (sm *SessionManager) WordSeen(connID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	room := sm.roomForConn(connID)
	if room == nil || room.Status != StatusRevealing {
		return
	}

	player := room.playerByConn(connID)
	if player == nil || player.HasAcknowledged {
		return
	}
	player.HasAcknowledged = true

	seen := room.acknowledgedCount()
	sm.notifyOwner(room, RevealProgressMessage{
		Type:  "reveal-progress",
		Seen:  seen,
		Total: room.RevealTotal,
	})

	if seen == room.RevealTotal && room.setStatus(StatusPlaying) {
		sm.broadcast(room, AllWordsSeenMessage{Type: "all-words-seen"})
	}
}

// SpeakingOrder hands any room member a fresh uniform ordering of the
// current names.
func (sm *SessionManager) SpeakingOrder(connID string) ([]string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	room := sm.roomForConn(connID)
	if room == nil {
		return nil, ErrRoomNotFound
	}

	names := make([]string, 0, len(room.Players))
	for _, p := range room.Players {
		names = append(names, p.Name)
	}

	return speakingOrder(names), nil
}

// Disconnect is not an error; it is input to the presence protocol.
// Tokens bound to the departing connection are unbound but kept, so
// their holders can rebind later. Online rooms lose the player: the
// owner leaving closes the room, the last player leaving deletes it.
func (sm *SessionManager) Disconnect(connID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, t := range sm.tokens {
		if t.BoundConnID == connID {
			t.BoundConnID = ""
		}
	}

	code, ok := sm.conns[connID]
	delete(sm.conns, connID)
	if !ok {
		return
	}

	room, ok := sm.rooms[code]
	if !ok {
		return
	}
	if room.Mode != ModeOnline {
		// A hybrid room outlives its facilitator's connection; the
		// expiry sweep owns its lifetime.
		return
	}

	idx := -1
	for i, p := range room.Players {
		if p.ConnectionID == connID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	player := room.Players[idx]
	room.Players = append(room.Players[:idx], room.Players[idx+1:]...)

	logf(sm.cfg, "ROOMS: %q left %s", player.Name, code)

	if player.IsOwner {
		sm.broadcast(room, RoomClosedMessage{
			Type:   "room-closed",
			Reason: "Host left the room",
		})
		room.setStatus(StatusClosed)
		sm.deleteRoomLocked(room)
		logf(sm.cfg, "ROOMS: %s closed (host left)", code)
		return
	}

	sm.broadcast(room, PlayerLeftMessage{
		Type:    "player-left",
		Player:  SafePlayer{Name: player.Name},
		Players: room.safePlayers(),
	})

	if len(room.Players) == 0 {
		sm.deleteRoomLocked(room)
		logf(sm.cfg, "ROOMS: %s deleted (empty)", code)
	}
}

// sweepExpired reclaims hybrid rooms older than the retention window,
// together with their tokens. Bound connections hear room-closed
// before deletion. Runs under the registry mutex, so an in-flight
// claim either completes before the sweep or fails afterwards — never
// against a room mid-deletion.
func (sm *SessionManager) sweepExpired(now time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cutoff := now.Add(-sm.cfg.roomRetention)

	for code, room := range sm.rooms {
		if room.Mode != ModeHybrid || !room.CreatedAt.Before(cutoff) {
			continue
		}

		sm.broadcast(room, RoomClosedMessage{
			Type:   "room-closed",
			Reason: "Session expired",
		})
		room.setStatus(StatusClosed)
		sm.deleteRoomLocked(room)

		logf(sm.cfg, "ROOMS: expired hybrid room %s reclaimed", code)
	}
}

func (sm *SessionManager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sm.cfg.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sm.sweepExpired(now)
		}
	}
}
