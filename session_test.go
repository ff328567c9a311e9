package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type notification struct {
	connID string
	msg    any
}

// eventLog stands in for the websocket layer's notify primitive,
// recording every push the session manager makes.
type eventLog struct {
	events []notification
}

func (l *eventLog) record(connID string, msg any) {
	l.events = append(l.events, notification{connID: connID, msg: msg})
}

func (l *eventLog) reset() {
	l.events = nil
}

// messagesTo returns every recorded push of type T sent to connID.
func messagesTo[T any](l *eventLog, connID string) []T {
	var out []T
	for _, n := range l.events {
		if n.connID != connID {
			continue
		}
		if msg, ok := n.msg.(T); ok {
			out = append(out, msg)
		}
	}
	return out
}

// messagesOf returns every recorded push of type T regardless of target.
func messagesOf[T any](l *eventLog) []T {
	var out []T
	for _, n := range l.events {
		if msg, ok := n.msg.(T); ok {
			out = append(out, msg)
		}
	}
	return out
}

func newTestManager() (*SessionManager, *eventLog) {
	cfg := &Config{
		roomRetention: 24 * time.Hour,
		sweepInterval: time.Minute,
	}

	sm := newSessionManager(cfg)

	log := &eventLog{}
	sm.notify = log.record
	sm.wordPairs = func() (WordPair, error) {
		return WordPair{MajorityWord: "Apple", MinorityWord: "Orange"}, nil
	}
	sm.encodeQR = func(url string) ([]byte, error) {
		return []byte("png:" + url), nil
	}

	return sm, log
}

// seatPlayers creates an online room owned by connection "owner" and
// joins the given players on connections "conn-0", "conn-1", ...
func seatPlayers(t *testing.T, sm *SessionManager, settings RoomSettings, players ...string) string {
	t.Helper()

	room, err := sm.CreateRoom("owner", "Host", settings)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	for i, name := range players {
		if _, err := sm.JoinRoom(fmt.Sprintf("conn-%d", i), room.Code, name); err != nil {
			t.Fatalf("JoinRoom(%q): %v", name, err)
		}
	}

	return room.Code
}

func TestCreateRoomValidatesSettings(t *testing.T) {
	t.Parallel()

	sm, _ := newTestManager()

	if _, err := sm.CreateRoom("owner", "Host", RoomSettings{TotalPlayers: 4, MinorityCount: 2, WildcardCount: 1}); !errors.Is(err, ErrBadSettings) {
		t.Errorf("CreateRoom with majority below two: got %v, want ErrBadSettings", err)
	}

	room, err := sm.CreateRoom("owner", "Host", RoomSettings{})
	if err != nil {
		t.Fatalf("CreateRoom with defaults: %v", err)
	}
	want := RoomSettings{TotalPlayers: 4, MinorityCount: 1}
	if room.Settings != want {
		t.Errorf("default settings: got %+v, want %+v", room.Settings, want)
	}
	if room.Status != StatusWaiting {
		t.Errorf("new room status: got %q, want %q", room.Status, StatusWaiting)
	}
}

func TestJoinRoomErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(sm *SessionManager) string
		join    string
		wantErr error
	}{
		{
			name:    "unknown code",
			setup:   func(sm *SessionManager) string { return "ZZZZ" },
			join:    "Ann",
			wantErr: ErrRoomNotFound,
		},
		{
			name: "name taken case-insensitively",
			setup: func(sm *SessionManager) string {
				room, _ := sm.CreateRoom("owner", "Host", RoomSettings{})
				_, _ = sm.JoinRoom("conn-0", room.Code, "Ann")
				return room.Code
			},
			join:    "aNN",
			wantErr: ErrNameTaken,
		},
		{
			name: "owner name taken",
			setup: func(sm *SessionManager) string {
				room, _ := sm.CreateRoom("owner", "Host", RoomSettings{})
				return room.Code
			},
			join:    "host",
			wantErr: ErrNameTaken,
		},
		{
			name: "room full",
			setup: func(sm *SessionManager) string {
				room, _ := sm.CreateRoom("owner", "Host", RoomSettings{TotalPlayers: 3, MinorityCount: 1})
				_, _ = sm.JoinRoom("conn-0", room.Code, "Ann")
				_, _ = sm.JoinRoom("conn-1", room.Code, "Ben")
				return room.Code
			},
			join:    "Cleo",
			wantErr: ErrRoomFull,
		},
		{
			name: "game already started",
			setup: func(sm *SessionManager) string {
				room, _ := sm.CreateRoom("owner", "Host", RoomSettings{})
				_, _ = sm.JoinRoom("conn-0", room.Code, "Ann")
				_, _ = sm.JoinRoom("conn-1", room.Code, "Ben")
				_ = sm.StartGame("owner")
				return room.Code
			},
			join:    "Cleo",
			wantErr: ErrGameStarted,
		},
		{
			name: "hybrid room over the online path",
			setup: func(sm *SessionManager) string {
				code, _, _ := sm.CreateOfflineRoom("owner", []RoundPlayer{{Name: "Ann", Role: RoleMajority, Word: "Cat"}}, "https://game.example")
				return code
			},
			join:    "Ben",
			wantErr: ErrHybridRoom,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			sm, _ := newTestManager()
			code := test.setup(sm)

			if _, err := sm.JoinRoom("joiner", code, test.join); !errors.Is(err, test.wantErr) {
				t.Errorf("JoinRoom: got %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestJoinRoomNormalizesCode(t *testing.T) {
	t.Parallel()

	sm, _ := newTestManager()

	room, err := sm.CreateRoom("owner", "Host", RoomSettings{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if _, err := sm.JoinRoom("conn-0", strings.ToLower(room.Code), "Ann"); err != nil {
		t.Fatalf("JoinRoom lowercased: %v", err)
	}
}

func TestStartGameDealsRound(t *testing.T) {
	t.Parallel()

	sm, log := newTestManager()
	code := seatPlayers(t, sm, RoomSettings{TotalPlayers: 7, MinorityCount: 2, WildcardCount: 1},
		"Ann", "Ben", "Cleo", "Dmitri", "Elif", "Farid")

	if err := sm.StartGame("owner"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	room := sm.rooms[code]
	if room.Status != StatusRevealing {
		t.Errorf("status: got %q, want %q", room.Status, StatusRevealing)
	}
	if room.RevealTotal != 7 {
		t.Errorf("reveal denominator: got %d, want 7", room.RevealTotal)
	}

	if got := len(messagesOf[GameStartedMessage](log)); got != 7 {
		t.Errorf("game-started fan-out: got %d recipients, want 7", got)
	}

	var majority, minority, wildcard int
	for _, p := range room.Players {
		words := messagesTo[YourWordMessage](log, p.ConnectionID)
		if len(words) != 1 {
			t.Fatalf("your-word pushes to %q: got %d, want 1", p.Name, len(words))
		}

		switch words[0].Role {
		case RoleMajority:
			majority++
			if words[0].Word != "Apple" {
				t.Errorf("majority word: got %q, want Apple", words[0].Word)
			}
		case RoleMinority:
			minority++
			if words[0].Word != "Orange" {
				t.Errorf("minority word: got %q, want Orange", words[0].Word)
			}
		case RoleWildcard:
			wildcard++
			if words[0].Word != "" {
				t.Errorf("wildcard word: got %q, want none", words[0].Word)
			}
		}
	}

	if majority != 4 || minority != 2 || wildcard != 1 {
		t.Errorf("role split: got %d/%d/%d, want 4/2/1", majority, minority, wildcard)
	}
}

func TestStartGameErrors(t *testing.T) {
	t.Parallel()

	sm, _ := newTestManager()
	seatPlayers(t, sm, RoomSettings{}, "Ann", "Ben")

	if err := sm.StartGame("conn-0"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("non-owner start: got %v, want ErrNotAuthorized", err)
	}
	if err := sm.StartGame("stranger"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("unattached start: got %v, want ErrRoomNotFound", err)
	}
	if err := sm.StartGame("owner"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if err := sm.StartGame("owner"); !errors.Is(err, ErrGameStarted) {
		t.Errorf("double start: got %v, want ErrGameStarted", err)
	}
}

func TestStartGameNeedsThreePlayers(t *testing.T) {
	t.Parallel()

	sm, _ := newTestManager()
	seatPlayers(t, sm, RoomSettings{}, "Ann")

	if err := sm.StartGame("owner"); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Errorf("two-player start: got %v, want ErrNotEnoughPlayers", err)
	}
}

func TestStartGameFallsBackOnProviderFailure(t *testing.T) {
	t.Parallel()

	sm, log := newTestManager()
	sm.wordPairs = func() (WordPair, error) {
		return WordPair{}, errors.New("upstream down")
	}

	code := seatPlayers(t, sm, RoomSettings{}, "Ann", "Ben", "Cleo")

	if err := sm.StartGame("owner"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	room := sm.rooms[code]
	found := false
	for _, pair := range fallbackWordPairs {
		if *room.Words == pair {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("round words %+v not from fallback list", *room.Words)
	}

	if got := len(messagesOf[YourWordMessage](log)); got != 4 {
		t.Errorf("your-word pushes: got %d, want 4", got)
	}
}

func TestRevealTransitionFiresOnce(t *testing.T) {
	t.Parallel()

	sm, log := newTestManager()
	code := seatPlayers(t, sm, RoomSettings{}, "Ann", "Ben", "Cleo")

	if err := sm.StartGame("owner"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	log.reset()

	conns := []string{"owner", "conn-0", "conn-1", "conn-2"}
	for i, connID := range conns[:3] {
		sm.WordSeen(connID)

		progress := messagesTo[RevealProgressMessage](log, "owner")
		if len(progress) != i+1 {
			t.Fatalf("reveal-progress pushes after %d acks: got %d", i+1, len(progress))
		}
		last := progress[len(progress)-1]
		if last.Seen != i+1 || last.Total != 4 {
			t.Errorf("reveal-progress: got %d/%d, want %d/4", last.Seen, last.Total, i+1)
		}
	}

	if sm.rooms[code].Status != StatusRevealing {
		t.Fatalf("room advanced before final acknowledgment")
	}
	if got := len(messagesOf[AllWordsSeenMessage](log)); got != 0 {
		t.Fatalf("all-words-seen fired early: %d events", got)
	}

	// The fourth distinct acknowledgment completes the round.
	sm.WordSeen(conns[3])

	if got := sm.rooms[code].Status; got != StatusPlaying {
		t.Errorf("status after final ack: got %q, want %q", got, StatusPlaying)
	}
	if got := len(messagesOf[AllWordsSeenMessage](log)); got != 4 {
		t.Errorf("all-words-seen fan-out: got %d recipients, want 4", got)
	}

	// A duplicate acknowledgment is a no-op and must not re-fire.
	sm.WordSeen(conns[3])

	if got := len(messagesOf[AllWordsSeenMessage](log)); got != 4 {
		t.Errorf("duplicate ack re-fired transition: %d events", got)
	}
}

func TestRevealProgressGoesToOwnerOnly(t *testing.T) {
	t.Parallel()

	sm, log := newTestManager()
	seatPlayers(t, sm, RoomSettings{}, "Ann", "Ben", "Cleo")

	if err := sm.StartGame("owner"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	log.reset()

	sm.WordSeen("conn-0")

	for _, n := range log.events {
		if _, ok := n.msg.(RevealProgressMessage); ok && n.connID != "owner" {
			t.Errorf("reveal-progress leaked to %q", n.connID)
		}
	}
}

func TestDisconnectBeforeAckStallsReveal(t *testing.T) {
	t.Parallel()

	sm, log := newTestManager()
	code := seatPlayers(t, sm, RoomSettings{}, "Ann", "Ben", "Cleo")

	if err := sm.StartGame("owner"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	log.reset()

	sm.WordSeen("owner")
	sm.WordSeen("conn-0")
	sm.WordSeen("conn-1")
	sm.Disconnect("conn-2")

	// The denominator was frozen at round start; the departed player's
	// missing acknowledgment keeps the round in revealing.
	if got := sm.rooms[code].Status; got != StatusRevealing {
		t.Errorf("status after unacknowledged departure: got %q, want %q", got, StatusRevealing)
	}
	if got := len(messagesOf[AllWordsSeenMessage](log)); got != 0 {
		t.Errorf("all-words-seen fired despite missing acknowledgment: %d events", got)
	}
}

func TestOwnerLeaveClosesRoom(t *testing.T) {
	t.Parallel()

	sm, log := newTestManager()
	code := seatPlayers(t, sm, RoomSettings{}, "Ann", "Ben")
	log.reset()

	sm.Disconnect("owner")

	if _, ok := sm.rooms[code]; ok {
		t.Error("room survived owner departure")
	}
	if got := len(messagesOf[RoomClosedMessage](log)); got != 2 {
		t.Errorf("room-closed fan-out: got %d recipients, want 2", got)
	}
	if _, err := sm.JoinRoom("latecomer", code, "Cleo"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("join after close: got %v, want ErrRoomNotFound", err)
	}
}

func TestPlayerLeaveBroadcastsRosterDelta(t *testing.T) {
	t.Parallel()

	sm, log := newTestManager()
	code := seatPlayers(t, sm, RoomSettings{}, "Ann", "Ben")
	log.reset()

	sm.Disconnect("conn-0")

	left := messagesOf[PlayerLeftMessage](log)
	if len(left) == 0 {
		t.Fatal("no player-left broadcast")
	}
	if left[0].Player.Name != "Ann" {
		t.Errorf("departed player: got %q, want Ann", left[0].Player.Name)
	}
	if len(left[0].Players) != 2 {
		t.Errorf("remaining roster: got %d, want 2", len(left[0].Players))
	}
	if len(sm.rooms[code].Players) != 2 {
		t.Errorf("roster size: got %d, want 2", len(sm.rooms[code].Players))
	}
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()

	sm, log := newTestManager()
	seatPlayers(t, sm, RoomSettings{}, "Ann", "Ben")
	log.reset()

	if err := sm.UpdateSettings("conn-0", RoomSettings{TotalPlayers: 6, MinorityCount: 2}); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("non-owner update: got %v, want ErrNotAuthorized", err)
	}
	if err := sm.UpdateSettings("owner", RoomSettings{TotalPlayers: 4, MinorityCount: 2, WildcardCount: 1}); !errors.Is(err, ErrBadSettings) {
		t.Errorf("invalid update: got %v, want ErrBadSettings", err)
	}
	if err := sm.UpdateSettings("owner", RoomSettings{TotalPlayers: 2, MinorityCount: 0}); !errors.Is(err, ErrRoomFull) {
		t.Errorf("shrink below roster: got %v, want ErrRoomFull", err)
	}

	if err := sm.UpdateSettings("owner", RoomSettings{TotalPlayers: 5, MinorityCount: 1}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	updated := messagesOf[SettingsUpdatedMessage](log)
	if len(updated) != 3 {
		t.Errorf("settings-updated fan-out: got %d recipients, want 3", len(updated))
	}

	if err := sm.StartGame("owner"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if err := sm.UpdateSettings("owner", RoomSettings{TotalPlayers: 6, MinorityCount: 1}); !errors.Is(err, ErrGameStarted) {
		t.Errorf("update after start: got %v, want ErrGameStarted", err)
	}
}

func TestSpeakingOrder(t *testing.T) {
	t.Parallel()

	sm, _ := newTestManager()
	seatPlayers(t, sm, RoomSettings{}, "Ann", "Ben", "Cleo")

	order, err := sm.SpeakingOrder("conn-1")
	if err != nil {
		t.Fatalf("SpeakingOrder: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("order length: got %d, want 4", len(order))
	}

	seen := make(map[string]bool, len(order))
	for _, name := range order {
		seen[name] = true
	}
	for _, name := range []string{"Host", "Ann", "Ben", "Cleo"} {
		if !seen[name] {
			t.Errorf("name %q missing from speaking order", name)
		}
	}

	if _, err := sm.SpeakingOrder("stranger"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("unattached request: got %v, want ErrRoomNotFound", err)
	}
}
