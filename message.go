package main

// ClientMessage is the single inbound envelope. The Type field selects
// the call; the transport validates the fields that call requires
// before anything touches registry state.
type ClientMessage struct {
	Type string `json:"type"` // see dispatch in socket.go

	HostName   string        `json:"hostName,omitempty"`   // create-room
	Settings   *RoomSettings `json:"settings,omitempty"`   // create-room / update-settings
	RoomCode   string        `json:"roomCode,omitempty"`   // join-room / update-round-tokens / close-offline-room
	PlayerName string        `json:"playerName,omitempty"` // join-room
	Players    []RoundPlayer `json:"players,omitempty"`    // create-offline-room / update-round-tokens
	BaseURL    string        `json:"baseUrl,omitempty"`    // create-offline-room
	Token      string        `json:"token,omitempty"`      // claim-by-token / token-word-seen / reconnect-with-token
}

// RoundPlayer is one facilitator-declared player for a hybrid round:
// name, role, and the secret word (empty for wildcards).
type RoundPlayer struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
	Word string `json:"word"`
}

// ErrorMessage answers any failed call on the requesting connection.
type ErrorMessage struct {
	Type    string `json:"type"`    // "error"
	Request string `json:"request"` // inbound type that failed
	Error   string `json:"error"`
}

type RoomCreatedMessage struct {
	Type     string   `json:"type"` // "room-created"
	RoomCode string   `json:"roomCode"`
	Room     SafeRoom `json:"room"`
}

type RoomJoinedMessage struct {
	Type string   `json:"type"` // "room-joined"
	Room SafeRoom `json:"room"`
}

type PlayerJoinedMessage struct {
	Type         string       `json:"type"` // "player-joined"
	Player       SafePlayer   `json:"player"`
	Players      []SafePlayer `json:"players"`
	TotalPlayers int          `json:"totalPlayers"`
}

type PlayerLeftMessage struct {
	Type    string       `json:"type"` // "player-left"
	Player  SafePlayer   `json:"player"`
	Players []SafePlayer `json:"players"`
}

type SettingsUpdatedMessage struct {
	Type     string       `json:"type"` // "settings-updated"
	Settings RoomSettings `json:"settings"`
}

type GameStartedMessage struct {
	Type    string       `json:"type"` // "game-started"
	Players []SafePlayer `json:"players"`
}

type StartAckMessage struct {
	Type    string `json:"type"` // "game-started-ack"
	Success bool   `json:"success"`
}

// YourWordMessage is pushed privately to exactly one connection.
// Wildcards receive a role but no word.
type YourWordMessage struct {
	Type string `json:"type"` // "your-word"
	Word string `json:"word,omitempty"`
	Role Role   `json:"role"`
}

type RevealProgressMessage struct {
	Type  string `json:"type"` // "reveal-progress"
	Seen  int    `json:"seen"`
	Total int    `json:"total"`
}

type AllWordsSeenMessage struct {
	Type string `json:"type"` // "all-words-seen"
}

type SpeakingOrderMessage struct {
	Type  string   `json:"type"` // "speaking-order"
	Order []string `json:"order"`
}

type OfflineRoomCreatedMessage struct {
	Type     string        `json:"type"` // "offline-room-created"
	RoomCode string        `json:"roomCode"`
	Players  []IssuedToken `json:"players"`
}

// TokenClaimedMessage answers claim-by-token. After the token has been
// acknowledged once, the claim answers in reconnect shape: Reconnected
// and Waiting set, no word, no role.
type TokenClaimedMessage struct {
	Type        string `json:"type"` // "token-claimed"
	Reconnected bool   `json:"reconnected,omitempty"`
	Waiting     bool   `json:"waiting,omitempty"`
	PlayerName  string `json:"playerName"`
	RoomCode    string `json:"roomCode"`
	Word        string `json:"word,omitempty"`
	Role        Role   `json:"role,omitempty"`
}

type TokenReboundMessage struct {
	Type       string `json:"type"` // "token-rebound"
	PlayerName string `json:"playerName"`
	RoomCode   string `json:"roomCode"`
	Waiting    bool   `json:"waiting"`
}

// NewRoundWordMessage is pushed privately to a bound connection when
// its token is rewritten for a new round.
type NewRoundWordMessage struct {
	Type string `json:"type"` // "new-round-word"
	Word string `json:"word,omitempty"`
	Role Role   `json:"role"`
}

type RoundUpdatedMessage struct {
	Type    string `json:"type"` // "round-updated"
	Success bool   `json:"success"`
}

type RoomClosedMessage struct {
	Type   string `json:"type"` // "room-closed"
	Reason string `json:"reason"`
}
