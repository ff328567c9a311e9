package main

import (
	"crypto/rand"
	"strings"
	"time"
)

// RoomMode distinguishes live multiplayer rooms from facilitator-led
// hybrid rooms, where secrets travel over individually claimable links
// instead of per-player connections.
type RoomMode string

const (
	ModeOnline RoomMode = "online"
	ModeHybrid RoomMode = "hybrid"
)

// RoomStatus is monotonic within a round. Hybrid rooms are created at
// StatusRevealing and only ever move to StatusClosed; round progression
// there is driven by token updates, not by status.
type RoomStatus string

const (
	StatusWaiting   RoomStatus = "waiting"
	StatusRevealing RoomStatus = "revealing"
	StatusPlaying   RoomStatus = "playing"
	StatusClosed    RoomStatus = "closed"
)

func (s RoomStatus) canTransitionTo(target RoomStatus) bool {
	allowed := map[RoomStatus][]RoomStatus{
		StatusWaiting:   {StatusRevealing, StatusClosed},
		StatusRevealing: {StatusPlaying, StatusClosed},
		StatusPlaying:   {StatusClosed},
	}

	for _, next := range allowed[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Role is the category deciding which secret word, if any, a player
// holds. The zero value means no round has been dealt yet.
type Role string

const (
	RoleMajority Role = "majority"
	RoleMinority Role = "minority"
	RoleWildcard Role = "wildcard"
)

type RoomSettings struct {
	TotalPlayers  int `json:"totalPlayers"`
	MinorityCount int `json:"minorityCount"`
	WildcardCount int `json:"wildcardCount"`
}

// validate rejects settings whose majority remainder drops below two.
// Assignment trusts this invariant and never re-checks it.
func (s RoomSettings) validate() error {
	if s.MinorityCount < 0 || s.WildcardCount < 0 {
		return ErrBadSettings
	}
	if s.TotalPlayers-s.MinorityCount-s.WildcardCount < 2 {
		return ErrBadSettings
	}
	return nil
}

type Player struct {
	ConnectionID    string
	Name            string
	IsOwner         bool
	Role            Role
	Word            string
	HasAcknowledged bool
}

type Room struct {
	Code        string
	Mode        RoomMode
	OwnerConnID string
	OwnerName   string
	Settings    RoomSettings
	Players     []*Player
	Status      RoomStatus
	Words       *WordPair
	RevealTotal int // live player count frozen at round start
	CreatedAt   time.Time
}

// setStatus advances the room's status, refusing illegal transitions.
func (r *Room) setStatus(target RoomStatus) bool {
	if !r.Status.canTransitionTo(target) {
		return false
	}
	r.Status = target
	return true
}

func (r *Room) playerByConn(connID string) *Player {
	for _, p := range r.Players {
		if p.ConnectionID == connID {
			return p
		}
	}
	return nil
}

func (r *Room) playerByName(name string) *Player {
	for _, p := range r.Players {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

func (r *Room) hasName(name string) bool {
	return r.playerByName(name) != nil
}

func (r *Room) acknowledgedCount() int {
	count := 0
	for _, p := range r.Players {
		if p.HasAcknowledged {
			count++
		}
	}
	return count
}

// SafePlayer and SafeRoom are the projections handed to clients. They
// carry no word or role fields at all, so no projection path can leak
// another player's secret.
type SafePlayer struct {
	Name    string `json:"name"`
	IsOwner bool   `json:"isOwner"`
}

type SafeRoom struct {
	Code      string       `json:"code"`
	OwnerName string       `json:"ownerName"`
	Settings  RoomSettings `json:"settings"`
	Players   []SafePlayer `json:"players"`
	Status    RoomStatus   `json:"status"`
}

func (r *Room) safePlayers() []SafePlayer {
	players := make([]SafePlayer, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, SafePlayer{
			Name:    p.Name,
			IsOwner: p.IsOwner,
		})
	}
	return players
}

func (r *Room) safe() SafeRoom {
	return SafeRoom{
		Code:      r.Code,
		OwnerName: r.OwnerName,
		Settings:  r.Settings,
		Players:   r.safePlayers(),
		Status:    r.Status,
	}
}

// roomCodeAlphabet omits characters that read ambiguously on a shared
// screen. Its length evenly divides 256, so byte-modulo indexing stays
// uniform.
const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 4
)

func randomRoomCode() string {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	out := make([]byte, roomCodeLength)
	for i := range out {
		out[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
	}
	return string(out)
}
