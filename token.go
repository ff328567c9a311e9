package main

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
)

// ClaimToken is the per-player capability for hybrid mode: an opaque
// link-borne secret that stands in for a live connection. Tokens are
// minted once per room and updated in place across rounds, so a link
// handed out on paper stays valid for the whole session. A token never
// outlives its room.
type ClaimToken struct {
	Token           string
	RoomCode        string
	PlayerName      string
	Word            string
	Role            Role
	HasAcknowledged bool
	BoundConnID     string
}

const tokenBytes = 16

// newClaimToken mints a fixed-length opaque token. 128 bits of
// crypto/rand keeps link enumeration infeasible.
func newClaimToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// claimLink builds the URL distributed to one player.
func claimLink(baseURL, token string) string {
	return strings.TrimSuffix(baseURL, "/") + "/word?t=" + token
}

func defaultQREncoder(url string) ([]byte, error) {
	return qrcode.Encode(url, qrcode.Medium, 320)
}

// IssuedToken is one entry of a batch issue: the claim link rendered
// as an image, or a per-item failure marker when encoding failed. The
// token itself is always minted; an encode failure never drops the
// player.
type IssuedToken struct {
	Name    string `json:"name"`
	Token   string `json:"token"`
	Link    string `json:"link"`
	QRImage []byte `json:"qrImage,omitempty"`
	QRError string `json:"qrError,omitempty"`
}

// CreateOfflineRoom opens a hybrid room with pre-declared players and
// mints one claim token per player. All image encodes run before the
// registries are touched, so the room and its full token batch appear
// atomically; the call returns only after every encode was attempted.
func (sm *SessionManager) CreateOfflineRoom(connID string, players []RoundPlayer, baseURL string) (string, []IssuedToken, error) {
	if len(players) == 0 {
		return "", nil, ErrBadSettings
	}

	issued := make([]IssuedToken, 0, len(players))
	for _, p := range players {
		token := newClaimToken()
		entry := IssuedToken{
			Name:  p.Name,
			Token: token,
			Link:  claimLink(baseURL, token),
		}

		img, err := sm.encodeQR(entry.Link)
		if err != nil {
			entry.QRError = err.Error()
			logf(sm.cfg, "TOKENS: qr encode failed for %q: %v", p.Name, err)
		} else {
			entry.QRImage = img
		}

		issued = append(issued, entry)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	room := &Room{
		Code:        sm.newRoomCode(),
		Mode:        ModeHybrid,
		OwnerConnID: connID,
		Status:      StatusRevealing,
		CreatedAt:   time.Now(),
	}

	for i, p := range players {
		room.Players = append(room.Players, &Player{
			Name: p.Name,
			Role: p.Role,
			Word: p.Word,
		})
		sm.tokens[issued[i].Token] = &ClaimToken{
			Token:      issued[i].Token,
			RoomCode:   room.Code,
			PlayerName: p.Name,
			Word:       p.Word,
			Role:       p.Role,
		}
	}

	sm.rooms[room.Code] = room
	sm.conns[connID] = room.Code

	logf(sm.cfg, "ROOMS: hybrid %s created with %d claim links", room.Code, len(players))

	return room.Code, issued, nil
}

// Claim binds the calling connection to a token and returns the
// secret. Repeat claims before acknowledgment are idempotent. Once the
// token has been acknowledged, the claim answers in reconnect shape
// without the secret: a later caller could be anyone holding a leaked
// link, and acknowledgment is the sole gate against re-exposure. The
// next round update pushes a fresh word to whoever is bound then.
func (sm *SessionManager) Claim(connID, token string) (TokenClaimedMessage, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	t, ok := sm.tokens[token]
	if !ok {
		return TokenClaimedMessage{}, ErrInvalidToken
	}

	t.BoundConnID = connID
	sm.conns[connID] = t.RoomCode

	if t.HasAcknowledged {
		return TokenClaimedMessage{
			Type:        "token-claimed",
			Reconnected: true,
			Waiting:     true,
			PlayerName:  t.PlayerName,
			RoomCode:    t.RoomCode,
		}, nil
	}

	logf(sm.cfg, "TOKENS: claimed by %q in %s", t.PlayerName, t.RoomCode)

	return TokenClaimedMessage{
		Type:       "token-claimed",
		PlayerName: t.PlayerName,
		RoomCode:   t.RoomCode,
		Word:       t.Word,
		Role:       t.Role,
	}, nil
}

// TokenWordSeen records a link holder's acknowledgment and pushes the
// running count to the room owner. Unknown tokens are a silent no-op.
func (sm *SessionManager) TokenWordSeen(token string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	t, ok := sm.tokens[token]
	if !ok {
		return
	}
	t.HasAcknowledged = true

	room, ok := sm.rooms[t.RoomCode]
	if !ok {
		return
	}
	if p := room.playerByName(t.PlayerName); p != nil {
		p.HasAcknowledged = true
	}

	logf(sm.cfg, "TOKENS: %q confirmed word seen in %s", t.PlayerName, t.RoomCode)

	sm.notifyOwner(room, RevealProgressMessage{
		Type:  "reveal-progress",
		Seen:  room.acknowledgedCount(),
		Total: len(room.Players),
	})
}

// Rebind reattaches a connection to its token without re-exposing the
// secret; the caller waits for the next round update.
func (sm *SessionManager) Rebind(connID, token string) (TokenReboundMessage, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	t, ok := sm.tokens[token]
	if !ok {
		return TokenReboundMessage{}, ErrInvalidToken
	}

	t.BoundConnID = connID
	sm.conns[connID] = t.RoomCode

	logf(sm.cfg, "TOKENS: %q rebound in %s", t.PlayerName, t.RoomCode)

	return TokenReboundMessage{
		Type:       "token-rebound",
		PlayerName: t.PlayerName,
		RoomCode:   t.RoomCode,
		Waiting:    true,
	}, nil
}

// UpdateRound overwrites every still-live token of the room with the
// new round's word and role, resets acknowledgments, and pushes the
// new secret to currently bound connections. Token strings are never
// reissued; distributed links stay valid.
func (sm *SessionManager) UpdateRound(connID, roomCode string, players []RoundPlayer) error {
	roomCode = strings.ToUpper(roomCode)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	room, ok := sm.rooms[roomCode]
	if !ok {
		return ErrRoomNotFound
	}
	if room.OwnerConnID != connID {
		return ErrNotAuthorized
	}

	for _, np := range players {
		var t *ClaimToken
		for _, candidate := range sm.tokens {
			if candidate.RoomCode == roomCode && strings.EqualFold(candidate.PlayerName, np.Name) {
				t = candidate
				break
			}
		}
		if t == nil {
			continue
		}

		t.Word = np.Word
		t.Role = np.Role
		t.HasAcknowledged = false

		if p := room.playerByName(np.Name); p != nil {
			p.Word = np.Word
			p.Role = np.Role
			p.HasAcknowledged = false
		}

		if t.BoundConnID != "" {
			sm.notify(t.BoundConnID, NewRoundWordMessage{
				Type: "new-round-word",
				Word: np.Word,
				Role: np.Role,
			})
		}
	}

	logf(sm.cfg, "ROOMS: round updated for %s", roomCode)

	return nil
}

// CloseOfflineRoom ends a hybrid session: connected parties hear
// room-closed, then the room and all of its tokens are revoked in one
// step. Unknown codes are a no-op.
func (sm *SessionManager) CloseOfflineRoom(roomCode string) {
	roomCode = strings.ToUpper(roomCode)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	room, ok := sm.rooms[roomCode]
	if !ok {
		return
	}

	sm.broadcast(room, RoomClosedMessage{
		Type:   "room-closed",
		Reason: "Session ended",
	})
	room.setStatus(StatusClosed)
	sm.deleteRoomLocked(room)

	logf(sm.cfg, "ROOMS: hybrid %s closed, tokens revoked", roomCode)
}

// claimLinkFor rebuilds the claim link for a known token so its QR
// image can be re-rendered. Returns false for unknown tokens.
func (sm *SessionManager) claimLinkFor(baseURL, token string) (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.tokens[token]; !ok {
		return "", false
	}
	return claimLink(baseURL, token), true
}
