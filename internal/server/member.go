package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-trivia/internal/stats"
	"github.com/npezzotti/go-trivia/internal/types"
	"github.com/teris-io/shortid"
)

// Frames above maxMessageSize close the connection. Chat text has its own,
// smaller limit that only drops the offending message.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBufferSize = 256
)

// Member is one connection bound to a room. It starts unverified and only
// reaches the room's member set after a successful join.
type Member struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	room     *Room
	log      *log.Logger
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once

	// only touched by the read loop
	verified bool
	// set once on the first successful join and never changed afterwards
	user types.User
}

func NewMember(conn *websocket.Conn, hub *Hub, room *Room, l *log.Logger) *Member {
	id, err := shortid.Generate()
	if err != nil {
		id = fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}

	return &Member{
		id:   id,
		conn: conn,
		hub:  hub,
		room: room,
		log:  l,
		send: make(chan *ServerMessage, sendBufferSize),
		stop: make(chan struct{}),
	}
}

// Identity is the verified username, empty until the member has joined.
func (m *Member) Identity() string {
	return m.user.Username
}

func (m *Member) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		m.conn.Close()
	}()

	for {
		select {
		case msg := <-m.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				m.log.Println("failed to serialize message:", err)
				continue
			}

			if !m.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-m.stop:
			m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			m.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !m.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (m *Member) Read() {
	defer func() {
		m.conn.Close()
		m.handleClose()
	}()

	m.conn.SetReadLimit(maxMessageSize)
	m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(appData string) error { m.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				m.log.Printf("ws: read %s: %v", m.id, err)
			}
			return
		}

		m.handleMessage(raw)
	}
}

// handleMessage decodes one inbound frame and dispatches it. Malformed frames
// are dropped without closing the connection.
func (m *Member) handleMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.log.Printf("member %s: error parsing message: %v", m.id, err)
		return
	}

	msg.member = m

	if msg.Type == TypeJoin {
		m.handleJoin(&msg)
		return
	}

	if !m.verified {
		return
	}

	m.room.deliver(&msg)
}

func (m *Member) handleJoin(msg *ClientMessage) {
	if m.verified {
		// already in the room, rejoining only repeats the acknowledgement
		m.room.join(m)
		return
	}

	user, err := m.hub.verifier.Verify(msg.Token)
	if err != nil {
		m.log.Printf("member %s: verify token: %v", m.id, err)
		m.queueMessage(NewAuthFailed("invalid token"))
		return
	}

	ok, err := m.hub.verifier.IsAuthorized(m.room.id, user)
	if err != nil {
		m.log.Printf("member %s: authorize %q for room %d: %v", m.id, user.Username, m.room.id, err)
		m.queueMessage(NewAuthFailed("could not verify group membership"))
		return
	}

	if !ok {
		m.log.Printf("member %s: %q is not a member of group %d", m.id, user.Username, m.room.id)
		m.queueMessage(NewAuthFailed("not a member of this group"))
		return
	}

	m.verified = true
	m.user = user
	m.hub.stats.Incr(stats.NumVerifiedMembers)
	m.room.join(m)
}

// handleClose takes the member out of its room. Scores stay keyed by the
// identity so a reconnect resumes where it left off.
func (m *Member) handleClose() {
	if m.verified {
		m.room.leave(m)
		m.hub.stats.Decr(stats.NumVerifiedMembers)
	}

	m.hub.removeClient(m)
	m.hub.releaseRoom(m.room)
	m.stopMember()
}

// queueMessage never blocks: a member that can't keep up loses the message.
func (m *Member) queueMessage(msg *ServerMessage) bool {
	select {
	case m.send <- msg:
	default:
		m.log.Printf("failed to send message to member %s, channel is full", m.id)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (m *Member) sendMessage(msgType int, msg []byte) bool {
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := m.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			m.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (m *Member) stopMember() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}
