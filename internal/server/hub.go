package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-trivia/internal/database"
	"github.com/npezzotti/go-trivia/internal/questions"
	"github.com/npezzotti/go-trivia/internal/stats"
	"github.com/npezzotti/go-trivia/internal/types"
)

type RoomKind string

const (
	ChatRoom   RoomKind = "chat"
	TriviaRoom RoomKind = "trivia"
)

// Verifier turns a join token into an identity and decides whether that
// identity may enter a room.
type Verifier interface {
	Verify(token string) (types.User, error)
	IsAuthorized(roomId int, user types.User) (bool, error)
}

type roomKey struct {
	kind RoomKind
	id   int
}

// Hub is the process wide room registry. Rooms are created on first
// reference and evicted once they have had no connections for idleTimeout.
type Hub struct {
	log         *log.Logger
	db          database.Repository
	verifier    Verifier
	questions   questions.Provider
	stats       stats.StatsProvider
	idleTimeout time.Duration

	rooms     map[roomKey]*Room
	roomsLock sync.Mutex

	clients     map[*Member]struct{}
	clientsLock sync.Mutex
}

func NewHub(logger *log.Logger, db database.Repository, verifier Verifier, provider questions.Provider, su stats.StatsProvider, idleTimeout time.Duration) (*Hub, error) {
	if idleTimeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive")
	}

	su.RegisterMetric(stats.NumActiveRooms)
	su.RegisterMetric(stats.NumActiveConnections)
	su.RegisterMetric(stats.NumVerifiedMembers)
	su.RegisterMetric(stats.NumGamesStarted)

	return &Hub{
		log:         logger,
		db:          db,
		verifier:    verifier,
		questions:   provider,
		stats:       su,
		idleTimeout: idleTimeout,
		rooms:       make(map[roomKey]*Room),
		clients:     make(map[*Member]struct{}),
	}, nil
}

// GetRoom returns the room for (kind, id), creating and starting it if this
// is the first reference.
func (h *Hub) GetRoom(kind RoomKind, id int) (*Room, error) {
	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	return h.getOrCreateRoomLocked(kind, id)
}

func (h *Hub) newBehavior(kind RoomKind) (roomBehavior, error) {
	switch kind {
	case ChatRoom:
		return newChatRoom(h.db), nil
	case TriviaRoom:
		return newTriviaGame(h.questions), nil
	default:
		return nil, fmt.Errorf("unknown room kind %q", kind)
	}
}

func (h *Hub) getOrCreateRoomLocked(kind RoomKind, id int) (*Room, error) {
	key := roomKey{kind: kind, id: id}
	if r, ok := h.rooms[key]; ok {
		return r, nil
	}

	behavior, err := h.newBehavior(kind)
	if err != nil {
		return nil, err
	}

	r := newRoom(kind, id, behavior, h.log, h.stats)
	// a room nobody attaches to is still evicted
	r.idleTimer = time.AfterFunc(h.idleTimeout, func() { h.evictRoom(r) })
	h.rooms[key] = r
	h.stats.Incr(stats.NumActiveRooms)

	go r.start()

	return r, nil
}

// acquireRoom attaches one more connection to the room, cancelling any
// pending eviction.
func (h *Hub) acquireRoom(kind RoomKind, id int) (*Room, error) {
	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	r, err := h.getOrCreateRoomLocked(kind, id)
	if err != nil {
		return nil, err
	}

	r.refs++
	r.idleTimer.Stop()

	return r, nil
}

func (h *Hub) releaseRoom(r *Room) {
	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	r.refs--
	if r.refs <= 0 {
		r.refs = 0
		r.log.Printf("no connections in %s room %d, evicting in %s", r.kind, r.id, h.idleTimeout)
		r.idleTimer.Reset(h.idleTimeout)
	}
}

func (h *Hub) evictRoom(r *Room) {
	h.roomsLock.Lock()
	key := roomKey{kind: r.kind, id: r.id}
	if r.refs > 0 || h.rooms[key] != r {
		h.roomsLock.Unlock()
		return
	}
	delete(h.rooms, key)
	h.roomsLock.Unlock()

	h.log.Printf("evicting idle %s room %d", r.kind, r.id)
	h.stats.Decr(stats.NumActiveRooms)
	r.stop()
}

// ServeMember binds an upgraded connection to a room and starts its pumps.
func (h *Hub) ServeMember(conn *websocket.Conn, kind RoomKind, roomId int) error {
	r, err := h.acquireRoom(kind, roomId)
	if err != nil {
		return err
	}

	m := NewMember(conn, h, r, h.log)
	h.addClient(m)

	go m.Write()
	go m.Read()

	return nil
}

func (h *Hub) addClient(m *Member) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	h.clients[m] = struct{}{}
	h.stats.Incr(stats.NumActiveConnections)
}

func (h *Hub) removeClient(m *Member) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if _, ok := h.clients[m]; !ok {
		return
	}

	delete(h.clients, m)
	h.stats.Decr(stats.NumActiveConnections)
}

// Shutdown closes every connection and stops every room.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Println("shutting down rooms")

	h.roomsLock.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for key, r := range h.rooms {
		r.idleTimer.Stop()
		rooms = append(rooms, r)
		delete(h.rooms, key)
		h.stats.Decr(stats.NumActiveRooms)
	}
	h.roomsLock.Unlock()

	h.clientsLock.Lock()
	for m := range h.clients {
		m.stopMember()
	}
	h.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		for _, r := range rooms {
			r.stop()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
