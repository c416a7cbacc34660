package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-trivia/internal/stats"
)

// roomBehavior is the game logic plugged into a Room. Every method runs on
// the room's goroutine, so implementations keep their state unlocked.
type roomBehavior interface {
	// join runs after m entered the member set, before the ack is queued.
	join(r *Room, m *Member, ack *ServerMessage)
	// resync runs right after the ack has been queued to m.
	resync(r *Room, m *Member)
	handle(r *Room, msg *ClientMessage)
	// leave runs after m has been taken out of the member set.
	leave(r *Room, m *Member)
}

type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventMessage
)

// roomEvent is one unit of work for the room goroutine. Joins, leaves and
// client messages share a single queue so everything one connection sends
// is handled in the order it was sent.
type roomEvent struct {
	kind   eventKind
	member *Member
	msg    *ClientMessage
}

type Room struct {
	id       int
	kind     RoomKind
	log      *log.Logger
	stats    stats.StatsProvider
	behavior roomBehavior

	inbound chan roomEvent

	// owned by the room goroutine
	members map[*Member]struct{}
	userMap map[string]map[*Member]struct{}

	// ctx is canceled when the room exits and bounds outbound calls
	ctx      context.Context
	cancel   context.CancelFunc
	exit     chan struct{}
	exitOnce sync.Once
	done     chan struct{}

	// guarded by the hub's roomsLock
	refs      int
	idleTimer *time.Timer
}

func newRoom(kind RoomKind, id int, behavior roomBehavior, l *log.Logger, su stats.StatsProvider) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		id:       id,
		kind:     kind,
		log:      l,
		stats:    su,
		behavior: behavior,
		inbound:  make(chan roomEvent, 256),
		members:  make(map[*Member]struct{}),
		userMap:  make(map[string]map[*Member]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		exit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Room) Id() int {
	return r.id
}

func (r *Room) Kind() RoomKind {
	return r.kind
}

func (r *Room) start() {
	defer close(r.done)
	r.log.Printf("starting %s room %d", r.kind, r.id)

	for {
		select {
		case ev := <-r.inbound:
			r.handleEvent(ev)
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

// stop asks the room goroutine to exit and waits for it.
func (r *Room) stop() {
	r.exitOnce.Do(func() {
		close(r.exit)
	})
	<-r.done
}

func (r *Room) enqueue(ev roomEvent) {
	select {
	case r.inbound <- ev:
	case <-r.done:
	}
}

func (r *Room) join(m *Member) {
	r.enqueue(roomEvent{kind: eventJoin, member: m})
}

func (r *Room) leave(m *Member) {
	r.enqueue(roomEvent{kind: eventLeave, member: m})
}

func (r *Room) deliver(msg *ClientMessage) {
	r.enqueue(roomEvent{kind: eventMessage, member: msg.member, msg: msg})
}

func (r *Room) handleEvent(ev roomEvent) {
	switch ev.kind {
	case eventJoin:
		r.handleJoin(ev.member)
	case eventLeave:
		r.handleLeave(ev.member)
	case eventMessage:
		r.handleMessage(ev.msg)
	}
}

func (r *Room) handleJoin(m *Member) {
	if r.addMember(m) {
		r.log.Printf("%q joined %s room %d", m.Identity(), r.kind, r.id)
	}

	ack := NewAuthOK()
	r.behavior.join(r, m, ack)
	m.queueMessage(ack)
	r.behavior.resync(r, m)
}

func (r *Room) handleLeave(m *Member) {
	if !r.removeMember(m) {
		return
	}

	r.log.Printf("%q left %s room %d", m.Identity(), r.kind, r.id)
	r.behavior.leave(r, m)
}

func (r *Room) handleMessage(msg *ClientMessage) {
	if _, ok := r.members[msg.member]; !ok {
		return
	}

	r.behavior.handle(r, msg)
}

func (r *Room) handleRoomExit() {
	r.log.Printf("%s room %d is exiting", r.kind, r.id)
	r.cancel()

	for m := range r.members {
		m.stopMember()
	}
}

// addMember reports whether m was not already in the room.
func (r *Room) addMember(m *Member) bool {
	if _, ok := r.members[m]; ok {
		return false
	}

	r.members[m] = struct{}{}
	if r.userMap[m.Identity()] == nil {
		r.userMap[m.Identity()] = make(map[*Member]struct{})
	}
	r.userMap[m.Identity()][m] = struct{}{}

	return true
}

func (r *Room) removeMember(m *Member) bool {
	if _, ok := r.members[m]; !ok {
		return false
	}

	delete(r.members, m)
	if conns, ok := r.userMap[m.Identity()]; ok {
		delete(conns, m)
		if len(conns) == 0 {
			delete(r.userMap, m.Identity())
		}
	}

	return true
}

// memberCount is the number of distinct identities present, however many
// connections each of them holds.
func (r *Room) memberCount() int {
	return len(r.userMap)
}

func (r *Room) identities() []string {
	ids := make([]string, 0, len(r.userMap))
	for id := range r.userMap {
		ids = append(ids, id)
	}
	return ids
}

func (r *Room) broadcast(msg *ServerMessage) {
	for m := range r.members {
		m.queueMessage(msg)
	}
}
