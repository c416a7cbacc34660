package server

import (
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/go-trivia/internal/database"
)

const maxChatTextLength = 4000

type chatRoom struct {
	db    database.Repository
	title string
}

func newChatRoom(db database.Repository) *chatRoom {
	return &chatRoom{db: db}
}

// join resolves the group title the first time anyone gets in and hands it
// out with every acknowledgement.
func (c *chatRoom) join(r *Room, m *Member, ack *ServerMessage) {
	if c.title == "" {
		group, err := c.db.GetGroup(r.id)
		if err != nil {
			r.log.Printf("chat room %d: get group: %v", r.id, err)
		} else {
			c.title = group.Name
		}
	}

	ack.Title = c.title
}

func (c *chatRoom) resync(*Room, *Member) {}

func (c *chatRoom) handle(r *Room, msg *ClientMessage) {
	switch msg.Type {
	case TypeChat:
		if strings.TrimSpace(msg.Text) == "" {
			return
		}
		if utf8.RuneCountInString(msg.Text) > maxChatTextLength {
			r.log.Printf("chat room %d: dropping %d character message from %q", r.id, utf8.RuneCountInString(msg.Text), msg.member.Identity())
			return
		}
		r.broadcast(NewChatMessage(msg.member.Identity(), msg.Text, msg.AvatarUrl))
	}
}

func (c *chatRoom) leave(*Room, *Member) {}
