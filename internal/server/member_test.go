package server

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/npezzotti/go-trivia/internal/auth"
	"github.com/npezzotti/go-trivia/internal/database"
	"github.com/npezzotti/go-trivia/internal/questions"
	"github.com/npezzotti/go-trivia/internal/stats"
	"github.com/npezzotti/go-trivia/internal/testutil"
	"github.com/npezzotti/go-trivia/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newUnverifiedMember returns a member attached to a room that is not
// running, so the room's inbound channels can be inspected directly.
func newUnverifiedMember(t *testing.T, v Verifier, su stats.StatsProvider) *Member {
	h := &Hub{
		log:      testutil.TestLogger(t),
		verifier: v,
		stats:    su,
	}
	r := newTestRoom(t, TriviaRoom, &recordingBehavior{})

	return &Member{
		id:   "test",
		hub:  h,
		room: r,
		log:  testutil.TestLogger(t),
		send: make(chan *ServerMessage, sendBufferSize),
		stop: make(chan struct{}),
	}
}

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		m := &Member{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := m.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-m.send:
			assert.NotNil(t, msg, "expected a message to be sent to the member")
		default:
			t.Error("expected a message to be sent to the member, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		m := &Member{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		m.send <- &ServerMessage{}
		res := m.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	empty := Scores{}
	scores := Scores{"alice": 100}

	tcases := []struct {
		name     string
		msg      *ServerMessage
		expected string
	}{
		{
			name:     "auth failure",
			msg:      NewAuthFailed("invalid token"),
			expected: `{"type":"auth","result":false,"message":"invalid token"}`,
		},
		{
			name:     "auth success",
			msg:      NewAuthOK(),
			expected: `{"type":"auth","result":true}`,
		},
		{
			name:     "result with empty scores",
			msg:      NewResultMessage("Paris", &empty),
			expected: `{"type":"result","correctAnswer":"Paris","scores":{}}`,
		},
		{
			name:     "final",
			msg:      NewFinalMessage(&scores),
			expected: `{"type":"final","scores":{"alice":100}}`,
		},
		{
			name:     "next round",
			msg:      NewNextRoundMessage(2),
			expected: `{"type":"nextRound","round":2}`,
		},
		{
			name:     "idle game state",
			msg:      NewGameStateMessage(nil, "", &empty, 0, false),
			expected: `{"type":"gameState","scores":{},"round":0,"started":false}`,
		},
		{
			name: "question",
			msg: NewQuestionMessage(&QuestionView{
				Question: "Capital of France?",
				Answers:  []string{"Paris", "Lyon"},
				Category: "Geography",
			}),
			expected: `{"type":"question","question":{"question":"Capital of France?","answers":["Paris","Lyon"],"category":"Geography"}}`,
		},
		{
			name:     "chat",
			msg:      NewChatMessage("alice", "hello", "https://example.com/a.png"),
			expected: `{"type":"chat","username":"alice","text":"hello","avatarUrl":"https://example.com/a.png"}`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			bytes, err := serializeMessage(tc.msg)
			assert.NoError(t, err, "expected no error during serialization")
			assert.JSONEq(t, tc.expected, string(bytes))
		})
	}
}

func Test_stopMember(t *testing.T) {
	m := &Member{
		stop: make(chan struct{}),
	}

	m.stopMember()
	m.stopMember()

	assert.True(t, isClosed(m.stop), "expected stop channel to be closed")
}

func Test_handleMessage(t *testing.T) {
	t.Run("malformed json is dropped", func(t *testing.T) {
		m := newUnverifiedMember(t, &auth.MockVerifier{}, newTestStats())
		m.verified = true

		m.handleMessage([]byte("{not json"))
		assert.Empty(t, m.send, "expected nothing to be sent back")
		assert.Empty(t, m.room.inbound, "expected nothing to reach the room")
		assert.True(t, m.verified, "expected connection state to be untouched")
	})

	t.Run("unverified member is ignored", func(t *testing.T) {
		m := newUnverifiedMember(t, &auth.MockVerifier{}, newTestStats())

		m.handleMessage([]byte(`{"type":"start"}`))
		assert.Empty(t, m.room.inbound, "expected message from unverified member to be ignored")
		assert.Empty(t, m.send)
	})

	t.Run("verified member is forwarded", func(t *testing.T) {
		m := newUnverifiedMember(t, &auth.MockVerifier{}, newTestStats())
		m.verified = true
		m.user = types.User{Id: 1, Username: "alice"}

		m.handleMessage([]byte(`{"type":"answer","answer":"Paris"}`))
		evs := pendingEvents(m.room)
		if assert.Len(t, evs, 1, "expected message to be forwarded to the room") {
			assert.Equal(t, eventMessage, evs[0].kind)
			assert.Equal(t, TypeAnswer, evs[0].msg.Type)
			assert.Equal(t, "Paris", evs[0].msg.Answer)
			assert.Equal(t, m, evs[0].msg.member, "expected message to carry its member")
		}
	})
}

func Test_handleJoin(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}

	tcases := []struct {
		name       string
		setup      func(v *auth.MockVerifier)
		verified   bool
		authResult bool
		authMsg    string
	}{
		{
			name: "invalid token",
			setup: func(v *auth.MockVerifier) {
				v.On("Verify", "tok").Return(types.User{}, auth.ErrInvalidToken).Once()
			},
			verified:   false,
			authResult: false,
			authMsg:    "invalid token",
		},
		{
			name: "not a group member",
			setup: func(v *auth.MockVerifier) {
				v.On("Verify", "tok").Return(alice, nil).Once()
				v.On("IsAuthorized", 42, alice).Return(false, nil).Once()
			},
			verified:   false,
			authResult: false,
			authMsg:    "not a member of this group",
		},
		{
			name: "authorization lookup fails",
			setup: func(v *auth.MockVerifier) {
				v.On("Verify", "tok").Return(alice, nil).Once()
				v.On("IsAuthorized", 42, alice).Return(false, errors.New("db down")).Once()
			},
			verified:   false,
			authResult: false,
			authMsg:    "could not verify group membership",
		},
		{
			name: "success",
			setup: func(v *auth.MockVerifier) {
				v.On("Verify", "tok").Return(alice, nil).Once()
				v.On("IsAuthorized", 42, alice).Return(true, nil).Once()
			},
			verified: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			v := &auth.MockVerifier{}
			defer v.AssertExpectations(t)
			tc.setup(v)

			su := newTestStats()
			m := newUnverifiedMember(t, v, su)
			m.handleMessage([]byte(`{"type":"join","token":"tok"}`))

			assert.Equal(t, tc.verified, m.verified)

			if tc.verified {
				assert.Equal(t, "alice", m.Identity())
				assert.Empty(t, m.send, "expected the room to send the acknowledgement")
				evs := pendingEvents(m.room)
				if assert.Len(t, evs, 1, "expected member to be handed to the room") {
					assert.Equal(t, eventJoin, evs[0].kind)
					assert.Equal(t, m, evs[0].member)
				}
				su.AssertCalled(t, "Incr", stats.NumVerifiedMembers)
				return
			}

			assert.Empty(t, m.Identity(), "expected no identity on failed join")
			assert.Empty(t, m.room.inbound, "expected failed join to stay out of the room")
			msgs := drain(m)
			if assert.Len(t, msgs, 1) {
				assert.Equal(t, TypeAuth, msgs[0].Type)
				assert.Equal(t, tc.authResult, *msgs[0].Result)
				assert.Equal(t, tc.authMsg, msgs[0].Message)
			}
		})
	}
}

func Test_handleJoin_retryAfterFailure(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}
	v := &auth.MockVerifier{}
	defer v.AssertExpectations(t)
	v.On("Verify", "expired").Return(types.User{}, auth.ErrInvalidToken).Once()
	v.On("Verify", "fresh").Return(alice, nil).Once()
	v.On("IsAuthorized", 42, alice).Return(true, nil).Once()

	m := newUnverifiedMember(t, v, newTestStats())
	m.handleMessage([]byte(`{"type":"join","token":"expired"}`))
	assert.False(t, m.verified)

	m.handleMessage([]byte(`{"type":"join","token":"fresh"}`))
	assert.True(t, m.verified, "expected a later join to succeed")
}

func Test_handleJoin_alreadyVerified(t *testing.T) {
	v := &auth.MockVerifier{}
	defer v.AssertExpectations(t)

	m := newUnverifiedMember(t, v, newTestStats())
	m.verified = true
	m.user = types.User{Id: 1, Username: "alice"}

	m.handleMessage([]byte(`{"type":"join","token":"someone-elses-token"}`))

	v.AssertNotCalled(t, "Verify", mock.Anything)
	assert.Equal(t, "alice", m.Identity(), "expected identity to stay unchanged")
	evs := pendingEvents(m.room)
	if assert.Len(t, evs, 1, "expected the member to be handed to the room again") {
		assert.Equal(t, eventJoin, evs[0].kind)
	}
}

// waitFor reads m's queue until a message of msgType shows up, keeping
// everything seen along the way.
func waitFor(t *testing.T, m *Member, msgType string) *ServerMessage {
	t.Helper()
	var found *ServerMessage
	assert.Eventually(t, func() bool {
		found = lastOfType(drain(m), msgType)
		return found != nil
	}, time.Second, time.Millisecond, "timeout waiting for %q", msgType)
	return found
}

// newRunningMember returns a member whose room goroutine is live, as
// ServeMember would set it up.
func newRunningMember(t *testing.T, h *Hub, r *Room) *Member {
	m := NewMember(nil, h, r, h.log)
	h.addClient(m)
	return m
}

func newOrderingHub(t *testing.T) *Hub {
	v := &auth.MockVerifier{}
	v.On("Verify", "alice-token").Return(types.User{Id: 1, Username: "alice"}, nil)
	v.On("Verify", "bob-token").Return(types.User{Id: 2, Username: "bob"}, nil)
	v.On("IsAuthorized", mock.Anything, mock.Anything).Return(true, nil)

	p := &questions.MockProvider{}
	p.On("FetchQuestions", mock.Anything, questions.Easy).Return(testQuestions("easy", 5), nil)

	return newTestHub(t, &database.MockRepository{}, v, p, time.Minute)
}

func TestMember_joinThenCommandInOrder(t *testing.T) {
	h := newOrderingHub(t)

	for i := 1; i <= 50; i++ {
		t.Run(fmt.Sprintf("room %d", i), func(t *testing.T) {
			r, err := h.acquireRoom(TriviaRoom, i)
			if err != nil {
				t.Fatalf("acquire room: %v", err)
			}
			a := newRunningMember(t, h, r)

			// two frames back to back, as the read loop would hand them over
			a.handleMessage([]byte(`{"type":"join","token":"alice-token"}`))
			a.handleMessage([]byte(`{"type":"start"}`))

			q := waitFor(t, a, TypeQuestion)
			if assert.NotNil(t, q, "expected start right after join to take effect") {
				assert.Equal(t, "easy question 1", q.Question.Question)
			}
		})
	}
}

func TestMember_joinThenAnswerInOrder(t *testing.T) {
	h := newOrderingHub(t)

	for i := 1; i <= 50; i++ {
		t.Run(fmt.Sprintf("room %d", i), func(t *testing.T) {
			r, err := h.acquireRoom(TriviaRoom, i)
			if err != nil {
				t.Fatalf("acquire room: %v", err)
			}
			a := newRunningMember(t, h, r)
			b := newRunningMember(t, h, r)

			a.handleMessage([]byte(`{"type":"join","token":"alice-token"}`))
			a.handleMessage([]byte(`{"type":"start"}`))
			b.handleMessage([]byte(`{"type":"join","token":"bob-token"}`))
			b.handleMessage([]byte(`{"type":"answer","answer":"right"}`))
			a.handleMessage([]byte(`{"type":"answer","answer":"wrong1"}`))

			result := waitFor(t, a, TypeResult)
			if assert.NotNil(t, result) {
				assert.Equal(t, Scores{"alice": 0, "bob": 100}, *result.Scores, "expected the answer sent right after join to count")
			}
		})
	}
}

func TestMember_joinThenCloseLeavesNoMember(t *testing.T) {
	h := newOrderingHub(t)

	for i := 1; i <= 50; i++ {
		t.Run(fmt.Sprintf("room %d", i), func(t *testing.T) {
			r, err := h.acquireRoom(TriviaRoom, i)
			if err != nil {
				t.Fatalf("acquire room: %v", err)
			}

			// bob keeps the room open
			b := newRunningMember(t, h, r)
			b.handleMessage([]byte(`{"type":"join","token":"bob-token"}`))

			a := newRunningMember(t, h, r)
			a.handleMessage([]byte(`{"type":"join","token":"alice-token"}`))
			a.handleClose()

			// once bob sees the broadcast, everything alice queued has been handled
			b.handleMessage([]byte(`{"type":"restart"}`))
			waitFor(t, b, TypeRestart)
			assert.Nil(t, lastOfType(drain(a), TypeRestart), "expected a closed connection to get no broadcasts")

			r.stop()
			assert.Equal(t, 1, r.memberCount(), "expected only bob to be present")
			assert.NotContains(t, r.members, a)
			assert.NotContains(t, r.userMap, "alice")
		})
	}
}
