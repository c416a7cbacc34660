package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-trivia/internal/auth"
	"github.com/npezzotti/go-trivia/internal/config"
	"github.com/npezzotti/go-trivia/internal/database"
	"github.com/npezzotti/go-trivia/internal/questions"
	"github.com/npezzotti/go-trivia/internal/server"
	"github.com/npezzotti/go-trivia/internal/stats"
	"github.com/npezzotti/go-trivia/internal/testutil"
	"github.com/npezzotti/go-trivia/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var testSigningKey = []byte("test-signing-key")

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:      "localhost:8080",
		DatabaseDSN:     "dsn",
		SigningKey:      testSigningKey,
		AllowedOrigins:  []string{"http://localhost:3000"},
		QuestionsURL:    "https://opentdb.com/api.php",
		RoomIdleTimeout: time.Minute,
	}
}

// newTestApp builds an App backed by db with a real authenticator and no hub.
func newTestApp(t *testing.T, db *database.MockRepository) *App {
	return NewApp(http.NewServeMux(), testutil.TestLogger(t), db, auth.NewAuthenticator(db, testSigningKey), nil, testConfig())
}

func TestNewApp(t *testing.T) {
	logger := testutil.TestLogger(t)
	db := &database.MockRepository{}
	authn := auth.NewAuthenticator(db, testSigningKey)
	cfg := testConfig()

	app := NewApp(http.NewServeMux(), logger, db, authn, nil, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, authn, app.auth, "expected authenticator to be set")
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins)
}

func Test_checkOrigin(t *testing.T) {
	tcases := []struct {
		name     string
		origins  []string
		origin   string
		host     string
		expected bool
	}{
		{
			name:     "no origin header",
			origins:  nil,
			expected: true,
		},
		{
			name:     "configured origin",
			origins:  []string{"http://localhost:3000"},
			origin:   "http://localhost:3000",
			host:     "localhost:8080",
			expected: true,
		},
		{
			name:     "wildcard",
			origins:  []string{"*"},
			origin:   "https://evil.example.com",
			host:     "localhost:8080",
			expected: true,
		},
		{
			name:     "same host",
			origins:  nil,
			origin:   "http://localhost:8080",
			host:     "localhost:8080",
			expected: true,
		},
		{
			name:     "foreign origin",
			origins:  []string{"http://localhost:3000"},
			origin:   "https://evil.example.com",
			host:     "localhost:8080",
			expected: false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := &App{allowedOrigins: tc.origins}
			req := httptest.NewRequest(http.MethodGet, "/ws/trivia/1", nil)
			req.Host = tc.host
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}

			assert.Equal(t, tc.expected, app.checkOrigin(req))
		})
	}
}

func TestApp_Shutdown(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, app.Shutdown(ctx), "expected shutdown of an idle server to succeed")
}

func Test_serveWs(t *testing.T) {
	alice := database.User{Id: 1, Username: "alice"}

	db := &database.MockRepository{}
	db.On("GetAccountById", 1).Return(alice, nil)
	db.On("IsGroupMember", 7, 1).Return(true, nil)
	db.On("GetGroup", 7).Return(database.Group{Id: 7, Name: "Quiz Night"}, nil)

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	authn := auth.NewAuthenticator(db, testSigningKey)
	hub, err := server.NewHub(testutil.TestLogger(t), db, authn, &questions.MockProvider{}, su, time.Minute)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})

	app := NewApp(http.NewServeMux(), testutil.TestLogger(t), db, authn, hub, testConfig())
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	token, err := authn.IssueToken(types.User{Id: 1, Username: "alice"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("invalid room id", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws/trivia/abc", nil)
		assert.Error(t, err)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		}
	})

	t.Run("foreign origin rejected", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "https://evil.example.com")
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws/trivia/7", header)
		assert.Error(t, err)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		}
	})

	tcases := []struct {
		name  string
		path  string
		title string
		next  string
	}{
		{
			name: "trivia",
			path: "/ws/trivia/7",
			next: server.TypeGameState,
		},
		{
			name:  "chat",
			path:  "/ws/chat/7",
			title: "Quiz Night",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL+tc.path, nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close()

			assert.NoError(t, conn.WriteJSON(server.ClientMessage{Type: server.TypeJoin, Token: token}))

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var ack server.ServerMessage
			if assert.NoError(t, conn.ReadJSON(&ack)) {
				assert.Equal(t, server.TypeAuth, ack.Type)
				if assert.NotNil(t, ack.Result) {
					assert.True(t, *ack.Result)
				}
				assert.Equal(t, tc.title, ack.Title)
			}

			if tc.next != "" {
				var msg server.ServerMessage
				if assert.NoError(t, conn.ReadJSON(&msg)) {
					assert.Equal(t, tc.next, msg.Type)
				}
			}
		})
	}
}
