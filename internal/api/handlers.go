package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-trivia/internal/database"
	"github.com/npezzotti/go-trivia/internal/server"
	"github.com/npezzotti/go-trivia/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenCookieKey       = "token"
	defaultJwtExpiration = 24 * time.Hour
	maxUsernameLength    = 64
	minPasswordLength    = 8
	maxPasswordLength    = 72
	maxRequestBodyBytes  = 1 << 20
)

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

func (a *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Printf("json encode: %v", err)
	}
}

func (a *App) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		a.log.Println(errResp.Error())
	}
	a.writeJson(w, errResp.StatusCode, errResp)
}

func (a *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := a.db.Ping(); err != nil {
		a.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (CredentialsRequest, bool) {
	var req CredentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		return req, false
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return req, false
	}

	return req, true
}

func toUser(u database.User) types.User {
	return types.User{
		Id:        u.Id,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (a *App) register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	// bcrypt rejects passwords longer than 72 bytes
	if !ok || len(req.Username) > maxUsernameLength ||
		len(req.Password) < minPasswordLength || len(req.Password) > maxPasswordLength {
		a.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		a.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := a.db.CreateAccount(database.CreateAccountParams{
		Username:     req.Username,
		PasswordHash: pwdHash,
	})
	if err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			a.writeError(w, NewConflictError())
			return
		}
		a.writeError(w, NewInternalServerError(err))
		return
	}

	a.writeJson(w, http.StatusCreated, toUser(newUser))
}

func (a *App) login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		a.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := a.db.GetAccountByUsername(req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			a.writeError(w, NewUnauthorizedError())
			return
		}
		a.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(dbUser.PasswordHash, req.Password) {
		a.writeError(w, NewUnauthorizedError())
		return
	}

	u := toUser(dbUser)
	token, err := a.auth.IssueToken(u, defaultJwtExpiration)
	if err != nil {
		a.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	a.writeJson(w, http.StatusOK, TokenResponse{Token: token, User: u})
}

func (a *App) session(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		a.writeError(w, NewUnauthorizedError())
		return
	}

	a.writeJson(w, http.StatusOK, user)
}

func (a *App) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one so the browser drops it
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieKey,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// serveWs upgrades the request and hands the connection to the hub. The
// join handshake happens over the socket, so no credentials are checked here.
func (a *App) serveWs(kind server.RoomKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomId, err := strconv.Atoi(r.PathValue("roomId"))
		if err != nil || roomId <= 0 {
			a.writeError(w, NewBadRequestError())
			return
		}

		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader has already written an error response
			a.log.Printf("ws upgrade: %v", err)
			return
		}

		if err := a.hub.ServeMember(conn, kind, roomId); err != nil {
			a.log.Printf("serve member: %v", err)
			conn.Close()
		}
	}
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
