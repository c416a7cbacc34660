package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-trivia/internal/database"
	"github.com/npezzotti/go-trivia/internal/types"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("unknown user")
)

// Authenticator turns bearer tokens into identities and decides whether an
// identity may enter a group's rooms.
type Authenticator struct {
	db         database.Repository
	signingKey []byte
}

func NewAuthenticator(db database.Repository, signingKey []byte) *Authenticator {
	return &Authenticator{
		db:         db,
		signingKey: signingKey,
	}
}

func (a *Authenticator) IssueToken(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: user.Id,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(a.signingKey)
}

func (a *Authenticator) userIdFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid user id claim", ErrInvalidToken)
	}

	return int(userId), nil
}

// Verify resolves a bearer token to the account it was issued for.
func (a *Authenticator) Verify(tokenString string) (types.User, error) {
	userId, err := a.userIdFromToken(tokenString)
	if err != nil {
		return types.User{}, err
	}

	dbUser, err := a.db.GetAccountById(userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrUnknownUser
		}
		return types.User{}, fmt.Errorf("get account: %w", err)
	}

	return types.User{
		Id:        dbUser.Id,
		Username:  dbUser.Username,
		CreatedAt: dbUser.CreatedAt,
		UpdatedAt: dbUser.UpdatedAt,
	}, nil
}

// IsAuthorized reports whether user belongs to the group backing roomId.
func (a *Authenticator) IsAuthorized(roomId int, user types.User) (bool, error) {
	ok, err := a.db.IsGroupMember(roomId, user.Id)
	if err != nil {
		return false, fmt.Errorf("is group member: %w", err)
	}

	return ok, nil
}
