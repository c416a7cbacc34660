package auth

import (
	"github.com/npezzotti/go-trivia/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(token string) (types.User, error) {
	args := m.Called(token)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockVerifier) IsAuthorized(roomId int, user types.User) (bool, error) {
	args := m.Called(roomId, user)
	return args.Bool(0), args.Error(1)
}
