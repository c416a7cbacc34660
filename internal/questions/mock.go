package questions

import (
	"context"

	"github.com/npezzotti/go-trivia/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) FetchQuestions(ctx context.Context, difficulty Difficulty) ([]types.Question, error) {
	args := m.Called(ctx, difficulty)
	if qs, ok := args.Get(0).([]types.Question); ok {
		return qs, args.Error(1)
	}
	return nil, args.Error(1)
}
