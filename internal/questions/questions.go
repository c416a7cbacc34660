package questions

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-trivia/internal/types"
)

// QuestionsPerRound is the size of the batch requested for every round.
const QuestionsPerRound = 5

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

var roundDifficulties = [...]Difficulty{Easy, Medium, Hard}

// NumRounds is the number of difficulty tiers a game goes through.
const NumRounds = len(roundDifficulties)

// DifficultyForRound maps a zero based round number to its difficulty tier.
func DifficultyForRound(round int) (Difficulty, error) {
	if round < 0 || round >= len(roundDifficulties) {
		return "", fmt.Errorf("no difficulty for round %d", round)
	}

	return roundDifficulties[round], nil
}

type Provider interface {
	FetchQuestions(ctx context.Context, difficulty Difficulty) ([]types.Question, error)
}
