package types

import (
	"time"
)

type User struct {
	Id        int       `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Group struct {
	Id          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Question is one multiple choice question as handed out by a question provider.
// Answers maps every choice to whether it is correct; exactly one entry is true.
type Question struct {
	Question      string          `json:"question"`
	Answers       map[string]bool `json:"answers"`
	CorrectAnswer string          `json:"correct_answer"`
	Category      string          `json:"category"`
}

// IsCorrect reports whether answer is the correct choice for q.
func (q Question) IsCorrect(answer string) bool {
	return q.Answers[answer]
}
