package server

// Message types exchanged over a room connection.
const (
	TypeJoin      = "join"
	TypeAuth      = "auth"
	TypeChat      = "chat"
	TypeStart     = "start"
	TypeAnswer    = "answer"
	TypeNext      = "next"
	TypeEnd       = "end"
	TypeRestart   = "restart"
	TypeQuestion  = "question"
	TypeResult    = "result"
	TypeNextRound = "nextRound"
	TypeFinal     = "final"
	TypeGameState = "gameState"
	TypeError     = "error"
)

type ClientMessage struct {
	Type      string  `json:"type"`
	Token     string  `json:"token,omitempty"`
	Text      string  `json:"text,omitempty"`
	AvatarUrl string  `json:"avatarUrl,omitempty"`
	Answer    string  `json:"answer,omitempty"`
	member    *Member `json:"-"`
}

// Scores maps a verified username to its points in the current game.
type Scores map[string]int

func (s Scores) clone() *Scores {
	c := make(Scores, len(s))
	for k, v := range s {
		c[k] = v
	}
	return &c
}

// QuestionView is the part of a question members get to see while answering.
type QuestionView struct {
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Category string   `json:"category"`
}

type ServerMessage struct {
	Type          string        `json:"type"`
	Result        *bool         `json:"result,omitempty"`
	Message       string        `json:"message,omitempty"`
	Title         string        `json:"title,omitempty"`
	Username      string        `json:"username,omitempty"`
	Text          string        `json:"text,omitempty"`
	AvatarUrl     string        `json:"avatarUrl,omitempty"`
	Question      *QuestionView `json:"question,omitempty"`
	CorrectAnswer string        `json:"correctAnswer,omitempty"`
	Scores        *Scores       `json:"scores,omitempty"`
	Round         *int          `json:"round,omitempty"`
	Started       *bool         `json:"started,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

func NewAuthOK() *ServerMessage {
	return &ServerMessage{
		Type:   TypeAuth,
		Result: boolPtr(true),
	}
}

func NewAuthFailed(message string) *ServerMessage {
	return &ServerMessage{
		Type:    TypeAuth,
		Result:  boolPtr(false),
		Message: message,
	}
}

func NewChatMessage(username, text, avatarUrl string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeChat,
		Username:  username,
		Text:      text,
		AvatarUrl: avatarUrl,
	}
}

func NewStartMessage() *ServerMessage {
	return &ServerMessage{Type: TypeStart}
}

func NewQuestionMessage(q *QuestionView) *ServerMessage {
	return &ServerMessage{
		Type:     TypeQuestion,
		Question: q,
	}
}

func NewResultMessage(correctAnswer string, scores *Scores) *ServerMessage {
	return &ServerMessage{
		Type:          TypeResult,
		CorrectAnswer: correctAnswer,
		Scores:        scores,
	}
}

func NewNextRoundMessage(round int) *ServerMessage {
	return &ServerMessage{
		Type:  TypeNextRound,
		Round: intPtr(round),
	}
}

func NewFinalMessage(scores *Scores) *ServerMessage {
	return &ServerMessage{
		Type:   TypeFinal,
		Scores: scores,
	}
}

func NewRestartMessage() *ServerMessage {
	return &ServerMessage{Type: TypeRestart}
}

// NewGameStateMessage builds the resync sent to a single member after it joins.
// correctAnswer is left empty until the current question has been scored.
func NewGameStateMessage(q *QuestionView, correctAnswer string, scores *Scores, round int, started bool) *ServerMessage {
	return &ServerMessage{
		Type:          TypeGameState,
		Question:      q,
		CorrectAnswer: correctAnswer,
		Scores:        scores,
		Round:         intPtr(round),
		Started:       boolPtr(started),
	}
}

func NewErrorMessage(message string) *ServerMessage {
	return &ServerMessage{
		Type:    TypeError,
		Message: message,
	}
}
