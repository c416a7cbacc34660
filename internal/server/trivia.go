package server

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/npezzotti/go-trivia/internal/questions"
	"github.com/npezzotti/go-trivia/internal/stats"
	"github.com/npezzotti/go-trivia/internal/types"
)

const (
	fetchTimeout   = 10 * time.Second
	pointsPerRound = 100
)

// triviaGame runs the question/answer/score cycle for one trivia room.
type triviaGame struct {
	provider questions.Provider

	started   bool
	round     int
	questions []types.Question
	current   int
	// answer choices for the current question, shuffled once
	choices     []string
	userAnswers map[string]string
	scores      Scores
	sentResults bool
}

func newTriviaGame(provider questions.Provider) *triviaGame {
	return &triviaGame{
		provider:    provider,
		userAnswers: make(map[string]string),
		scores:      make(Scores),
	}
}

func (g *triviaGame) join(r *Room, m *Member, ack *ServerMessage) {
	if _, ok := g.scores[m.Identity()]; !ok {
		g.scores[m.Identity()] = 0
	}
}

func (g *triviaGame) resync(r *Room, m *Member) {
	m.queueMessage(g.gameState())
}

func (g *triviaGame) leave(r *Room, m *Member) {
	// the leaver may have been the last one everybody was waiting on
	g.maybeScore(r)
}

func (g *triviaGame) handle(r *Room, msg *ClientMessage) {
	switch msg.Type {
	case TypeStart:
		g.start(r)
	case TypeAnswer:
		g.answer(r, msg.member.Identity(), msg.Answer)
	case TypeNext:
		g.next(r)
	case TypeEnd:
		g.end(r)
	case TypeRestart:
		g.restart(r)
	}
}

func (g *triviaGame) currentQuestion() *types.Question {
	if g.current < 0 || g.current >= len(g.questions) {
		return nil
	}
	return &g.questions[g.current]
}

func (g *triviaGame) questionView() *QuestionView {
	q := g.currentQuestion()
	if q == nil {
		return nil
	}

	return &QuestionView{
		Question: q.Question,
		Answers:  g.choices,
		Category: q.Category,
	}
}

func (g *triviaGame) gameState() *ServerMessage {
	var correctAnswer string
	if q := g.currentQuestion(); q != nil && g.sentResults {
		correctAnswer = q.CorrectAnswer
	}

	return NewGameStateMessage(g.questionView(), correctAnswer, g.scores.clone(), g.round, g.started)
}

func (g *triviaGame) fetch(r *Room, round int) ([]types.Question, error) {
	difficulty, err := questions.DifficultyForRound(round)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(r.ctx, fetchTimeout)
	defer cancel()

	qs, err := g.provider.FetchQuestions(ctx, difficulty)
	if err != nil {
		return nil, fmt.Errorf("fetch %s questions: %w", difficulty, err)
	}

	if len(qs) == 0 {
		return nil, fmt.Errorf("fetch %s questions: empty batch", difficulty)
	}

	return qs, nil
}

func (g *triviaGame) start(r *Room) {
	if g.started {
		return
	}

	qs, err := g.fetch(r, 0)
	if err != nil {
		r.log.Printf("trivia room %d: start: %v", r.id, err)
		r.broadcast(NewErrorMessage("failed to load questions, start the game again to retry"))
		return
	}

	g.started = true
	g.round = 0
	for _, id := range r.identities() {
		if _, ok := g.scores[id]; !ok {
			g.scores[id] = 0
		}
	}
	r.stats.Incr(stats.NumGamesStarted)

	r.broadcast(NewStartMessage())
	g.questions = qs
	g.showQuestion(r, 0)
}

func (g *triviaGame) showQuestion(r *Room, idx int) {
	g.current = idx
	g.userAnswers = make(map[string]string)
	g.sentResults = false
	g.choices = shuffledChoices(g.questions[idx])

	r.broadcast(NewQuestionMessage(g.questionView()))
}

func shuffledChoices(q types.Question) []string {
	choices := make([]string, 0, len(q.Answers))
	for a := range q.Answers {
		choices = append(choices, a)
	}

	rand.Shuffle(len(choices), func(i, j int) {
		choices[i], choices[j] = choices[j], choices[i]
	})

	return choices
}

// answer records the first submission of identity for the open question.
func (g *triviaGame) answer(r *Room, identity, answer string) {
	if !g.started || g.sentResults || g.currentQuestion() == nil {
		return
	}

	if _, ok := g.userAnswers[identity]; ok {
		return
	}

	g.userAnswers[identity] = answer
	g.maybeScore(r)
}

// maybeScore scores the open question once every identity present has
// answered. sentResults makes it fire at most once per question.
func (g *triviaGame) maybeScore(r *Room) {
	if !g.started || g.sentResults || g.currentQuestion() == nil {
		return
	}

	present := r.identities()
	if len(present) == 0 {
		return
	}

	for _, id := range present {
		if _, ok := g.userAnswers[id]; !ok {
			return
		}
	}

	g.score(r)
}

func (g *triviaGame) score(r *Room) {
	q := g.currentQuestion()
	points := pointsPerRound * (g.round + 1)
	for id, answer := range g.userAnswers {
		if q.IsCorrect(answer) {
			g.scores[id] += points
		}
	}

	g.sentResults = true
	r.broadcast(NewResultMessage(q.CorrectAnswer, g.scores.clone()))
}

func (g *triviaGame) next(r *Room) {
	if !g.started {
		return
	}

	if g.current+1 < len(g.questions) {
		g.showQuestion(r, g.current+1)
		return
	}

	if g.round+1 < questions.NumRounds {
		qs, err := g.fetch(r, g.round+1)
		if err != nil {
			r.log.Printf("trivia room %d: next round: %v", r.id, err)
			r.broadcast(NewErrorMessage("failed to load the next round, send next again to retry"))
			return
		}

		g.round++
		// rounds are numbered from 1 for players
		r.broadcast(NewNextRoundMessage(g.round + 1))
		g.questions = qs
		g.showQuestion(r, 0)
		return
	}

	g.finish(r)
}

func (g *triviaGame) end(r *Room) {
	if !g.started {
		return
	}

	g.finish(r)
}

func (g *triviaGame) finish(r *Room) {
	r.broadcast(NewFinalMessage(g.scores.clone()))
	g.reset()
}

func (g *triviaGame) restart(r *Room) {
	g.reset()
	r.broadcast(NewRestartMessage())
}

func (g *triviaGame) reset() {
	g.started = false
	g.round = 0
	g.questions = nil
	g.current = 0
	g.choices = nil
	g.sentResults = false
	g.scores = make(Scores)
	g.userAnswers = make(map[string]string)
}
