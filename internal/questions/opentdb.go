package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/npezzotti/go-trivia/internal/types"
)

const defaultHTTPTimeout = 10 * time.Second

var (
	ErrNoResults      = errors.New("question provider returned no results")
	ErrInvalidRequest = errors.New("question provider rejected request")
	ErrRateLimited    = errors.New("question provider rate limited")
)

type openTDBResponse struct {
	ResponseCode int               `json:"response_code"`
	Results      []openTDBQuestion `json:"results"`
}

type openTDBQuestion struct {
	Type             string   `json:"type"`
	Difficulty       string   `json:"difficulty"`
	Category         string   `json:"category"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// OpenTDBProvider fetches multiple choice questions from an Open Trivia DB
// compatible endpoint.
type OpenTDBProvider struct {
	baseURL string
	client  *http.Client
}

func NewOpenTDBProvider(baseURL string, client *http.Client) *OpenTDBProvider {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &OpenTDBProvider{
		baseURL: baseURL,
		client:  client,
	}
}

func (p *OpenTDBProvider) requestURL(difficulty Difficulty) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	q := u.Query()
	q.Set("amount", strconv.Itoa(QuestionsPerRound))
	q.Set("difficulty", string(difficulty))
	q.Set("type", "multiple")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (p *OpenTDBProvider) FetchQuestions(ctx context.Context, difficulty Difficulty) ([]types.Question, error) {
	reqURL, err := p.requestURL(difficulty)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get questions: unexpected status %d", resp.StatusCode)
	}

	var body openTDBResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	switch body.ResponseCode {
	case 0:
	case 1:
		return nil, ErrNoResults
	case 2:
		return nil, ErrInvalidRequest
	case 5:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("question provider response code %d", body.ResponseCode)
	}

	if len(body.Results) < QuestionsPerRound {
		return nil, fmt.Errorf("%w: got %d of %d questions", ErrNoResults, len(body.Results), QuestionsPerRound)
	}

	questions := make([]types.Question, 0, QuestionsPerRound)
	for _, r := range body.Results[:QuestionsPerRound] {
		questions = append(questions, toQuestion(r))
	}

	return questions, nil
}

func toQuestion(r openTDBQuestion) types.Question {
	correct := html.UnescapeString(r.CorrectAnswer)
	answers := make(map[string]bool, len(r.IncorrectAnswers)+1)
	for _, a := range r.IncorrectAnswers {
		answers[html.UnescapeString(a)] = false
	}
	answers[correct] = true

	return types.Question{
		Question:      html.UnescapeString(r.Question),
		Answers:       answers,
		CorrectAnswer: correct,
		Category:      html.UnescapeString(r.Category),
	}
}
