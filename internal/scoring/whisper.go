package scoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/interviewer/internal/model"
)

// WhisperClient transcribes clips with an OpenAI-compatible audio API and
// scores the transcript against the question's keywords.
type WhisperClient struct {
	api       *openai.Client
	model     string
	questions []model.Question
}

// NewWhisperClient creates a transcription-backed scorer.
func NewWhisperClient(baseURL, apiKey, modelName string, questions []model.Question) *WhisperClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = openai.Whisper1
	}
	return &WhisperClient{
		api:       openai.NewClientWithConfig(config),
		model:     modelName,
		questions: questions,
	}
}

// Ping checks that the API endpoint answers.
func (c *WhisperClient) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Score transcribes clip and applies the keyword rubric for questionIndex.
func (c *WhisperClient) Score(ctx context.Context, clip io.Reader, filename string, questionIndex int) (float64, error) {
	if questionIndex < 0 || questionIndex >= len(c.questions) {
		return 0, fmt.Errorf("%w: question index %d out of range", ErrRejected, questionIndex)
	}

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: filename,
		Reader:   clip,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return 0, classifyOpenAIError(ctx, err)
	}

	transcript := sanitizeTranscript(resp.Text)
	score := KeywordScore(transcript, c.questions[questionIndex].Keywords)
	slog.Debug("transcribed clip", "question_index", questionIndex, "transcript", transcript, "score", score)
	return score, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if e := unavailableIfTimeout(ctx, err); e != nil {
		return e
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return fmt.Errorf("%w: transcription: %v", ErrRejected, err)
	}
	return fmt.Errorf("%w: transcription: %v", ErrUnavailable, err)
}
