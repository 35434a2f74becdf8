package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/corpora/internal/domain"
)

// DefaultModel is the OpenAI model used for audio transcription.
const DefaultModel = openai.Whisper1

// Transcriber turns a downloaded media file into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// audioAPI is the slice of the OpenAI client needed for transcription.
type audioAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperClient transcribes media files through the OpenAI audio API.
type WhisperClient struct {
	api   audioAPI
	model string
}

type Config struct {
	APIKey string
	Model  string
}

func NewWhisperClient(cfg Config) *WhisperClient {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &WhisperClient{
		api:   openai.NewClient(cfg.APIKey),
		model: model,
	}
}

// newWhisperClientWithAPI is used by tests to inject a fake API.
func newWhisperClientWithAPI(api audioAPI, model string) *WhisperClient {
	if model == "" {
		model = DefaultModel
	}
	return &WhisperClient{api: api, model: model}
}

func (c *WhisperClient) Transcribe(ctx context.Context, filePath string) (string, error) {
	if filePath == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "file path cannot be empty")
	}

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: filePath,
	})
	if err != nil {
		return "", classifyTranscriptionError(err)
	}

	return resp.Text, nil
}

func classifyTranscriptionError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return domain.NewTransientError("transcription request failed", err)
		}
		return fmt.Errorf("transcription request failed: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransientError("transcription request failed", err)
	}
	return fmt.Errorf("transcription request failed: %w", err)
}
