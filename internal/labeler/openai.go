package labeler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/corpora/internal/domain"
)

// DefaultModel is the chat model used for classification and segmentation.
const DefaultModel = openai.GPT4oMini

const classifySystemPrompt = `You review content chunks for inclusion in a search corpus.
Given a chunk, decide whether it is substantive enough to index (keep) and assign topical tags.
Discard boilerplate, greetings-only fragments, navigation text, and legal footers.
Respond with a JSON object: {"keep": bool, "tags": [string], "reason": string}.`

const segmentSystemPrompt = `You structure documents into semantically coherent sections.
Given a document and its source type, return the ordered sections with short snake_case labels
describing each section's role (e.g. "headline", "story", "offer", "cta", "ps").
Respond with a JSON object: {"sections": [{"label": string, "content": string}]}.
Every character of the document must appear in exactly one section, in the original order.`

// chatAPI is the slice of the OpenAI client the labeler needs.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Classifier and Segmenter against the OpenAI
// chat completions API.
type OpenAIClient struct {
	api   chatAPI
	model string
}

// Config holds OpenAI labeler configuration.
type Config struct {
	APIKey string
	Model  string
}

// NewOpenAIClient creates a labeler using the given API key and model.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClient{api: openai.NewClient(cfg.APIKey), model: model}
}

// newOpenAIClientWithAPI is used by tests to inject a fake API.
func newOpenAIClientWithAPI(api chatAPI, model string) *OpenAIClient {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClient{api: api, model: model}
}

type classifyResult struct {
	Keep   *bool    `json:"keep"`
	Tags   []string `json:"tags"`
	Reason string   `json:"reason"`
}

// Classify implements Classifier. Malformed or indefinite model output is a
// validation error, never retried.
func (c *OpenAIClient) Classify(ctx context.Context, content string, metadata domain.UnitMetadata) (*Annotation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrEmptyContent
	}

	user := fmt.Sprintf("Source: %s (%s)\nSection label: %s\n\n%s",
		metadata.SourceName, metadata.Origin, metadata.SectionLabel, content)

	raw, err := c.complete(ctx, classifySystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var result classifyResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "labeler returned malformed output", err)
	}
	if result.Keep == nil {
		return nil, domain.ErrInvalidLabelerOutput
	}

	return &Annotation{Keep: *result.Keep, Tags: result.Tags, Reason: result.Reason}, nil
}

type segmentResult struct {
	Sections []struct {
		Label   string `json:"label"`
		Content string `json:"content"`
	} `json:"sections"`
}

// Segment implements Segmenter.
func (c *OpenAIClient) Segment(ctx context.Context, document, sourceType string) ([]domain.Section, error) {
	if strings.TrimSpace(document) == "" {
		return nil, nil
	}

	user := fmt.Sprintf("Source type: %s\n\n%s", sourceType, document)
	raw, err := c.complete(ctx, segmentSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var result segmentResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "segmenter returned malformed output", err)
	}
	if len(result.Sections) == 0 {
		return nil, domain.ErrInvalidLabelerOutput
	}

	sections := make([]domain.Section, 0, len(result.Sections))
	for i, s := range result.Sections {
		if s.Content == "" {
			continue
		}
		label := s.Label
		if label == "" {
			label = sourceType + "_body"
		}
		sections = append(sections, domain.Section{Label: label, Content: s.Content, Position: i})
	}
	return sections, nil
}

func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.ErrInvalidLabelerOutput
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyAPIError maps API failures onto the domain taxonomy: rate limits,
// server errors, and network failures are transient; everything else is
// permanent.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return domain.NewTransientError("labeler api error", err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransientError("labeler network error", err)
	}
	return err
}
