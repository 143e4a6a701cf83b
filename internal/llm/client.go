// internal/llm/client.go
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loopautoma/loopautoma/internal/config"
)

// Response is the structured reply the runtime expects from a vision model.
type Response struct {
	ContinuationPrompt string  `json:"continuation_prompt"`
	Risk               float64 `json:"continuation_prompt_risk"`
	TaskComplete       bool    `json:"task_complete"`
	TaskCompleteReason string  `json:"task_complete_reason"`
}

// Client is the LLM provider contract. Implementations: OpenAIClient (any
// chat-completions-compatible endpoint), Fake.
type Client interface {
	// GeneratePrompt sends PNG-encoded region captures and returns the
	// model's continuation/completion decision. completionKeywords feed the
	// fallback scan when the model ignores the JSON contract; nil means the
	// defaults.
	GeneratePrompt(ctx context.Context, images [][]byte, systemPrompt string, completionKeywords []string) (*Response, error)
	// ExtractText asks the model to transcribe the visible text of one
	// PNG-encoded capture. Used by the vision OCR provider.
	ExtractText(ctx context.Context, image []byte) (string, error)
}

const responseContract = `Return ONLY a JSON object with this exact structure:
{
  "continuation_prompt": "<text for next action, or null if complete>",
  "continuation_prompt_risk": <risk level 0.0-1.0>,
  "task_complete": <true|false>,
  "task_complete_reason": "<explanation if complete, or null>"
}
Do not include any explanation or additional text outside the JSON.`

const defaultSystemPrompt = "You are an AI assistant helping with desktop automation. " +
	"Analyze the screen content and determine if the task is complete."

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	cfg    config.LLMConfig
	apiKey string
	http   *http.Client
}

// NewOpenAIClient builds a client; apiKey comes from the environment, never
// from profile files.
func NewOpenAIClient(cfg config.LLMConfig, apiKey string) *OpenAIClient {
	return &OpenAIClient{
		cfg:    cfg,
		apiKey: apiKey,
		http:   &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GeneratePrompt implements Client.
func (c *OpenAIClient) GeneratePrompt(ctx context.Context, images [][]byte, systemPrompt string, completionKeywords []string) (*Response, error) {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	content, err := c.complete(ctx, systemPrompt+"\n\n"+responseContract,
		"Here is the current state of the watched screen regions.", images)
	if err != nil {
		return nil, err
	}
	return ParseResponse(content, completionKeywords), nil
}

// ExtractText implements Client.
func (c *OpenAIClient) ExtractText(ctx context.Context, image []byte) (string, error) {
	return c.complete(ctx,
		"Transcribe all visible text in the image. Return the text only, no commentary.",
		"Transcribe this screen region.", [][]byte{image})
}

func (c *OpenAIClient) complete(ctx context.Context, systemPrompt, userText string, images [][]byte) (string, error) {
	user := chatMessage{Role: "user", Content: []chatContent{{Type: "text", Text: userText}}}
	for _, img := range images {
		user.Content = append(user.Content, chatContent{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)},
		})
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: []chatContent{{Type: "text", Text: systemPrompt}}},
			user,
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling LLM endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("LLM error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("LLM endpoint returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("LLM response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
