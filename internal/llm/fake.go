// internal/llm/fake.go
package llm

import "context"

// Fake serves scripted responses for tests.
type Fake struct {
	Response *Response
	Text     string
	Err      error
	// Prompts records the system prompts received, in order.
	Prompts []string
}

// GeneratePrompt implements Client.
func (f *Fake) GeneratePrompt(ctx context.Context, images [][]byte, systemPrompt string, completionKeywords []string) (*Response, error) {
	f.Prompts = append(f.Prompts, systemPrompt)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Response == nil {
		return &Response{ContinuationPrompt: "continue", Risk: 0.1}, nil
	}
	resp := *f.Response
	return &resp, nil
}

// ExtractText implements Client.
func (f *Fake) ExtractText(ctx context.Context, image []byte) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Text, nil
}
