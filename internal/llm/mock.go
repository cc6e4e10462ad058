package llm

import "context"

// MockClient is a test double for the LLM Client interface.
// Responses are returned in order; the last one repeats.
type MockClient struct {
	Responses []*Response
	Err       error
	Calls     []string // records prompts sent
}

// Complete records the call and returns the next mock response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.Calls = append(m.Calls, prompt)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &Response{Provider: "mock"}, nil
	}
	idx := len(m.Calls) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}
