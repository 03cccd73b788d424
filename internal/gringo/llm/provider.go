// Package llm defines the generation collaborator: given an ordered list of
// role-tagged messages it returns one assistant message.
//
// The tutor treats a Provider as a single blocking call. Providers never
// retry; callers decide what to tell the user when a call fails.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimit is returned when the upstream API reports a rate-limiting
// condition (HTTP 429).
var ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

// ErrEmptyCompletion is returned when the upstream API answers without any
// usable assistant content.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged message sent to or received from the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TokenUsage reports token consumption for budget tracking.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
	LatencyMS        int64
}

// Completion is the output of one generation call.
type Completion struct {
	Message      Message
	FinishReason string
	Usage        TokenUsage
}

// Provider is implemented by every generation backend. Implementations must
// be safe for concurrent use.
type Provider interface {
	Generate(ctx context.Context, messages []Message) (*Completion, error)
}
