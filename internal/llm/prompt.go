package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-labs/parley/pkg/history"
)

const (
	defaultMaxModelTokens    = 4000
	defaultMaxResponseTokens = 1000

	// charsPerToken is the rough English average used when no real
	// tokenizer is available.
	charsPerToken = 4
)

// TokenCounter estimates the token cost of a rendered prompt.
type TokenCounter interface {
	Count(text string) int
}

// EstimateCounter approximates tokens by character count.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	n := len(text) / charsPerToken
	if n < 1 && len(text) > 0 {
		return 1
	}
	return n
}

// Prompt is an assembled request body: the message list, the token
// allowance for the response, and the estimated input size.
type Prompt struct {
	Messages  []Message
	MaxTokens int
	NumTokens int
}

// PromptBuilder assembles prompts by walking a conversation's parent
// chain backwards from the latest stored turn, including as much history
// as the token budget allows.
type PromptBuilder struct {
	Store   history.Store
	Counter TokenCounter

	MaxModelTokens    int
	MaxResponseTokens int
	SystemMessage     string
	UserLabel         string
	AssistantLabel    string
}

func (b *PromptBuilder) maxModel() int {
	if b.MaxModelTokens > 0 {
		return b.MaxModelTokens
	}
	return defaultMaxModelTokens
}

func (b *PromptBuilder) maxResponse() int {
	if b.MaxResponseTokens > 0 {
		return b.MaxResponseTokens
	}
	return defaultMaxResponseTokens
}

func (b *PromptBuilder) counter() TokenCounter {
	if b.Counter != nil {
		return b.Counter
	}
	return EstimateCounter{}
}

// Build assembles the prompt for text, prepending prior turns reached
// from parentID. Every candidate list, including the very first one with
// just the new text, is rendered and counted before it is accepted;
// the first candidate past the input budget is discarded and the
// previously accepted set is kept.
func (b *PromptBuilder) Build(ctx context.Context, text, parentID string) (*Prompt, error) {
	budget := b.maxModel() - b.maxResponse()

	messages := []Message{}
	if b.SystemMessage != "" {
		messages = append(messages, Message{Role: history.RoleSystem, Content: b.SystemMessage})
	}
	historyAt := len(messages)
	numTokens := 0

	next := make([]Message, historyAt, historyAt+1)
	copy(next, messages)
	next = append(next, Message{Role: history.RoleUser, Content: text})

	cur := parentID
	for {
		tokens := b.counter().Count(b.render(next))
		if tokens > budget {
			break
		}
		messages = next
		numTokens = tokens

		if cur == "" {
			break
		}
		turn, err := b.Store.Get(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("load turn %s: %w", cur, err)
		}
		if turn == nil {
			break
		}

		candidate := make([]Message, 0, len(next)+1)
		candidate = append(candidate, next[:historyAt]...)
		candidate = append(candidate, Message{Role: turn.Role, Content: turn.Text})
		candidate = append(candidate, next[historyAt:]...)
		next = candidate
		cur = turn.ParentID
	}

	return &Prompt{
		Messages:  messages,
		MaxTokens: b.allowance(numTokens),
		NumTokens: numTokens,
	}, nil
}

// allowance computes the response token limit: whatever input left free,
// capped at the response maximum, never below one.
func (b *PromptBuilder) allowance(numTokens int) int {
	n := b.maxModel() - numTokens
	if n > b.maxResponse() {
		n = b.maxResponse()
	}
	if n < 1 {
		n = 1
	}
	return n
}

// render flattens messages into the labeled transcript used for token
// accounting.
func (b *PromptBuilder) render(messages []Message) string {
	userLabel := b.UserLabel
	if userLabel == "" {
		userLabel = "User"
	}
	assistantLabel := b.AssistantLabel
	if assistantLabel == "" {
		assistantLabel = "Assistant"
	}

	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case history.RoleSystem:
			parts = append(parts, "Instructions:\n"+m.Content)
		case history.RoleAssistant:
			parts = append(parts, assistantLabel+":\n"+m.Content)
		default:
			parts = append(parts, userLabel+":\n"+m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
