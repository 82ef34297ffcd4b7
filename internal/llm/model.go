package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parley-labs/parley/internal/engine"
	"github.com/parley-labs/parley/pkg/channel"
	"github.com/parley-labs/parley/pkg/history"
)

// Model binds a completion provider to prompt assembly and transcript
// storage, exposing the single chat-model surface the engine dispatches
// to. Each configured model gets its own Model instance.
type Model struct {
	name        string
	humanName   string
	greeting    string
	kinds       []channel.Kind
	temperature float64

	provider Provider
	builder  *PromptBuilder
	store    history.Store
}

// ModelParams collects everything needed to build a Model.
type ModelParams struct {
	Name        string
	HumanName   string
	Greeting    string
	Kinds       []channel.Kind
	Temperature float64
	Provider    Provider
	Builder     *PromptBuilder
	Store       history.Store
}

// NewModel builds a Model. Kinds defaults to text only.
func NewModel(p ModelParams) *Model {
	kinds := p.Kinds
	if len(kinds) == 0 {
		kinds = []channel.Kind{channel.KindText}
	}
	human := p.HumanName
	if human == "" {
		human = p.Name
	}
	return &Model{
		name:        p.Name,
		humanName:   human,
		greeting:    p.Greeting,
		kinds:       kinds,
		temperature: p.Temperature,
		provider:    p.Provider,
		builder:     p.Builder,
		store:       p.Store,
	}
}

func (m *Model) Name() string               { return m.name }
func (m *Model) HumanName() string          { return m.humanName }
func (m *Model) Greeting() string           { return m.greeting }
func (m *Model) InputKinds() []channel.Kind { return m.kinds }

// parentKey is the session key holding the id of this model's latest
// stored turn. Keyed per model so switching models starts a fresh thread.
func (m *Model) parentKey() string {
	return m.name + ":parent-id"
}

// Call answers the turn: assemble the prompt from stored history, run the
// provider, persist both sides of the exchange, and reply. An aborted
// turn is dropped without storing or replying.
func (m *Model) Call(ctx context.Context, t *engine.Turn) error {
	parentID, _ := t.Session.Get(m.parentKey())

	prompt, err := m.builder.Build(ctx, t.Text, parentID)
	if err != nil {
		return fmt.Errorf("build prompt: %w", err)
	}

	resp, err := m.provider.Complete(ctx, CompletionRequest{
		Messages:    prompt.Messages,
		MaxTokens:   prompt.MaxTokens,
		Temperature: m.temperature,
		System:      m.builder.SystemMessage,
	})
	if err != nil {
		return err
	}

	if t.Aborted() {
		return nil
	}

	now := time.Now().UTC()
	question := &history.Turn{
		ID:             uuid.NewString(),
		ParentID:       parentID,
		ConversationID: t.ConversationID,
		Role:           history.RoleUser,
		Text:           t.Text,
		CreatedAt:      now,
	}
	answer := &history.Turn{
		ID:             uuid.NewString(),
		ParentID:       question.ID,
		ConversationID: t.ConversationID,
		Role:           history.RoleAssistant,
		Text:           resp.Content,
		CreatedAt:      now,
	}
	if err := m.store.Put(ctx, question); err != nil {
		return fmt.Errorf("store question: %w", err)
	}
	if err := m.store.Put(ctx, answer); err != nil {
		return fmt.Errorf("store answer: %w", err)
	}
	t.Session.Set(m.parentKey(), answer.ID)

	return t.ReplyFinal(ctx, resp.Content)
}
