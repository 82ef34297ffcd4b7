package llm

import (
	"fmt"

	"github.com/parley-labs/parley/internal/engine"
	"github.com/parley-labs/parley/pkg/history"
)

// FromConfig builds the configured models in order. The first entry is
// the router's default.
func FromConfig(cfgs []engine.ModelConfig, store history.Store) ([]engine.ChatModel, error) {
	models := make([]engine.ChatModel, 0, len(cfgs))
	for _, cfg := range cfgs {
		var provider Provider
		switch cfg.Provider {
		case "anthropic":
			provider = NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.Model)
		case "openai":
			provider = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
		default:
			return nil, fmt.Errorf("model %s: unknown provider %q", cfg.Name, cfg.Provider)
		}

		builder := &PromptBuilder{
			Store:             store,
			MaxModelTokens:    cfg.MaxModelTokens,
			MaxResponseTokens: cfg.MaxResponseTokens,
			SystemMessage:     cfg.SystemMessage,
		}

		models = append(models, NewModel(ModelParams{
			Name:        cfg.Name,
			HumanName:   cfg.HumanName,
			Greeting:    cfg.Greeting,
			Temperature: cfg.Temperature,
			Provider:    provider,
			Builder:     builder,
			Store:       store,
		}))
	}
	return models, nil
}
