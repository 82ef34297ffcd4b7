package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/parley-labs/parley/internal/engine"
	"github.com/parley-labs/parley/pkg/channel"
)

// selectionKey is the user-config key holding the chosen model name.
const selectionKey = "model"

// Router multiplexes the registered models behind a single chat-model
// surface. It resolves each sender's selection from user config, handles
// the show/switch keyword surfaces, and walks the fallback chain when
// the selected model fails.
type Router struct {
	models   []engine.ChatModel
	keywords engine.Keywords

	// swallowExhausted replies with a notice instead of surfacing the
	// last error once every candidate has failed.
	swallowExhausted bool
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Keywords         engine.Keywords
	SwallowExhausted bool
}

// NewRouter builds a Router over models in registration order. The first
// model is the default.
func NewRouter(models []engine.ChatModel, opts RouterOptions) (*Router, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("router: at least one model is required")
	}
	seen := map[string]bool{}
	for _, m := range models {
		if seen[m.Name()] {
			return nil, fmt.Errorf("router: duplicate model name %q", m.Name())
		}
		seen[m.Name()] = true
	}
	def := engine.DefaultKeywords()
	if len(opts.Keywords.ShowModels) == 0 {
		opts.Keywords.ShowModels = def.ShowModels
	}
	if len(opts.Keywords.SwitchModel) == 0 {
		opts.Keywords.SwitchModel = def.SwitchModel
	}
	return &Router{
		models:           models,
		keywords:         opts.Keywords,
		swallowExhausted: opts.SwallowExhausted,
	}, nil
}

func (r *Router) Name() string      { return "model-router" }
func (r *Router) HumanName() string { return "Model router" }

// Models returns the registered models in registration order.
func (r *Router) Models() []engine.ChatModel { return r.models }

// InputKinds is the union of the registered models' kinds.
func (r *Router) InputKinds() []channel.Kind {
	seen := map[channel.Kind]bool{}
	var kinds []channel.Kind
	for _, m := range r.models {
		for _, k := range m.InputKinds() {
			if !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	return kinds
}

// resolve returns the sender's selected model. Unknown or absent
// selections fall back to the default.
func (r *Router) resolve(t *engine.Turn) engine.ChatModel {
	name, ok := t.UserConfig.Get(selectionKey)
	if !ok {
		return r.models[0]
	}
	for _, m := range r.models {
		if m.Name() == name {
			return m
		}
	}
	return r.models[0]
}

// OnPrepareTextMessage handles the model keyword surfaces. Both showing
// the roster and switching answer the turn directly and abort the
// preparation pass. Only the pass canceller is aborted; the conversation
// lock is left alone so a roster query never cancels an in-flight turn
// for the same conversation.
func (r *Router) OnPrepareTextMessage(cxl *engine.Canceller, t *engine.Turn) (any, error) {
	ctx := cxl.Context()

	if engine.MatchKeyword(t.Text, r.keywords.ShowModels) {
		if err := t.Reply(ctx, r.roster(t)); err != nil {
			return nil, err
		}
		cxl.Abort(nil)
		return nil, nil
	}

	arg, ok := engine.MatchPrefix(t.Text, r.keywords.SwitchModel)
	if !ok {
		return nil, nil
	}

	reply := r.switchModel(t, arg)
	if err := t.Reply(ctx, reply); err != nil {
		return nil, err
	}
	cxl.Abort(nil)
	return nil, nil
}

// switchModel resolves arg to a model, persists the selection, and
// returns the reply text. An empty arg shows the roster.
func (r *Router) switchModel(t *engine.Turn, arg string) string {
	if strings.TrimSpace(arg) == "" {
		return r.roster(t)
	}

	m := r.find(arg)
	if m == nil {
		return fmt.Sprintf("No model matches %q.\n\n%s", arg, r.roster(t))
	}

	current := r.resolve(t)
	t.UserConfig.Set(selectionKey, m.Name())

	if current.Name() == m.Name() {
		return fmt.Sprintf("Already using %s.", m.HumanName())
	}
	if g, ok := m.(interface{ Greeting() string }); ok && g.Greeting() != "" {
		return g.Greeting()
	}
	return fmt.Sprintf("Switched to %s.", m.HumanName())
}

// find fuzzy-matches query against model names and human names:
// case-insensitive substring, ties ranked by edit distance to the query.
func (r *Router) find(query string) engine.ChatModel {
	q := strings.ToLower(strings.TrimSpace(query))

	type scored struct {
		model engine.ChatModel
		dist  int
		order int
	}
	var matches []scored
	for i, m := range r.models {
		name := strings.ToLower(m.Name())
		human := strings.ToLower(m.HumanName())
		if !strings.Contains(name, q) && !strings.Contains(human, q) {
			continue
		}
		d := levenshtein.ComputeDistance(q, name)
		if hd := levenshtein.ComputeDistance(q, human); hd < d {
			d = hd
		}
		matches = append(matches, scored{model: m, dist: d, order: i})
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].dist != matches[j].dist {
			return matches[i].dist < matches[j].dist
		}
		return matches[i].order < matches[j].order
	})
	return matches[0].model
}

// roster renders the model list, marking the sender's current selection.
func (r *Router) roster(t *engine.Turn) string {
	current := r.resolve(t)
	var b strings.Builder
	b.WriteString("Available models:\n")
	for _, m := range r.models {
		marker := "  "
		if m.Name() == current.Name() {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%s (%s)\n", marker, m.HumanName(), m.Name())
	}
	surface := "switch"
	if len(r.keywords.SwitchModel) > 0 {
		surface = strings.TrimSpace(r.keywords.SwitchModel[0])
	}
	fmt.Fprintf(&b, "\nSay \"%s <name>\" to change.", surface)
	return b.String()
}

// Call dispatches to the sender's model, walking the remaining models in
// registration order when it fails. No model is attempted twice and
// aborted turns stop the chain. A selected model that cannot take the
// message kind is announced and skipped in favor of the models that can.
func (r *Router) Call(ctx context.Context, t *engine.Turn) error {
	primary := r.resolve(t)

	chain := make([]engine.ChatModel, 0, len(r.models))
	chain = append(chain, primary)
	for _, m := range r.models {
		if m.Name() != primary.Name() {
			chain = append(chain, m)
		}
	}

	candidates := make([]engine.ChatModel, 0, len(chain))
	for _, m := range chain {
		if supportsKind(m, t.Kind) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return t.Reply(ctx, fmt.Sprintf("None of the configured models can handle %s messages.", t.Kind))
	}
	if !supportsKind(primary, t.Kind) {
		notice := fmt.Sprintf("%s cannot handle %s messages, trying %s.",
			primary.HumanName(), t.Kind, candidates[0].HumanName())
		if err := t.Reply(ctx, notice); err != nil {
			return err
		}
	}

	var lastErr error
	var lastName string
	for _, m := range candidates {
		if t.Aborted() {
			return nil
		}

		if lastErr != nil {
			slog.Warn("model failed, trying next",
				"failed", lastName,
				"next", m.Name(),
				"error", lastErr,
			)
			if err := t.Reply(ctx, fmt.Sprintf("%s is unavailable, trying %s.", lastName, m.HumanName())); err != nil {
				return err
			}
		}

		err := m.Call(ctx, t)
		if err == nil {
			return nil
		}
		lastErr = err
		lastName = m.HumanName()
	}

	if r.swallowExhausted {
		slog.Error("all models failed", "conversation", t.ConversationID, "error", lastErr)
		return t.Reply(ctx, "All models are unavailable right now, please try again later.")
	}
	return fmt.Errorf("all models failed: %w", lastErr)
}

func supportsKind(m engine.ChatModel, k channel.Kind) bool {
	for _, in := range m.InputKinds() {
		if in == k {
			return true
		}
	}
	return false
}
