package engine

import "strings"

// Keywords are the plain-text surfaces that short-circuit provider
// dispatch. Matching is exact after trimming whitespace.
type Keywords struct {
	NewConversation  []string
	StopConversation []string
	Help             []string
	SourceCode       []string
	ShowModels       []string
	SwitchModel      []string
}

// withDefaults fills each unset surface from DefaultKeywords while
// leaving customized ones alone.
func (k Keywords) withDefaults() Keywords {
	def := DefaultKeywords()
	if len(k.NewConversation) == 0 {
		k.NewConversation = def.NewConversation
	}
	if len(k.StopConversation) == 0 {
		k.StopConversation = def.StopConversation
	}
	if len(k.Help) == 0 {
		k.Help = def.Help
	}
	if len(k.SourceCode) == 0 {
		k.SourceCode = def.SourceCode
	}
	if len(k.ShowModels) == 0 {
		k.ShowModels = def.ShowModels
	}
	if len(k.SwitchModel) == 0 {
		k.SwitchModel = def.SwitchModel
	}
	return k
}

// DefaultKeywords covers the Chinese surfaces plus English aliases.
func DefaultKeywords() Keywords {
	return Keywords{
		NewConversation: []string{
			"新对话", "新聊天", "重新开始", "重新对话",
			"new conversation", "new chat", "start over",
		},
		StopConversation: []string{
			"停", "停止", "停止回复",
			"stop", "cancel",
		},
		Help: []string{
			"帮助", "help",
		},
		SourceCode: []string{
			"源代码", "source code", "source",
		},
		ShowModels: []string{
			"查看模型", "查看版本", "show models", "list models",
		},
		SwitchModel: []string{
			"切换", "switch ",
		},
	}
}

// MatchKeyword reports whether text, trimmed and lowercased, equals one of
// the given surfaces.
func MatchKeyword(text string, surfaces []string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, s := range surfaces {
		if t == strings.ToLower(s) {
			return true
		}
	}
	return false
}

// MatchPrefix returns the remainder after a matching surface prefix, and
// whether any surface matched. A surface ending in a space requires that
// space in the input; a bare surface matches with or without it.
func MatchPrefix(text string, surfaces []string) (string, bool) {
	t := strings.TrimSpace(text)
	lower := strings.ToLower(t)
	for _, s := range surfaces {
		sl := strings.ToLower(s)
		if strings.HasPrefix(lower, sl) {
			return strings.TrimSpace(t[len(sl):]), true
		}
	}
	return "", false
}
