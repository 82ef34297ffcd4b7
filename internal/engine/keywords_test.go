package engine

import "testing"

func TestMatchKeyword(t *testing.T) {
	kw := DefaultKeywords()

	cases := []struct {
		text     string
		surfaces []string
		want     bool
	}{
		{"新对话", kw.NewConversation, true},
		{"  新对话  ", kw.NewConversation, true},
		{"New Conversation", kw.NewConversation, true},
		{"新对话吧", kw.NewConversation, false},
		{"停", kw.StopConversation, true},
		{"STOP", kw.StopConversation, true},
		{"help", kw.Help, true},
		{"help me", kw.Help, false},
	}
	for _, c := range cases {
		if got := MatchKeyword(c.text, c.surfaces); got != c.want {
			t.Errorf("MatchKeyword(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestMatchPrefix(t *testing.T) {
	kw := DefaultKeywords()

	arg, ok := MatchPrefix("切换 claude", kw.SwitchModel)
	if !ok || arg != "claude" {
		t.Fatalf("MatchPrefix(切换 claude) = %q %v", arg, ok)
	}

	arg, ok = MatchPrefix("switch gpt", kw.SwitchModel)
	if !ok || arg != "gpt" {
		t.Fatalf("MatchPrefix(switch gpt) = %q %v", arg, ok)
	}

	arg, ok = MatchPrefix("切换", kw.SwitchModel)
	if !ok || arg != "" {
		t.Fatalf("MatchPrefix(切换) = %q %v, want empty arg", arg, ok)
	}

	if _, ok := MatchPrefix("unrelated text", kw.SwitchModel); ok {
		t.Fatal("unrelated text must not match")
	}
}
