package condition

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

type fakeAgent struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeAgent) Run(ctx context.Context, agentID, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func TestIsMetVerdicts(t *testing.T) {
	cases := []struct {
		response string
		met      bool
		wantErr  bool
	}{
		{"YES", true, false},
		{"yes", true, false},
		{"NO", false, false},
		{"No.", false, false},
		{"Yes, the stock is below the threshold.", true, false},
		{"The answer is NO", false, false},
		{"maybe", false, true},
		{"", false, true},
	}
	for _, tc := range cases {
		ev := NewEvaluator(&fakeAgent{response: tc.response})
		met, err := ev.IsMet(context.Background(), "", "stock below threshold", "acme")
		if met != tc.met {
			t.Errorf("response %q: expected met=%v, got %v", tc.response, tc.met, met)
		}
		if tc.wantErr && err == nil {
			t.Errorf("response %q: expected error for ambiguous verdict", tc.response)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("response %q: unexpected error %v", tc.response, err)
		}
	}
}

func TestIsMetFailsClosed(t *testing.T) {
	ev := NewEvaluator(&fakeAgent{err: errors.New("agent down")})
	met, err := ev.IsMet(context.Background(), "", "stock below threshold", "acme")
	if met {
		t.Error("expected condition not met on agent error")
	}
	if err == nil {
		t.Error("expected error to be surfaced for logging")
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	long := strings.Repeat("é", 60)
	got := truncate(long, 81)
	if !utf8.ValidString(got) {
		t.Errorf("truncate split a rune: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
	if got := truncate("short", 80); got != "short" {
		t.Errorf("short string must pass through, got %q", got)
	}
}

func TestAmbiguousVerdictErrorIsValidUTF8(t *testing.T) {
	reply := strings.Repeat("ambigüedad ", 12)
	ev := NewEvaluator(&fakeAgent{response: reply})
	_, err := ev.IsMet(context.Background(), "", "stock below threshold", "acme")
	if err == nil {
		t.Fatal("expected ambiguous verdict error")
	}
	if !utf8.ValidString(err.Error()) {
		t.Errorf("error message contains invalid UTF-8: %q", err.Error())
	}
}

func TestIsMetPromptContents(t *testing.T) {
	agent := &fakeAgent{response: "NO"}
	ev := NewEvaluator(agent)
	if _, err := ev.IsMet(context.Background(), "", "stock below threshold", "acme"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agent.prompts) != 1 {
		t.Fatalf("expected 1 agent call, got %d", len(agent.prompts))
	}
	prompt := agent.prompts[0]
	for _, want := range []string{"stock below threshold", "acme", "YES or NO"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q: %s", want, prompt)
		}
	}
}
