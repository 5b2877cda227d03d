package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ardian231/notify-wa/pkg/llm"
)

type fakeRouter struct {
	reply    string
	err      error
	messages []llm.Message
}

func (f *fakeRouter) Classify(_ context.Context, messages []llm.Message) (*llm.Response, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply}, nil
}

func TestParseLabel(t *testing.T) {
	c := NewClassifier(&fakeRouter{}, ClassifierOptions{})
	cases := map[string]string{
		"greeting":              "greeting",
		"  Harga  ":             "harga",
		"Intent: status":        "status",
		"intent:bantuan\nextra": "bantuan",
		"PRODUK\n":              "produk",
		"":                      "default",
		"pricing":               "default",
		"greetings":             "default",
	}
	for in, want := range cases {
		if got := c.Parse(in); got != want {
			t.Errorf("Parse(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLabelNotInSet(t *testing.T) {
	c := NewClassifier(&fakeRouter{}, ClassifierOptions{Labels: []string{"greeting", "status"}, Fallback: "lainnya"})
	if got := c.Parse("PRODUK\n"); got != "lainnya" {
		t.Errorf("expected fallback for label outside set, got %q", got)
	}
	labels := c.Labels()
	if labels[len(labels)-1] != "lainnya" {
		t.Errorf("expected fallback added to label set, got %v", labels)
	}
}

func TestClassifyConversation(t *testing.T) {
	r := &fakeRouter{reply: "greeting"}
	c := NewClassifier(r, ClassifierOptions{})

	label, err := c.Classify(context.Background(), "  Halo  ")
	if err != nil {
		t.Fatal(err)
	}
	if label != "greeting" {
		t.Errorf("expected greeting, got %q", label)
	}
	if len(r.messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(r.messages))
	}
	if r.messages[0].Role != "system" || !strings.Contains(r.messages[0].Content, "greeting, harga, produk") {
		t.Errorf("unexpected preamble %q", r.messages[0].Content)
	}
	if r.messages[1].Role != "user" || r.messages[1].Content != "Halo" {
		t.Errorf("unexpected user message %+v", r.messages[1])
	}
}

func TestClassifyEmpty(t *testing.T) {
	r := &fakeRouter{reply: "greeting"}
	c := NewClassifier(r, ClassifierOptions{})
	if _, err := c.Classify(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if r.messages != nil {
		t.Error("expected router not called for empty text")
	}
}

func TestClassifyPassesRouterError(t *testing.T) {
	boom := errors.New("boom")
	c := NewClassifier(&fakeRouter{err: boom}, ClassifierOptions{})
	if _, err := c.Classify(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Errorf("expected router error, got %v", err)
	}
}
