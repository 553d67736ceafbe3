package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nextlevelbuilder/critward/internal/moderation"
)

func TestWrapAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401}, KindAuth},
		{"forbidden", &openai.APIError{HTTPStatusCode: 403}, KindAuth},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, KindRateLimited},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, KindTransient},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, KindMalformed},
		{"plain", errors.New("connection reset"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := wrapAPIError(tt.err)
			var cerr *Error
			if !errors.As(wrapped, &cerr) {
				t.Fatalf("wrapAPIError(%v) = %v, not a typed error", tt.err, wrapped)
			}
			if cerr.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", cerr.Kind, tt.want)
			}
		})
	}
}

func TestBuildFlagPromptIncludesWaivedPeople(t *testing.T) {
	req := &moderation.EvaluationRequest{
		Meta: moderation.ChannelMetadata{Name: "showcase", Topic: "share your maps"},
	}
	lines := []string{"(0) alice: ❝my new level❞", "(1) bob: ❝layout is a mess❞"}

	prompt := buildFlagPrompt(req, lines, []string{"Carol", "Dave"})

	for _, want := range []string{
		"<messages>",
		"(1) bob: ❝layout is a mess❞",
		"<waived_people>\nCarol\nDave\n</waived_people>",
		"showcase",
		"<result>",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestBuildFeedbackPromptIndexes(t *testing.T) {
	prompt := buildFeedbackPrompt([]string{"(0) a: ❝x❞"}, []int{0, 2}, "be kind")
	if !strings.Contains(prompt, "[0, 2]") {
		t.Fatal("prompt missing group indexes")
	}
	if !strings.Contains(prompt, "<guidelines>\nbe kind\n</guidelines>") {
		t.Fatal("prompt missing guidelines block")
	}
}
