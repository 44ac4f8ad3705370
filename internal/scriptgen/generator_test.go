package scriptgen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/adlib-games/adlib/internal/scripting"
)

const validScript = `Game = {}

function Game.init()
  return {
    score = 0,
    timeRemaining = 30,
    currentChallenge = "",
    currentAnswer = "",
    isPlaying = false,
    wrongGuesses = 0,
    maxWrongGuesses = 3,
    hints = {}
  }
end

function Game.start(state)
  state.isPlaying = true
  return state
end

function Game.onInput(state, input)
  return {state = state, correct = false, points = 0}
end`

const validReply = "```json\n" +
	`{"title": "Color Quiz", "description": "Name the color.", "category": "trivia", "duration": 30}` +
	"\n```\n```lua\n" + validScript + "\n```"

// fakeModel replays canned replies and records every prompt it saw. When the
// replies run out it repeats the last one.
type fakeModel struct {
	replies []string
	err     error
	prompts []string
}

func (f *fakeModel) GenerateText(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	i := len(f.prompts) - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i], nil
}

func (f *fakeModel) Name() string { return "fake-model" }

func TestGeneratorHappyPath(t *testing.T) {
	model := &fakeModel{replies: []string{validReply}}
	gen := NewGenerator(model, nil)

	res, err := gen.Generate(context.Background(), Request{Idea: "a color quiz", Duration: 30})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Title != "Color Quiz" {
		t.Errorf("Title = %q, want %q", res.Title, "Color Quiz")
	}
	if res.Model != "fake-model" {
		t.Errorf("Model = %q, want %q", res.Model, "fake-model")
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if !strings.Contains(res.Source, "Game.onInput") {
		t.Errorf("Source = %q", res.Source)
	}
	if len(model.prompts) != 1 {
		t.Fatalf("model saw %d prompts, want 1", len(model.prompts))
	}
	if !strings.Contains(model.prompts[0], "a color quiz") {
		t.Errorf("prompt does not carry the idea:\n%s", model.prompts[0])
	}
	if strings.Contains(model.prompts[0], "rejected") {
		t.Errorf("first prompt already carries rejection feedback:\n%s", model.prompts[0])
	}
}

func TestGeneratorRetriesWithFeedback(t *testing.T) {
	model := &fakeModel{replies: []string{"no code here, sorry", validReply}}
	gen := NewGenerator(model, nil)

	res, err := gen.Generate(context.Background(), Request{Idea: "anything"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if len(model.prompts) != 2 {
		t.Fatalf("model saw %d prompts, want 2", len(model.prompts))
	}
	if !strings.Contains(model.prompts[1], "Your previous reply was rejected") {
		t.Errorf("second prompt does not quote the rejection:\n%s", model.prompts[1])
	}
	if !strings.Contains(model.prompts[1], "contains no") {
		t.Errorf("second prompt does not carry the parse error:\n%s", model.prompts[1])
	}
}

func TestGeneratorGivesUp(t *testing.T) {
	model := &fakeModel{replies: []string{"nothing", "still nothing"}}
	gen := NewGenerator(model, nil)

	_, err := gen.Generate(context.Background(), Request{Idea: "anything"})
	if err == nil {
		t.Fatal("Generate accepted a model that never produced code")
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Errorf("error = %v", err)
	}
	if len(model.prompts) != maxAttempts {
		t.Errorf("model saw %d prompts, want %d", len(model.prompts), maxAttempts)
	}
}

func TestGeneratorModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("quota exhausted")}
	gen := NewGenerator(model, nil)

	_, err := gen.Generate(context.Background(), Request{Idea: "anything"})
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("error = %v, want the model failure", err)
	}
	if len(model.prompts) != 1 {
		t.Errorf("model errors should not retry, model saw %d prompts", len(model.prompts))
	}
}

func TestGeneratorRejectsIncompleteLifecycle(t *testing.T) {
	reply := "```lua\nGame = {}\nfunction Game.init() return {} end\n```"
	model := &fakeModel{replies: []string{reply}}
	gen := NewGenerator(model, nil)

	_, err := gen.Generate(context.Background(), Request{Idea: "anything"})
	if err == nil {
		t.Fatal("Generate accepted a script without Game.start or Game.onInput")
	}
	if !strings.Contains(err.Error(), "Game.start") || !strings.Contains(err.Error(), "Game.onInput") {
		t.Errorf("error = %v, want the missing functions named", err)
	}
}

func TestGeneratorFillsDefaults(t *testing.T) {
	model := &fakeModel{replies: []string{"```lua\n" + validScript + "\n```"}}
	gen := NewGenerator(model, nil)

	res, err := gen.Generate(context.Background(), Request{Idea: "  quick reflex taps  ", Category: "arcade"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Title != "quick reflex taps" {
		t.Errorf("Title = %q, want the trimmed idea", res.Title)
	}
	if res.Category != "arcade" {
		t.Errorf("Category = %q, want %q", res.Category, "arcade")
	}
	if res.Duration != scripting.DefaultDuration {
		t.Errorf("Duration = %d, want %d", res.Duration, scripting.DefaultDuration)
	}
}

func TestValidateScript(t *testing.T) {
	if err := ValidateScript(validScript); err != nil {
		t.Fatalf("ValidateScript rejected a complete script: %v", err)
	}
	if err := ValidateScript("this is not lua"); err == nil {
		t.Fatal("ValidateScript accepted a script that cannot load")
	}
}
