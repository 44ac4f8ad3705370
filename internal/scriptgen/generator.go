// Package scriptgen turns a player's idea into a playable Lua mini-game,
// either by asking a generative model or by picking from the built-in
// template library.
package scriptgen

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/adlib-games/adlib/internal/scripting"
)

//go:embed prompts/generate_game.txt
var generateGamePrompt string

// maxAttempts bounds generation retries. The second attempt carries the
// first attempt's rejection as feedback.
const maxAttempts = 2

// ContentModel produces text for a prompt. GeminiModel is the production
// implementation; tests substitute fakes.
type ContentModel interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Request describes the game to generate.
type Request struct {
	// Idea is the player's description, e.g. "a pirate word game".
	Idea string
	// Category nudges the model; optional.
	Category string
	// Duration is the round clock in seconds; defaults to the engine's
	// standard round length.
	Duration int
}

// Result is a generated, load-checked game.
type Result struct {
	Title       string
	Description string
	Category    string
	Duration    int
	Source      string
	Model       string
	Attempts    int
}

// Generator drives the generate-validate-retry loop.
type Generator struct {
	model ContentModel
	log   *zap.SugaredLogger
}

// NewGenerator wires a generator to its model.
func NewGenerator(model ContentModel, logger *zap.SugaredLogger) *Generator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Generator{model: model, log: logger}
}

// Generate asks the model for a game and verifies the script actually loads
// and defines the required lifecycle functions before handing it back. A
// rejected reply is retried once with the rejection quoted back to the
// model.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Duration <= 0 {
		req.Duration = scripting.DefaultDuration
	}

	var lastErr error
	feedback := ""
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		prompt, err := renderPrompt(req, feedback)
		if err != nil {
			return nil, fmt.Errorf("scriptgen: render prompt: %w", err)
		}

		text, err := g.model.GenerateText(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("scriptgen: generate: %w", err)
		}

		meta, source, err := parseResponse(text)
		if err != nil {
			lastErr = err
			feedback = err.Error()
			g.log.Debugw("generation reply rejected", "attempt", attempt, "error", err)
			continue
		}

		if err := ValidateScript(source); err != nil {
			lastErr = err
			feedback = err.Error()
			g.log.Debugw("generated script rejected", "attempt", attempt, "error", err)
			continue
		}

		res := &Result{
			Title:       meta.Title,
			Description: meta.Description,
			Category:    meta.Category,
			Duration:    meta.Duration,
			Source:      source,
			Model:       g.model.Name(),
			Attempts:    attempt,
		}
		res.fillDefaults(req)
		return res, nil
	}
	return nil, fmt.Errorf("scriptgen: no usable script after %d attempts: %w", maxAttempts, lastErr)
}

func (r *Result) fillDefaults(req Request) {
	if r.Title == "" {
		r.Title = strings.TrimSpace(req.Idea)
		if r.Title == "" {
			r.Title = "Untitled game"
		}
	}
	if r.Category == "" {
		r.Category = req.Category
	}
	if r.Duration <= 0 {
		r.Duration = req.Duration
	}
}

// ValidateScript loads the source in a throwaway sandbox and checks the
// required lifecycle functions are defined. Template seeding and the
// generation loop share it.
func ValidateScript(source string) error {
	r, err := scripting.NewRunner(source, scripting.Options{})
	if err != nil {
		return fmt.Errorf("script failed to load: %v", err)
	}
	defer r.Destroy()

	var missing []string
	for _, fn := range []string{"init", "start", "onInput"} {
		if !r.Has(fn) {
			missing = append(missing, "Game."+fn)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("script does not define %s", strings.Join(missing, ", "))
	}
	return nil
}

func renderPrompt(req Request, feedback string) (string, error) {
	tmpl, err := template.New("generate_game").Parse(generateGamePrompt)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	data := struct {
		Idea     string
		Category string
		Duration int
		Feedback string
	}{
		Idea:     req.Idea,
		Category: req.Category,
		Duration: req.Duration,
		Feedback: feedback,
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
