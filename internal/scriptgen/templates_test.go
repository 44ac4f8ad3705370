package scriptgen

import (
	"strings"
	"testing"

	"github.com/adlib-games/adlib/internal/scripting"
)

func TestTemplatesLoad(t *testing.T) {
	ts, err := Templates()
	if err != nil {
		t.Fatalf("Templates: %v", err)
	}
	if len(ts) == 0 {
		t.Fatal("template library is empty")
	}
	seen := map[string]bool{}
	for _, tpl := range ts {
		if tpl.ID == "" || tpl.Title == "" || tpl.Source == "" {
			t.Errorf("template %q is missing fields: %+v", tpl.ID, tpl)
		}
		if tpl.Duration <= 0 {
			t.Errorf("template %q has no duration", tpl.ID)
		}
		if seen[tpl.ID] {
			t.Errorf("duplicate template id %q", tpl.ID)
		}
		seen[tpl.ID] = true
	}
}

func TestTemplatesPassValidation(t *testing.T) {
	ts, err := Templates()
	if err != nil {
		t.Fatalf("Templates: %v", err)
	}
	for _, tpl := range ts {
		tpl := tpl
		t.Run(tpl.ID, func(t *testing.T) {
			if err := ValidateScript(tpl.Source); err != nil {
				t.Errorf("built-in game does not load: %v", err)
			}
		})
	}
}

func TestTemplatePlaysARound(t *testing.T) {
	tpl, err := TemplateByID("math-sprint")
	if err != nil {
		t.Fatalf("TemplateByID: %v", err)
	}

	r, err := scripting.NewRunner(tpl.Source, scripting.Options{})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	defer r.Destroy()

	st := r.Init()
	st = r.Start(st)
	if !st.IsPlaying {
		t.Fatal("start did not set isPlaying")
	}
	if st.CurrentChallenge == "" || st.CurrentAnswer == "" {
		t.Fatalf("start did not set a challenge: %+v", st)
	}

	res := r.OnInput(st, st.CurrentAnswer)
	if !res.Correct || res.Points <= 0 {
		t.Errorf("correct answer scored %+v", res)
	}
	if res.State.Score != res.Points {
		t.Errorf("Score = %d, want %d", res.State.Score, res.Points)
	}

	res = r.OnInput(res.State, "definitely wrong")
	if res.Correct || res.State.WrongGuesses != 1 {
		t.Errorf("wrong answer gave %+v", res)
	}

	if hint := r.Hint(res.State); hint == "" {
		t.Error("getHint returned nothing")
	}
	if r.Failures() != 0 {
		t.Errorf("Failures = %d, want 0", r.Failures())
	}
}

func TestTemplateByID(t *testing.T) {
	tpl, err := TemplateByID("word-unscramble")
	if err != nil {
		t.Fatalf("TemplateByID: %v", err)
	}
	if tpl.Title != "Word Unscramble" {
		t.Errorf("Title = %q", tpl.Title)
	}

	if _, err := TemplateByID("no-such-game"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing id error = %v", err)
	}
}

func TestRandomTemplate(t *testing.T) {
	tpl, err := RandomTemplate()
	if err != nil {
		t.Fatalf("RandomTemplate: %v", err)
	}
	if _, err := TemplateByID(tpl.ID); err != nil {
		t.Errorf("random pick %q is not in the library: %v", tpl.ID, err)
	}
}
