package scriptgen

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/valyala/fastrand"
	"gopkg.in/yaml.v3"
)

//go:embed templates/games.yaml
var gamesYAML []byte

// Template is a built-in, hand-checked game. Templates let the engine run
// without a generation API key and serve as the style reference in the
// generation prompt's contract.
type Template struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Duration    int    `yaml:"duration"`
	Source      string `yaml:"source"`
}

var (
	templatesOnce sync.Once
	templateList  []Template
	templatesErr  error
)

// Templates returns the built-in game library.
func Templates() ([]Template, error) {
	templatesOnce.Do(func() {
		var manifest struct {
			Games []Template `yaml:"games"`
		}
		if err := yaml.Unmarshal(gamesYAML, &manifest); err != nil {
			templatesErr = fmt.Errorf("scriptgen: parse template manifest: %w", err)
			return
		}
		templateList = manifest.Games
	})
	return templateList, templatesErr
}

// TemplateByID finds a template by its manifest id.
func TemplateByID(id string) (*Template, error) {
	ts, err := Templates()
	if err != nil {
		return nil, err
	}
	for i := range ts {
		if ts[i].ID == id {
			return &ts[i], nil
		}
	}
	return nil, fmt.Errorf("scriptgen: template %q not found", id)
}

// RandomTemplate picks one of the built-in games.
func RandomTemplate() (*Template, error) {
	ts, err := Templates()
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("scriptgen: template library is empty")
	}
	return &ts[fastrand.Uint32n(uint32(len(ts)))], nil
}
