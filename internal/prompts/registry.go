package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"

	"github.com/mrz1836/formic/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// registry holds the parsed built-in templates.
type registry struct {
	mu        sync.RWMutex
	templates map[PromptID]*template.Template
	sources   map[PromptID]string
}

//nolint:gochecknoglobals // embedded templates are parsed once
var globalRegistry = &registry{
	templates: make(map[PromptID]*template.Template),
	sources:   make(map[PromptID]string),
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"hasContent": func(s string) bool {
			return strings.TrimSpace(s) != ""
		},
		"subtaskLine": func(st domain.Subtask) string {
			line := fmt.Sprintf("- [%s] %s: %s", st.Status, st.ID, st.Content)
			if st.Notes != "" {
				line += " (" + st.Notes + ")"
			}
			return line
		},
	}
}

//nolint:gochecknoinits // embedded templates must parse at startup
func init() {
	if err := globalRegistry.load(); err != nil {
		panic(fmt.Sprintf("failed to load embedded prompt templates: %v", err))
	}
}

func (r *registry) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return fs.WalkDir(templateFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		content, err := templateFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", path, err)
		}

		// templates/brief.tmpl -> brief
		id := PromptID(strings.TrimSuffix(strings.TrimPrefix(path, "templates/"), ".tmpl"))
		tmpl, err := template.New(string(id)).Funcs(funcMap()).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", path, err)
		}
		r.templates[id] = tmpl
		r.sources[id] = string(content)
		return nil
	})
}

func (r *registry) get(id PromptID) (*template.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return tmpl, nil
}

func (r *registry) source(id PromptID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return src, nil
}
