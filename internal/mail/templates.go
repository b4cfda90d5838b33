package mail

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
)

var ErrUnknownTemplate = errors.New("unknown email template")

const baseTemplate = "_base.html"

// Renderer holds the parsed email templates. Every template named NAME.html
// is parsed together with _base.html and rendered through its "base" block.
type Renderer struct {
	templates map[string]*template.Template
	defaults  map[string]string
}

// NewRenderer parses all templates in fsys. defaults are merged into every
// render context without overriding caller-supplied keys.
func NewRenderer(fsys fs.FS, defaults map[string]string) (*Renderer, error) {
	base, err := fs.ReadFile(fsys, baseTemplate)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", baseTemplate, err)
	}

	files, err := fs.Glob(fsys, "*.html")
	if err != nil {
		return nil, err
	}

	r := &Renderer{templates: make(map[string]*template.Template), defaults: defaults}
	for _, f := range files {
		if strings.HasPrefix(f, "_") {
			continue
		}
		body, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(path.Base(f), ".html")
		tmpl, err := template.New(name).Parse(string(base))
		if err == nil {
			tmpl, err = tmpl.Parse(string(body))
		}
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", f, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Render executes the named template with a flat key/value context.
func (r *Renderer) Render(name string, data map[string]string) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	ctx := make(map[string]string, len(data)+len(r.defaults))
	for k, v := range r.defaults {
		ctx[k] = v
	}
	for k, v := range data {
		ctx[k] = v
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", ctx); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}
