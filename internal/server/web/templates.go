package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// pages maps a page name to a parsed template set of base.html plus that
// page, so each page fills the base's title and content blocks.
type pages map[string]*template.Template

func parsePages() (pages, error) {
	entries, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	result := pages{}
	for _, path := range entries {
		name := strings.TrimPrefix(path, "templates/")
		if name == "base.html" {
			continue
		}
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", path)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		result[name] = tmpl
	}
	return result, nil
}

func (p pages) render(w http.ResponseWriter, status int, name string, data any) error {
	tmpl, ok := p[name]
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	var buf strings.Builder
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := fmt.Fprint(w, buf.String())
	return err
}
