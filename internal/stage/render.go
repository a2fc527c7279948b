package stage

import (
	"embed"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Render executes text with params. Referencing a parameter that is not
// defined is an error.
func Render(name, text string, params map[string]string) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, params); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return b.String(), nil
}

// templateText resolves a stage's template reference: inline template text,
// a built-in template name, or a file relative to dir.
func templateText(ref, dir string) (string, error) {
	if strings.Contains(ref, "\n") || strings.Contains(ref, "{{") {
		return ref, nil
	}
	if data, err := templateFS.ReadFile("templates/" + ref); err == nil {
		return string(data), nil
	}
	path := ref
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("template %q: %w", ref, err)
	}
	return string(data), nil
}

// resolveParams renders parameter values that reference other parameters.
// Values are rendered once against the unrendered set, so references do not
// chain. Fixed values win over declared parameters.
func resolveParams(declared, fixed map[string]string) (map[string]string, error) {
	raw := make(map[string]string, len(declared)+len(fixed))
	maps.Copy(raw, declared)
	maps.Copy(raw, fixed)
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		if _, ok := fixed[key]; ok || !strings.Contains(value, "{{") {
			out[key] = value
			continue
		}
		rendered, err := Render("param "+key, value, raw)
		if err != nil {
			return nil, err
		}
		out[key] = rendered
	}
	return out, nil
}
