// Package templates resolves named message templates and fills their
// {{ name }} placeholders.
package templates

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"gopkg.in/yaml.v3"
)

// Template is one named message body.
type Template struct {
	Text    string `yaml:"text"`
	Message string `yaml:"message"`
	Format  string `yaml:"format"` // "" or "text", or "html"
}

// body returns the template text, preferring text over message.
func (t Template) body() string {
	if t.Text != "" {
		return t.Text
	}
	return t.Message
}

// Store holds templates by key.
type Store struct {
	mu        sync.RWMutex
	templates map[string]string
}

// New creates a Store from already-rendered template bodies.
func New(bodies map[string]string) *Store {
	s := &Store{templates: make(map[string]string, len(bodies))}
	for k, v := range bodies {
		s.templates[k] = v
	}
	return s
}

// Load reads a YAML file mapping template keys to either a plain string or
// a {text|message, format} mapping. HTML templates are converted to
// Markdown once at load time. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("templates file not found, no notifications will be sent", "path", path)
			return New(nil), nil
		}
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return Parse(data)
}

// Parse builds a Store from YAML bytes.
func Parse(data []byte) (*Store, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	bodies := make(map[string]string, len(raw))
	for key, node := range raw {
		var tpl Template
		switch node.Kind {
		case yaml.ScalarNode:
			tpl.Text = node.Value
		case yaml.MappingNode:
			if err := node.Decode(&tpl); err != nil {
				return nil, fmt.Errorf("template %s: %w", key, err)
			}
		default:
			return nil, fmt.Errorf("template %s: expected string or mapping", key)
		}

		body := tpl.body()
		switch strings.ToLower(tpl.Format) {
		case "", "text":
		case "html":
			md, err := htmltomarkdown.ConvertString(body)
			if err != nil {
				return nil, fmt.Errorf("template %s: convert html: %w", key, err)
			}
			body = md
		default:
			return nil, fmt.Errorf("template %s: unknown format %q", key, tpl.Format)
		}
		bodies[key] = body
	}
	return New(bodies), nil
}

// Resolve fills the template for key with subs. It reports false when the
// template is absent or renders empty, meaning nothing should be sent.
func (s *Store) Resolve(key string, subs map[string]string) (string, bool) {
	s.mu.RLock()
	body, ok := s.templates[key]
	s.mu.RUnlock()
	if !ok {
		slog.Info("template not found", "key", key)
		return "", false
	}
	out := Substitute(body, subs)
	if out == "" {
		return "", false
	}
	return out, true
}

// Keys returns the template keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.templates))
	for k := range s.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Substitute replaces every {{ k }} placeholder, whitespace tolerant, with
// the literal value of subs[k]. Unknown placeholders are left in place.
func Substitute(body string, subs map[string]string) string {
	keys := make([]string, 0, len(subs))
	for k := range subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		re := regexp.MustCompile(`\{\{\s*` + regexp.QuoteMeta(k) + `\s*\}\}`)
		body = re.ReplaceAllLiteralString(body, subs[k])
	}
	return body
}
