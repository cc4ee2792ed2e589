// Package source defines the monitored content sources and the registry
// that validates them.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Selectors are query expressions interpreted by the fetch capability.
// Link defaults to Title when empty. Excerpt is optional.
type Selectors struct {
	Article string `yaml:"articles"`
	Title   string `yaml:"title"`
	Link    string `yaml:"link"`
	Excerpt string `yaml:"excerpt"`
}

// HasExcerpt reports whether an excerpt selector is configured.
func (s Selectors) HasExcerpt() bool {
	return strings.TrimSpace(s.Excerpt) != ""
}

// Descriptor is one monitored source.
type Descriptor struct {
	Name      string    `yaml:"name"`
	BaseURL   string    `yaml:"url"`
	Selectors Selectors `yaml:"selectors"`
}

// Validate checks that the descriptor is usable.
func (d *Descriptor) Validate() error {
	var errs []error

	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}

	u, err := url.Parse(d.BaseURL)
	switch {
	case d.BaseURL == "":
		errs = append(errs, errors.New("url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("invalid url %q: %w", d.BaseURL, err))
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		errs = append(errs, fmt.Errorf("url %q must be absolute http(s)", d.BaseURL))
	}

	if strings.TrimSpace(d.Selectors.Article) == "" {
		errs = append(errs, errors.New("articles selector is required"))
	}
	if strings.TrimSpace(d.Selectors.Title) == "" {
		errs = append(errs, errors.New("title selector is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("source %q: %w", d.Name, errors.Join(errs...))
	}
	return nil
}

// Registry is an ordered, validated, read-only set of sources.
type Registry struct {
	sources []Descriptor
}

// NewRegistry validates the descriptors and returns a registry that keeps
// their order. Names must be unique.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	if len(descs) == 0 {
		return nil, errors.New("source registry is empty")
	}

	seen := make(map[string]struct{}, len(descs))
	out := make([]Descriptor, 0, len(descs))
	var errs []error

	for i := range descs {
		d := descs[i]
		d.Name = strings.TrimSpace(d.Name)
		d.BaseURL = strings.TrimSpace(d.BaseURL)
		if d.Selectors.Link == "" {
			d.Selectors.Link = d.Selectors.Title
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[d.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate source name %q", d.Name))
			continue
		}
		seen[d.Name] = struct{}{}
		out = append(out, d)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Registry{sources: out}, nil
}

// Sources returns a copy of the descriptors in registry order.
func (r *Registry) Sources() []Descriptor {
	out := make([]Descriptor, len(r.sources))
	copy(out, r.sources)
	return out
}

// Len returns the number of sources.
func (r *Registry) Len() int { return len(r.sources) }

// Names returns the source names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.sources))
	for i := range r.sources {
		names[i] = r.sources[i].Name
	}
	return names
}

type fileFormat struct {
	Sources []Descriptor `yaml:"sources"`
}

// Parse reads a YAML registry document.
func Parse(b []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	return NewRegistry(f.Sources)
}

// LoadFile reads a YAML registry from path.
func LoadFile(path string) (*Registry, error) {
	b, err := os.ReadFile(path) //nolint:gosec // path is operator config
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return Parse(b)
}

// Defaults are the built-in news sources.
func Defaults() []Descriptor {
	return []Descriptor{
		{
			Name:    "TechCrunch",
			BaseURL: "https://techcrunch.com",
			Selectors: Selectors{
				Article: "article.post-block",
				Title:   "h2.post-block__title a",
				Link:    "h2.post-block__title a",
				Excerpt: ".post-block__content",
			},
		},
		{
			Name:    "Crunchbase News",
			BaseURL: "https://news.crunchbase.com",
			Selectors: Selectors{
				Article: "article",
				Title:   "h2 a",
				Link:    "h2 a",
				Excerpt: ".excerpt",
			},
		},
	}
}

// DefaultRegistry returns the registry of built-in sources.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Defaults())
	if err != nil {
		panic(err)
	}
	return r
}
