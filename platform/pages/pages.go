package pages

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrPageNotFound  = errors.New("page not found")
	ErrInvalidConfig = errors.New("invalid page config")
)

// allowed tags for custom head elements
var headTags = map[string]bool{
	"meta": true, "link": true, "script": true, "style": true, "title": true, "base": true,
}

// HeadElement is one custom element injected into the rendered <head>, in
// the order declared by the config.
type HeadElement struct {
	Tag     string            `json:"tag" yaml:"tag"`
	Attrs   map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Content string            `json:"content,omitempty" yaml:"content,omitempty"`
}

// Script is a page script, optionally gated by a feature flag: when Flag is
// set and the flag is off the script is omitted from the rendered page.
type Script struct {
	Src  string `json:"src" yaml:"src"`
	Flag string `json:"flag,omitempty" yaml:"flag,omitempty"`
}

type Page struct {
	Path  string `json:"path" yaml:"path"`
	Title string `json:"title" yaml:"title"`

	// Props are serialized into the page as an embedded json payload.
	Props map[string]interface{} `json:"props,omitempty" yaml:"props,omitempty"`

	Scripts      []Script        `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	FeatureFlags map[string]bool `json:"featureFlags,omitempty" yaml:"featureFlags,omitempty"`
	Head         []HeadElement   `json:"head,omitempty" yaml:"head,omitempty"`
}

type Config struct {
	Pages []Page `json:"pages" yaml:"pages"`
}

// Load parses a page config. Yaml is a superset of json so both config
// formats go through the same decoder.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading page config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Pages))
	for _, page := range c.Pages {
		if page.Path == "" || !strings.HasPrefix(page.Path, "/") {
			return fmt.Errorf("%w: page path '%v' must start with '/'", ErrInvalidConfig, page.Path)
		}
		if _, ok := seen[page.Path]; ok {
			return fmt.Errorf("%w: duplicate page path '%v'", ErrInvalidConfig, page.Path)
		}
		seen[page.Path] = struct{}{}

		for _, el := range page.Head {
			if !headTags[el.Tag] {
				return fmt.Errorf("%w: head element tag '%v' is not allowed on page '%v'", ErrInvalidConfig, el.Tag, page.Path)
			}
		}
	}
	return nil
}

func (c *Config) Page(path string) (*Page, error) {
	for i := range c.Pages {
		if c.Pages[i].Path == path {
			return &c.Pages[i], nil
		}
	}
	return nil, ErrPageNotFound
}

// FlagEnabled reports whether a feature flag is on for the page. Unknown
// flags are off.
func (p *Page) FlagEnabled(flag string) bool {
	if flag == "" {
		return true
	}
	return p.FeatureFlags[flag]
}
