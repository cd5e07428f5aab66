// Package platform maps review platform identifiers to review submission URLs.
package platform

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed platforms.yaml
var defaultCatalog []byte

// Placeholder is replaced by the escaped profile identifier in review URLs.
const Placeholder = "{profile}"

const searchURL = "https://www.google.com/search?q="

// Platform describes a known review platform.
type Platform struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	ReviewURL   string `yaml:"review_url"`
	FallbackURL string `yaml:"fallback_url"`
}

// Choice is a platform offered to a customer.
type Choice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type catalogFile struct {
	Platforms []Platform `yaml:"platforms"`
}

// Catalog is an immutable set of known platforms.
type Catalog struct {
	platforms map[string]Platform
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := parse(defaultCatalog, nil)
	if err != nil {
		panic(fmt.Sprintf("platform: invalid built-in catalog: %v", err))
	}
	return c
}

// Load returns the built-in catalog with the platforms in the YAML file at
// path merged over it. An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform catalog: %w", err)
	}
	c, err := parse(data, base.platforms)
	if err != nil {
		return nil, fmt.Errorf("parse platform catalog %s: %w", path, err)
	}
	return c, nil
}

func parse(data []byte, base map[string]Platform) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	platforms := make(map[string]Platform, len(base)+len(f.Platforms))
	for id, p := range base {
		platforms[id] = p
	}
	for i, p := range f.Platforms {
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.ID == "" {
			return nil, fmt.Errorf("platform %d: id is required", i)
		}
		if p.FallbackURL == "" {
			return nil, fmt.Errorf("platform %s: fallback_url is required", p.ID)
		}
		if p.ReviewURL != "" && !strings.Contains(p.ReviewURL, Placeholder) {
			return nil, fmt.Errorf("platform %s: review_url must contain %s", p.ID, Placeholder)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		platforms[p.ID] = p
	}
	return &Catalog{platforms: platforms}, nil
}

// Lookup returns the platform with the given ID.
func (c *Catalog) Lookup(id string) (Platform, bool) {
	p, ok := c.platforms[strings.ToLower(id)]
	return p, ok
}

// ReviewURL resolves the review submission URL for a platform. A known
// platform with a profile uses its template, a known platform without one
// uses its fallback, and an unknown platform gets a search link.
func (c *Catalog) ReviewURL(id, profile string) string {
	p, ok := c.Lookup(id)
	if !ok {
		return searchURL + url.QueryEscape(id+" reviews")
	}
	if profile == "" || p.ReviewURL == "" {
		return p.FallbackURL
	}
	return strings.ReplaceAll(p.ReviewURL, Placeholder, url.PathEscape(profile))
}

// Choice builds the customer-facing choice for a platform.
func (c *Catalog) Choice(id, profile string) Choice {
	name := id
	if p, ok := c.Lookup(id); ok {
		name = p.Name
	}
	return Choice{ID: id, Name: name, URL: c.ReviewURL(id, profile)}
}
