// Package catalog holds the static list of service profiles a node can launch.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"undocked"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type file struct {
	Profiles []undocked.ServiceProfile `yaml:"profiles"`
}

// Catalog is an ordered set of profiles keyed by name. Profiles can be
// added at runtime but a listed profile never changes.
type Catalog struct {
	mu       sync.RWMutex
	profiles []undocked.ServiceProfile
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("parse embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog file, or a compose file when path is named like
// one. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	parse := Parse
	if isComposeFile(path) {
		parse = func(data []byte) (*Catalog, error) { return ParseCompose(context.Background(), data) }
	}
	c, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return newCatalog(f.Profiles)
}

func newCatalog(profiles []undocked.ServiceProfile) (*Catalog, error) {
	seen := make(map[string]struct{}, len(profiles))
	for i, p := range profiles {
		name, err := validate(i, p)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			return nil, fmt.Errorf("profile %q: duplicate name", name)
		}
		seen[strings.ToLower(name)] = struct{}{}
		profiles[i].Name = name
	}
	return &Catalog{profiles: profiles}, nil
}

func validate(i int, p undocked.ServiceProfile) (string, error) {
	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		return "", fmt.Errorf("profile %d: name is required", i)
	case strings.TrimSpace(p.Image) == "":
		return "", fmt.Errorf("profile %q: image is required", name)
	case p.ContainerPort < 1 || p.ContainerPort > 65535:
		return "", fmt.Errorf("profile %q: container port %d out of range", name, p.ContainerPort)
	case p.RateLimitPerMin < 0:
		return "", fmt.Errorf("profile %q: rate limit must not be negative", name)
	}
	return name, nil
}

// Add registers a new profile. Names are unique case-insensitively, so an
// existing profile is never replaced.
func (c *Catalog) Add(p undocked.ServiceProfile) (undocked.ServiceProfile, error) {
	name, err := validate(0, p)
	if err != nil {
		return undocked.ServiceProfile{}, fmt.Errorf("add profile: %w: %v", undocked.ErrInvalidArgument, err)
	}
	p.Name = name
	p = clone(p)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.profiles {
		if strings.EqualFold(existing.Name, name) {
			return undocked.ServiceProfile{}, fmt.Errorf("add profile %q: %w", name, undocked.ErrAlreadyExists)
		}
	}
	c.profiles = append(c.profiles, p)
	return clone(p), nil
}

// List returns copies of every profile in catalog order.
func (c *Catalog) List() []undocked.ServiceProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]undocked.ServiceProfile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, clone(p))
	}
	return out
}

// Recommended returns the profiles flagged as recommended.
func (c *Catalog) Recommended() []undocked.ServiceProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]undocked.ServiceProfile, 0, len(c.profiles))
	for _, p := range c.profiles {
		if p.Recommended {
			out = append(out, clone(p))
		}
	}
	return out
}

// Get looks a profile up by name, case-insensitively.
func (c *Catalog) Get(name string) (undocked.ServiceProfile, bool) {
	name = strings.TrimSpace(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.profiles {
		if strings.EqualFold(p.Name, name) {
			return clone(p), true
		}
	}
	return undocked.ServiceProfile{}, false
}

func clone(p undocked.ServiceProfile) undocked.ServiceProfile {
	if p.Env != nil {
		env := make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			env[k] = v
		}
		p.Env = env
	}
	p.Command = slices.Clone(p.Command)
	return p
}
