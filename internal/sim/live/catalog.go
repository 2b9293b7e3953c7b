package live

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"shipyard.ai/internal/ship/components"
)

// Catalog holds prototype definitions keyed by id.
type Catalog struct {
	ByID map[string]Prototype
}

type Prototype struct {
	ID         string         `yaml:"id"`
	Slots      []SlotDef      `yaml:"slots,omitempty"`
	Components []ComponentDef `yaml:"components,omitempty"`
}

type SlotDef struct {
	ID       string `yaml:"id"`
	Capacity int    `yaml:"capacity,omitempty"` // 0 = unlimited
	// Defaults are prototypes spawned into the slot whenever the container is spawned.
	Defaults []string `yaml:"defaults,omitempty"`
}

type ComponentDef struct {
	Kind      string                 `yaml:"kind"`
	Payload   string                 `yaml:"payload,omitempty"`
	Solutions map[string]SolutionDef `yaml:"solutions,omitempty"`
}

type SolutionDef struct {
	MaxVolume   float64            `yaml:"max_volume"`
	Temperature float64            `yaml:"temperature,omitempty"`
	Reagents    map[string]float64 `yaml:"reagents,omitempty"`
}

type catalogFile struct {
	Prototypes []Prototype `yaml:"prototypes"`
}

func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("prototypes.yaml: %w", err)
	}
	cat := &Catalog{ByID: map[string]Prototype{}}
	for _, p := range f.Prototypes {
		if err := cat.Add(p); err != nil {
			return nil, fmt.Errorf("prototypes.yaml: %w", err)
		}
	}
	if err := cat.validateDefaults(); err != nil {
		return nil, fmt.Errorf("prototypes.yaml: %w", err)
	}
	return cat, nil
}

func (c *Catalog) Add(p Prototype) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return fmt.Errorf("prototype with empty id")
	}
	if _, dup := c.ByID[p.ID]; dup {
		return fmt.Errorf("duplicate prototype %q", p.ID)
	}
	seen := map[string]bool{}
	for _, s := range p.Slots {
		if s.ID == "" || seen[s.ID] {
			return fmt.Errorf("prototype %q: bad or duplicate slot %q", p.ID, s.ID)
		}
		seen[s.ID] = true
		if s.Capacity > 0 && len(s.Defaults) > s.Capacity {
			return fmt.Errorf("prototype %q slot %q: %d defaults exceed capacity %d", p.ID, s.ID, len(s.Defaults), s.Capacity)
		}
	}
	for _, cd := range p.Components {
		if _, err := components.Parse(cd.Kind); err != nil {
			return fmt.Errorf("prototype %q: %w", p.ID, err)
		}
	}
	if c.ByID == nil {
		c.ByID = map[string]Prototype{}
	}
	c.ByID[p.ID] = p
	return nil
}

func (c *Catalog) validateDefaults() error {
	ids := make([]string, 0, len(c.ByID))
	for id := range c.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, s := range c.ByID[id].Slots {
			for _, d := range s.Defaults {
				if _, ok := c.ByID[d]; !ok {
					return fmt.Errorf("prototype %q slot %q: unknown default %q", id, s.ID, d)
				}
			}
		}
	}
	return nil
}

func (c *Catalog) Lookup(id string) (Prototype, bool) {
	if c == nil {
		return Prototype{}, false
	}
	p, ok := c.ByID[id]
	return p, ok
}
