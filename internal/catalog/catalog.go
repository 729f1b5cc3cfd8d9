package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/d-hoffmann/labrange/internal/config"
)

var ErrUnknownLab = errors.New("unknown lab")

// Lab kinds. A container lab is backed by a single image; a stack lab is a
// docker compose project started and stopped as one unit.
const (
	KindContainer = "container"
	KindStack     = "stack"
)

// Lab describes one entry in the lab catalog. The catalog is read-only to
// this service; content authoring lives in the curriculum system.
type Lab struct {
	ID          string         `yaml:"id"`
	Title       string         `yaml:"title"`
	Kind        string         `yaml:"kind"`
	Image       string         `yaml:"image"`
	Command     []string       `yaml:"command"`
	ComposeFile string         `yaml:"compose_file"`
	Limits      *config.Limits `yaml:"limits"` // nil means service defaults
}

type Catalog struct {
	labs  map[string]*Lab
	order []string
}

type catalogFile struct {
	Labs []*Lab `yaml:"labs"`
}

// Load reads the lab catalog from a YAML file and validates each entry.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{labs: make(map[string]*Lab)}
	for _, lab := range f.Labs {
		if err := validate(lab); err != nil {
			return nil, err
		}
		if _, exists := c.labs[lab.ID]; exists {
			return nil, fmt.Errorf("duplicate lab id: %s", lab.ID)
		}
		c.labs[lab.ID] = lab
		c.order = append(c.order, lab.ID)
	}
	return c, nil
}

func validate(lab *Lab) error {
	if lab.ID == "" {
		return fmt.Errorf("lab with empty id")
	}
	switch lab.Kind {
	case KindContainer:
		if lab.Image == "" {
			return fmt.Errorf("lab %s: container lab without image", lab.ID)
		}
	case KindStack:
		if lab.ComposeFile == "" {
			return fmt.Errorf("lab %s: stack lab without compose_file", lab.ID)
		}
	default:
		return fmt.Errorf("lab %s: unknown kind %q", lab.ID, lab.Kind)
	}
	return nil
}

func (c *Catalog) Get(labID string) (*Lab, error) {
	lab, ok := c.labs[labID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLab, labID)
	}
	return lab, nil
}

// List returns labs in catalog file order.
func (c *Catalog) List() []*Lab {
	result := make([]*Lab, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.labs[id])
	}
	return result
}

// EffectiveLimits merges a lab's overrides onto the service defaults.
// Containers are always created with limits; there is no unlimited lab.
func EffectiveLimits(lab *Lab, defaults config.Limits) config.Limits {
	limits := defaults
	if lab.Limits == nil {
		return limits
	}
	if lab.Limits.CPULimit > 0 {
		limits.CPULimit = lab.Limits.CPULimit
	}
	if lab.Limits.MemLimitMB > 0 {
		limits.MemLimitMB = lab.Limits.MemLimitMB
	}
	if lab.Limits.PidsLimit > 0 {
		limits.PidsLimit = lab.Limits.PidsLimit
	}
	return limits
}
