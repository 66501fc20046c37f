// Package filter places catalog sprites on detected faces.
package filter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Anchor names the facial reference position a sprite is placed on.
type Anchor string

const (
	AnchorEyes       Anchor = "eyes"
	AnchorForehead   Anchor = "forehead"
	AnchorNose       Anchor = "nose"
	AnchorMouth      Anchor = "mouth"
	AnchorFaceCenter Anchor = "face-center"
)

// WidthBasis selects which measured width drives sprite scale.
type WidthBasis string

const (
	WidthEyes WidthBasis = "eyes"
	WidthFace WidthBasis = "face"
)

// Definition is one catalog entry.
type Definition struct {
	ID         string     `yaml:"id"`
	Name       string     `yaml:"name"`
	Icon       string     `yaml:"icon"`
	Image      string     `yaml:"image"`
	Anchor     Anchor     `yaml:"anchor"`
	OffsetX    float64    `yaml:"offset_x"`
	OffsetY    float64    `yaml:"offset_y"`
	Scale      float64    `yaml:"scale"`
	WidthBasis WidthBasis `yaml:"width_basis,omitempty"`
}

// Catalog is the immutable, ordered set of filters.
type Catalog struct {
	defs  []Definition
	index map[string]int
}

// NewCatalog validates defs and builds the lookup index.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:  make([]Definition, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	copy(c.defs, defs)
	for i, d := range c.defs {
		if d.ID == "" {
			return nil, fmt.Errorf("filter %d has no id", i)
		}
		if _, dup := c.index[d.ID]; dup {
			return nil, fmt.Errorf("duplicate filter id '%s'", d.ID)
		}
		switch d.Anchor {
		case AnchorEyes, AnchorForehead, AnchorNose, AnchorMouth, AnchorFaceCenter:
		default:
			return nil, fmt.Errorf("filter '%s': invalid anchor '%s'", d.ID, d.Anchor)
		}
		switch d.WidthBasis {
		case "":
			c.defs[i].WidthBasis = WidthEyes
		case WidthEyes, WidthFace:
		default:
			return nil, fmt.Errorf("filter '%s': invalid width basis '%s'", d.ID, d.WidthBasis)
		}
		if d.Scale <= 0 {
			return nil, fmt.Errorf("filter '%s': scale must be positive, got %f", d.ID, d.Scale)
		}
		c.index[d.ID] = i
	}
	return c, nil
}

// LoadCatalog reads a YAML list of definitions.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Filters []Definition `yaml:"filters"`
	}
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return NewCatalog(file.Filters)
}

// Lookup returns the definition with the given id.
func (c *Catalog) Lookup(id string) (Definition, bool) {
	i, ok := c.index[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// All returns a copy of the definitions in catalog order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len is the number of filters.
func (c *Catalog) Len() int { return len(c.defs) }

// Builtin returns the stock catalog with images resolved under dir.
func Builtin(dir string) *Catalog {
	img := func(name string) string {
		if dir == "" {
			return name
		}
		return dir + "/" + name
	}
	c, err := NewCatalog([]Definition{
		{ID: "sunglasses", Name: "Kính mát", Icon: "🕶️", Image: img("sunglasses.png"), Anchor: AnchorEyes, Scale: 1.8},
		{ID: "party-hat", Name: "Nón tiệc", Icon: "🎉", Image: img("party-hat.png"), Anchor: AnchorForehead, OffsetY: -0.6, Scale: 2.0},
		{ID: "dog-filter", Name: "Cún yêu", Icon: "🐶", Image: img("dog-filter.png"), Anchor: AnchorNose, Scale: 2.2},
		{ID: "flower-crown", Name: "Vòng hoa", Icon: "🌸", Image: img("flower-crown.png"), Anchor: AnchorForehead, OffsetY: -0.5, Scale: 2.2},
		{ID: "mustache", Name: "Ria mép", Icon: "🥸", Image: img("mustache.png"), Anchor: AnchorMouth, OffsetY: -0.15, Scale: 1.2},
		{ID: "horse-face", Name: "Mặt ngựa", Icon: "🐴", Image: img("horse_face.png"), Anchor: AnchorFaceCenter, OffsetY: 0.08, Scale: 2.2, WidthBasis: WidthFace},
	})
	if err != nil {
		panic(err)
	}
	return c
}
