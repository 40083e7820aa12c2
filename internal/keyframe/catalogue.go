package keyframe

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
)

// Animation is one body animation the avatar can play.
type Animation struct {
	Name        string `json:"-"`
	Description string `json:"description"`
}

// Catalogue is the set of allowed body animations, in a stable name order.
// The zero value is not usable; build one with [NewCatalogue].
type Catalogue struct {
	anims []Animation
	index map[string]int
}

// NewCatalogue builds a catalogue from anims. Duplicate and empty names are
// dropped. An empty catalogue falls back to the single [DefaultAnimation].
func NewCatalogue(anims []Animation) *Catalogue {
	c := &Catalogue{index: make(map[string]int)}
	for _, a := range anims {
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			continue
		}
		if _, dup := c.index[a.Name]; dup {
			continue
		}
		c.index[a.Name] = 0
		c.anims = append(c.anims, a)
	}
	if len(c.anims) == 0 {
		c.anims = []Animation{{Name: DefaultAnimation, Description: "站立待機，輕微呼吸起伏"}}
	}
	slices.SortFunc(c.anims, func(a, b Animation) int { return strings.Compare(a.Name, b.Name) })
	clear(c.index)
	for i, a := range c.anims {
		c.index[a.Name] = i
	}
	return c
}

// ParseCatalogue decodes the shared animations JSON: an object keyed by
// animation name whose values carry at least a description.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("keyframe: parse animations: %w", err)
	}
	anims := make([]Animation, 0, len(raw))
	for name, body := range raw {
		var a Animation
		// Entries that are not objects still name a valid animation.
		_ = json.Unmarshal(body, &a)
		a.Name = name
		anims = append(anims, a)
	}
	if len(anims) == 0 {
		return nil, fmt.Errorf("keyframe: parse animations: no animations defined")
	}
	return NewCatalogue(anims), nil
}

// LoadCatalogue reads and parses the animations file at path.
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyframe: load animations: %w", err)
	}
	return ParseCatalogue(data)
}

// Names returns the animation names in catalogue order.
func (c *Catalogue) Names() []string {
	out := make([]string, len(c.anims))
	for i, a := range c.anims {
		out[i] = a.Name
	}
	return out
}

// Animations returns a copy of the catalogue entries.
func (c *Catalogue) Animations() []Animation {
	return slices.Clone(c.anims)
}

// Has reports whether name is an allowed animation.
func (c *Catalogue) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

// Len returns the number of animations.
func (c *Catalogue) Len() int { return len(c.anims) }

// Default returns [DefaultAnimation] when present, else the first name.
func (c *Catalogue) Default() string {
	if c.Has(DefaultAnimation) {
		return DefaultAnimation
	}
	return c.anims[0].Name
}

// Alternative returns the first catalogue name not in used, or "" when every
// name is taken.
func (c *Catalogue) Alternative(used map[string]struct{}) string {
	for _, a := range c.anims {
		if _, ok := used[a.Name]; !ok {
			return a.Name
		}
	}
	return ""
}
