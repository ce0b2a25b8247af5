// Package catalog holds the static table of resource-class definitions and the
// conflict/synergy relations between them. The table is loaded from a YAML data
// file and is read-only once built.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"gopkg.in/yaml.v3"

	"github.com/atmx/balance-engine/internal/model"
)

const fallbackCacheSize = 4096

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Relation is the declared relationship between two resource classes.
type Relation int

const (
	RelationNone Relation = iota
	RelationSynergy
	RelationConflict
)

func (r Relation) String() string {
	switch r {
	case RelationSynergy:
		return "synergy"
	case RelationConflict:
		return "conflict"
	}
	return "none"
}

// Lookup is the read-only view of the catalog consumed by the engine.
type Lookup interface {
	Get(id string) (model.ResourceClassDefinition, bool)
	Relation(a, b string) Relation
	Pricing(id string) (baseValue, scarcity float64)
	Synergies(id string) []string
}

// Catalog is an immutable resource-class table.
type Catalog struct {
	defs      map[string]model.ResourceClassDefinition
	conflicts map[pair]struct{}
	synergies map[pair]struct{}
	vanilla   map[string]float64
	fallback  *lru.Cache
}

type pair struct{ a, b string }

func newPair(a, b string) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a, b}
}

// file is the on-disk layout of a catalog data file.
type file struct {
	Vanilla   map[string]float64 `yaml:"vanilla"`
	Classes   []rawClass         `yaml:"classes"`
	Relations struct {
		Conflicts [][]string `yaml:"conflicts"`
		Synergies [][]string `yaml:"synergies"`
	} `yaml:"relations"`
}

type rawClass struct {
	ID                string   `yaml:"id"`
	BaseValue         float64  `yaml:"base_value"`
	ScarcityFactor    *float64 `yaml:"scarcity_factor"`
	Category          string   `yaml:"category"`
	PowerLevel        *float64 `yaml:"power_level"`
	VanillaEquivalent string   `yaml:"vanilla_equivalent"`
	Offensive         bool     `yaml:"offensive"`
	Defensive         bool     `yaml:"defensive"`
}

// Default returns the catalog shipped with the engine.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default is invalid: %v", err))
	}
	return c
}

// LoadFile reads and parses a catalog data file.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse builds a catalog from YAML. Omitted scarcity and power levels default
// to 1.0; an omitted category is inferred from the item name.
func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog yaml: %w", err)
	}

	c := &Catalog{
		defs:      make(map[string]model.ResourceClassDefinition, len(f.Classes)),
		conflicts: make(map[pair]struct{}),
		synergies: make(map[pair]struct{}),
		vanilla:   defaultVanillaValues(),
	}
	for k, v := range f.Vanilla {
		c.vanilla[k] = v
	}

	for _, rc := range f.Classes {
		id, err := ParseClassID(rc.ID)
		if err != nil {
			return nil, err
		}
		def := model.ResourceClassDefinition{
			ID:                rc.ID,
			BaseValue:         rc.BaseValue,
			ScarcityFactor:    1.0,
			Category:          model.Category(rc.Category),
			PowerLevel:        1.0,
			VanillaEquivalent: rc.VanillaEquivalent,
			Offensive:         rc.Offensive,
			Defensive:         rc.Defensive,
		}
		if rc.ScarcityFactor != nil {
			def.ScarcityFactor = *rc.ScarcityFactor
		}
		if rc.PowerLevel != nil {
			def.PowerLevel = *rc.PowerLevel
		}
		if def.Category == "" {
			def.Category = InferCategory(id.Item)
		}
		if err := validate(def); err != nil {
			return nil, err
		}
		if _, dup := c.defs[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidDefinition, def.ID)
		}
		c.defs[def.ID] = def
	}

	for _, p := range f.Relations.Conflicts {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: conflict entry must name two members, got %v", ErrInvalidDefinition, p)
		}
		c.conflicts[newPair(p[0], p[1])] = struct{}{}
	}
	for _, p := range f.Relations.Synergies {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: synergy entry must name two members, got %v", ErrInvalidDefinition, p)
		}
		c.synergies[newPair(p[0], p[1])] = struct{}{}
	}

	cache, err := lru.New(fallbackCacheSize)
	if err != nil {
		return nil, err
	}
	c.fallback = cache
	return c, nil
}

func validate(d model.ResourceClassDefinition) error {
	if d.BaseValue <= 0 {
		return fmt.Errorf("%w: %s base_value must be positive", ErrInvalidDefinition, d.ID)
	}
	if d.ScarcityFactor < 0.1 {
		return fmt.Errorf("%w: %s scarcity_factor must be >= 0.1", ErrInvalidDefinition, d.ID)
	}
	if d.PowerLevel < 0 {
		return fmt.Errorf("%w: %s power_level must not be negative", ErrInvalidDefinition, d.ID)
	}
	if !d.Category.Valid() {
		return fmt.Errorf("%w: %s unknown category %q", ErrInvalidDefinition, d.ID, d.Category)
	}
	return nil
}

// Get returns the definition for id.
func (c *Catalog) Get(id string) (model.ResourceClassDefinition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// Len returns the number of defined classes.
func (c *Catalog) Len() int { return len(c.defs) }

// Definitions returns every definition ordered by id.
func (c *Catalog) Definitions() []model.ResourceClassDefinition {
	out := make([]model.ResourceClassDefinition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Relation reports how classes a and b relate. Relations may be declared
// between class ids or between namespaces. Unknown classes relate to nothing,
// and a pair declared both ways counts as a conflict.
func (c *Catalog) Relation(a, b string) Relation {
	if a == b {
		return RelationNone
	}
	if _, ok := c.defs[a]; !ok {
		return RelationNone
	}
	if _, ok := c.defs[b]; !ok {
		return RelationNone
	}
	candidates := c.candidatePairs(a, b)
	for _, p := range candidates {
		if _, ok := c.conflicts[p]; ok {
			return RelationConflict
		}
	}
	for _, p := range candidates {
		if _, ok := c.synergies[p]; ok {
			return RelationSynergy
		}
	}
	return RelationNone
}

func (c *Catalog) candidatePairs(a, b string) []pair {
	nsA, nsB := namespaceOf(a), namespaceOf(b)
	out := []pair{newPair(a, b)}
	if nsA != "" {
		out = append(out, newPair(nsA, b))
	}
	if nsB != "" {
		out = append(out, newPair(a, nsB))
	}
	if nsA != "" && nsB != "" && nsA != nsB {
		out = append(out, newPair(nsA, nsB))
	}
	return out
}

// Synergies lists the known classes that synergise with id, sorted.
func (c *Catalog) Synergies(id string) []string {
	if _, ok := c.defs[id]; !ok {
		return nil
	}
	var out []string
	for other := range c.defs {
		if c.Relation(id, other) == RelationSynergy {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// Pricing returns the base value and scarcity used to price id. Unknown
// classes are valued through their vanilla equivalent at scarcity 1.0.
func (c *Catalog) Pricing(id string) (float64, float64) {
	if d, ok := c.defs[id]; ok {
		return d.BaseValue, d.ScarcityFactor
	}
	return c.fallbackValue(id), 1.0
}

// Value is the catalog valuation of one unit of id.
func (c *Catalog) Value(id string) float64 {
	base, scarcity := c.Pricing(id)
	return base * scarcity
}

func (c *Catalog) fallbackValue(id string) float64 {
	if v, ok := c.fallback.Get(id); ok {
		return v.(float64)
	}
	value := 1.0
	if cid, err := ParseClassID(id); err == nil {
		if v, ok := c.vanilla[VanillaEquivalent(cid.Item)]; ok {
			value = v
		}
	}
	c.fallback.Add(id, value)
	return value
}

func defaultVanillaValues() map[string]float64 {
	return map[string]float64{
		"diamond":         10.0,
		"emerald":         8.0,
		"netherite_ingot": 15.0,
		"gold_ingot":      5.0,
		"iron_ingot":      2.0,
		"copper_ingot":    1.5,
		"redstone":        3.0,
		"glowstone_dust":  2.5,
		"blaze_powder":    7.0,
		"ghast_tear":      12.0,
		"nether_star":     50.0,
	}
}
