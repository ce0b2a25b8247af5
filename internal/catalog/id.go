package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/atmx/balance-engine/internal/model"
)

// classIDRegex matches: {namespace}:{item}
// Example: tacz:gun_frame
var classIDRegex = regexp.MustCompile(`^([a-z0-9_.-]+):([a-z0-9_./-]+)$`)

var (
	ErrInvalidClassID    = errors.New("catalog: invalid resource class id")
	ErrInvalidDefinition = errors.New("catalog: invalid resource class definition")
)

// ClassID is a parsed resource-class identifier.
type ClassID struct {
	Namespace string
	Item      string
}

func (c ClassID) String() string { return c.Namespace + ":" + c.Item }

// ParseClassID parses and validates a resource class id.
// Format: {namespace}:{item}, lower case.
func ParseClassID(id string) (ClassID, error) {
	m := classIDRegex.FindStringSubmatch(id)
	if m == nil {
		return ClassID{}, fmt.Errorf("%w: %q (expected {namespace}:{item})", ErrInvalidClassID, id)
	}
	return ClassID{Namespace: m[1], Item: m[2]}, nil
}

// namespaceOf returns the namespace of id, or "" when id is malformed.
func namespaceOf(id string) string {
	if c, err := ParseClassID(id); err == nil {
		return c.Namespace
	}
	return ""
}

// InferCategory derives a category from the item part of a class id.
func InferCategory(item string) model.Category {
	item = strings.ToLower(item)
	switch {
	case strings.Contains(item, "ingot"), isOre(item):
		return model.CategoryResource
	case strings.Contains(item, "bullet"), strings.Contains(item, "shell"), strings.Contains(item, "ammo"):
		return model.CategoryMunition
	case strings.Contains(item, "part"), strings.Contains(item, "component"), strings.Contains(item, "frame"),
		strings.Contains(item, "core"), strings.Contains(item, "crystal"):
		return model.CategoryComponent
	case strings.Contains(item, "weapon"), strings.Contains(item, "gun"), strings.Contains(item, "cannon"):
		return model.CategoryWeapon
	}
	return model.CategoryMisc
}

// VanillaEquivalent maps an unknown item name onto a reference commodity.
func VanillaEquivalent(item string) string {
	item = strings.ToLower(item)
	switch {
	case strings.Contains(item, "ingot"):
		switch {
		case strings.Contains(item, "gold"):
			return "gold_ingot"
		case strings.Contains(item, "copper"):
			return "copper_ingot"
		}
		return "iron_ingot"
	case isOre(item):
		switch {
		case strings.Contains(item, "copper"):
			return "copper_ore"
		case strings.Contains(item, "iron"):
			return "iron_ore"
		case strings.Contains(item, "gold"):
			return "gold_ore"
		}
		return "stone"
	case strings.Contains(item, "bullet"), strings.Contains(item, "ammo"):
		return "arrow"
	case strings.Contains(item, "crystal"):
		return "diamond"
	case strings.Contains(item, "core"):
		return "nether_star"
	case strings.Contains(item, "dust"):
		return "redstone"
	}
	return "stone"
}

// isOre matches "ore" as a word so that items such as "reactor_core" are not
// mistaken for ores.
func isOre(item string) bool {
	for _, w := range strings.FieldsFunc(item, func(r rune) bool { return r == '_' || r == '-' || r == '/' || r == '.' }) {
		if w == "ore" {
			return true
		}
	}
	return false
}
