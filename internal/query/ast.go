package query

import "strings"

// Action says how a command's resolved set combines with the running set.
type Action int

const (
	// ActionAdd appends the resolved set to the running set.
	ActionAdd Action = iota
	// ActionRemove subtracts the resolved set from the running set.
	ActionRemove
	// ActionLimit intersects the running set with the resolved set.
	ActionLimit
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// Category names a primitive's source of nations.
type Category string

const (
	CategoryNations    Category = "nations"
	CategoryRegions    Category = "regions"
	CategoryTags       Category = "tags"
	CategoryWA         Category = "wa"
	CategoryNew        Category = "new"
	CategoryRefounded  Category = "refounded"
	CategoryCategories Category = "categories"
	CategoryCensus     Category = "census"
)

var categories = map[string]Category{
	"nations":    CategoryNations,
	"regions":    CategoryRegions,
	"tags":       CategoryTags,
	"wa":         CategoryWA,
	"new":        CategoryNew,
	"refounded":  CategoryRefounded,
	"categories": CategoryCategories,
	"census":     CategoryCensus,
}

// Direct reports whether the category resolves independently of the running
// set. Filter categories (categories, census) can only narrow or remove from
// the nations already collected; they cannot add.
func (c Category) Direct() bool {
	switch c {
	case CategoryCategories, CategoryCensus:
		return false
	default:
		return true
	}
}

// Primitive is a leaf criterion: a category plus its raw arguments.
// Arguments are trimmed at parse time but otherwise kept verbatim.
type Primitive struct {
	Category Category
	Args     []string
}

// Command is one step of a group fold. Exactly one of Group and Prim is set.
// Pos is the 1-based sibling index path from the root, diagnostics only.
type Command struct {
	Action Action
	Group  []*Command
	Prim   *Primitive
	Pos    []int
}

// IsGroup reports whether the command's payload is a nested group.
func (c *Command) IsGroup() bool { return c.Prim == nil }

// Canonical returns the canonical directory form of an identifier:
// trimmed, lower-cased, every space replaced with an underscore.
//
// The directory accepts either form in requests but reports nations in
// underscore form; canonicalizing both sides keeps set membership checks
// honest. Every space is replaced, so "North Pacific Region" and
// "north_pacific_region" compare equal.
func Canonical(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), " ", "_")
}
