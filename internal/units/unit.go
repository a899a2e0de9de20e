package units

import (
	"math"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FileVersion is the newest definitions document version this engine reads.
const FileVersion = 1.0

// DefaultFileName is used when a definitions document carries no name.
const DefaultFileName = "Units"

// Failsafe is the value reported alongside a failed conversion.
var Failsafe = math.NaN()

// Fold returns the canonical, case-insensitive form of an identifier.
// Every key-producing boundary in the engine goes through Fold.
func Fold(key string) string {
	// cases.Caser keeps internal state, so one is built per call.
	return cases.Lower(language.Und).String(key)
}

// Unit describes a single unit and its transform into standard form.
// A Unit is not modified once it has been registered.
type Unit struct {
	// Name is the canonical identifier as written in the definitions.
	Name string

	// DefaultSymbol is the symbol used when displaying values.
	DefaultSymbol string

	// Symbols lists every symbol registered for this unit, in document order.
	Symbols []string

	// PreAdder is added to the raw value before scaling.
	PreAdder float64

	// Adder is added after scaling.
	Adder float64

	// Multiplier scales the value. Zero means no scaling is applied.
	Multiplier float64
}

// NewUnit creates a unit whose default symbol is its lower-cased name.
func NewUnit(name string) *Unit {
	return &Unit{
		Name:          name,
		DefaultSymbol: Fold(name),
	}
}

// Key returns the folded lookup key of the unit.
func (u *Unit) Key() string {
	return Fold(u.Name)
}

// Scaled reports whether the multiply step applies to this unit.
func (u *Unit) Scaled() bool {
	// A zero multiplier means the multiply step is skipped.
	return u.Multiplier != 0.0
}

// Group is a named set of mutually convertible units.
type Group struct {
	name    string
	members map[string]*Unit
	order   []*Unit
}

// NewGroup creates an empty group.
func NewGroup(name string) *Group {
	return &Group{
		name:    name,
		members: make(map[string]*Unit),
	}
}

// Name returns the group name as written in the definitions.
func (g *Group) Name() string {
	return g.name
}

// Add adds a unit to the group.
// Returns ErrUnitExists if a unit with the same name is already a member.
func (g *Group) Add(u *Unit) error {
	key := u.Key()
	if _, exists := g.members[key]; exists {
		return ErrUnitExists
	}
	g.members[key] = u
	g.order = append(g.order, u)
	return nil
}

// Contains reports whether the named unit belongs to the group.
func (g *Group) Contains(unitName string) bool {
	_, ok := g.members[Fold(unitName)]
	return ok
}

// Units returns the members in the order they were added.
func (g *Group) Units() []*Unit {
	result := make([]*Unit, len(g.order))
	copy(result, g.order)
	return result
}

// UnitNames returns the member names in the order they were added.
func (g *Group) UnitNames() []string {
	names := make([]string, len(g.order))
	for i, u := range g.order {
		names[i] = u.Name
	}
	return names
}

// Len returns the number of members.
func (g *Group) Len() int {
	return len(g.order)
}
