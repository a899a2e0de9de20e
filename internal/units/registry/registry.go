package registry

import (
	"github.com/dshills/thunder/internal/logging"
	"github.com/dshills/thunder/internal/units"
)

// Registry bundles the three tables populated by a definitions load.
type Registry struct {
	// Symbols maps display symbols to units.
	Symbols *Table[*units.Unit]
	// Units maps unit names to units.
	Units *Table[*units.Unit]
	// Groups maps group names to groups.
	Groups *Table[*units.Group]
}

// New creates an empty registry.
func New(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("registry")
	return &Registry{
		Symbols: NewTable[*units.Unit]("symbol", logger),
		Units:   NewTable[*units.Unit]("unit", logger),
		Groups:  NewTable[*units.Group]("group", logger),
	}
}

// UnitByName returns the unit registered under name.
func (r *Registry) UnitByName(name string) (*units.Unit, bool) {
	return r.Units.Get(name)
}

// UnitBySymbol resolves an identifier that may be either a unit name or a
// symbol. Unit names take precedence.
func (r *Registry) UnitBySymbol(id string) (*units.Unit, bool) {
	if u, ok := r.Units.Get(id); ok {
		return u, true
	}
	return r.Symbols.Get(id)
}

// Group returns the group registered under name.
func (r *Registry) Group(name string) (*units.Group, bool) {
	return r.Groups.Get(name)
}
