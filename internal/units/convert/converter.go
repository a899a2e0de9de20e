// Package convert provides the unit conversion engine.
//
// A Converter owns the registries populated from a definitions document and
// converts values between units of the same group by routing them through
// the group's standard form. All conversions are pure, synchronous
// computations over in-memory state.
//
// A load builds a complete registry off to the side and publishes it with a
// single atomic swap, so conversions running during a reload see either the
// old or the new definitions. Each operation reads the registry once. Any
// *units.Unit or bounded value obtained before a reload is stale afterwards
// and must not be used.
package convert

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/thunder/internal/logging"
	"github.com/dshills/thunder/internal/notify"
	"github.com/dshills/thunder/internal/units"
	"github.com/dshills/thunder/internal/units/loader"
	"github.com/dshills/thunder/internal/units/registry"
)

// Converter converts values between registered units.
type Converter struct {
	reg      atomic.Pointer[registry.Registry]
	loader   *loader.Loader
	notifier *notify.Notifier
	logger   *logging.Logger

	fs     loader.FileSystem
	tracer trace.Tracer

	mu       sync.Mutex
	path     string
	fileName string
	version  float64
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Converter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier sets the notifier that receives diagnostics and change events.
func WithNotifier(n *notify.Notifier) Option {
	return func(c *Converter) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithFileSystem sets the file system definitions are read from.
func WithFileSystem(fsys loader.FileSystem) Option {
	return func(c *Converter) {
		c.fs = fsys
	}
}

// WithTracer sets the tracer used for load spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Converter) {
		c.tracer = tracer
	}
}

// New creates a converter with empty registries.
func New(opts ...Option) *Converter {
	c := &Converter{
		logger: logging.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.notifier == nil {
		c.notifier = notify.New()
	}

	c.reg.Store(registry.New(c.logger))
	c.loader = loader.New(
		loader.WithFileSystem(c.fs),
		loader.WithNotifier(c.notifier),
		loader.WithLogger(c.logger),
		loader.WithTracer(c.tracer),
		loader.WithCommit(func(info *loader.Info) {
			c.reg.Store(info.Registry)
		}),
	)
	c.logger = c.logger.WithComponent("converter")

	return c
}

// Load loads the definitions document at path, replacing all registered
// units. Returns units.ErrFileNotFound if the file doesn't exist and a
// *units.UnitFileError if the document is structurally invalid.
func (c *Converter) Load(ctx context.Context, path string) (*loader.Info, error) {
	info, err := c.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	c.remember(path, info)
	return info, nil
}

// LoadData loads a definitions document that is already in memory.
func (c *Converter) LoadData(ctx context.Context, source string, data []byte) (*loader.Info, error) {
	info, err := c.loader.LoadData(ctx, source, data)
	if err != nil {
		return nil, err
	}
	c.remember("", info)
	return info, nil
}

// Reload re-reads the last document loaded with Load.
func (c *Converter) Reload(ctx context.Context) (*loader.Info, error) {
	c.mu.Lock()
	path := c.path
	c.mu.Unlock()

	if path == "" {
		return nil, fmt.Errorf("%w: no units file has been loaded", units.ErrFileNotFound)
	}
	return c.Load(ctx, path)
}

func (c *Converter) remember(path string, info *loader.Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	c.fileName = info.Name
	c.version = info.Version
}

// Path returns the path of the last document loaded with Load.
func (c *Converter) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// FileName returns the internal name of the loaded document.
func (c *Converter) FileName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileName
}

// FileVersion returns the version of the loaded document.
func (c *Converter) FileVersion() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Notifier returns the notifier events are published on.
func (c *Converter) Notifier() *notify.Notifier {
	return c.notifier
}

// Subscribe registers an observer for events of the given kind.
func (c *Converter) Subscribe(kind notify.Kind, observer notify.Observer) *notify.Subscription {
	return c.notifier.SubscribeKind(kind, observer)
}

// Registry returns the registry of the current definitions.
func (c *Converter) Registry() *registry.Registry {
	return c.reg.Load()
}

// UnitByName returns the unit with the given name.
func (c *Converter) UnitByName(name string) (*units.Unit, bool) {
	return c.reg.Load().UnitByName(name)
}

// UnitBySymbol resolves a unit name or symbol.
func (c *Converter) UnitBySymbol(id string) (*units.Unit, bool) {
	return c.reg.Load().UnitBySymbol(id)
}

// Units returns every registered unit.
func (c *Converter) Units() []*units.Unit {
	return c.reg.Load().Units.All()
}

// Groups returns every registered group.
func (c *Converter) Groups() []*units.Group {
	return c.reg.Load().Groups.All()
}

// GroupNames returns the names of every registered group.
func (c *Converter) GroupNames() []string {
	return c.reg.Load().Groups.Names()
}

// UnitsInGroup returns the names of the units in the named group.
func (c *Converter) UnitsInGroup(groupName string) ([]string, error) {
	g, ok := c.reg.Load().Group(groupName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", units.ErrGroupNotFound, groupName)
	}
	return g.UnitNames(), nil
}

// GroupOf returns the group the identified unit belongs to.
// It panics if a registered unit belongs to no group, which the loader
// never allows.
func (c *Converter) GroupOf(id string) (*units.Group, bool) {
	reg := c.reg.Load()
	u, ok := reg.UnitBySymbol(id)
	if !ok {
		return nil, false
	}
	return groupOf(reg, u), true
}

func groupOf(reg *registry.Registry, u *units.Unit) *units.Group {
	for _, g := range reg.Groups.All() {
		if g.Contains(u.Name) {
			return g
		}
	}
	panic(fmt.Sprintf("unit %q does not belong to any group", u.Name))
}

// CompatibleUnits reports whether two identifiers resolve to units of the
// same group. Unresolved identifiers are never compatible.
func (c *Converter) CompatibleUnits(a, b string) bool {
	reg := c.reg.Load()
	ua, ok := reg.UnitBySymbol(a)
	if !ok {
		return false
	}
	ub, ok := reg.UnitBySymbol(b)
	if !ok {
		return false
	}
	return compatible(reg, ua, ub)
}

func compatible(reg *registry.Registry, a, b *units.Unit) bool {
	if a == b {
		return true
	}
	return groupOf(reg, a) == groupOf(reg, b)
}

// ConvertToStandard converts a value expressed in unit into standard form.
// On failure it returns units.Failsafe (NaN) and an error wrapping
// units.ErrBadUnit or units.ErrBadValue.
func (c *Converter) ConvertToStandard(value float64, unit string) (float64, error) {
	u, ok := c.reg.Load().UnitBySymbol(unit)
	if !ok {
		return units.Failsafe, &units.ConversionError{Op: "to_standard", Unit: unit, Value: value, Err: units.ErrBadUnit}
	}
	return toStandard(value, u)
}

// ConvertFromStandard converts a standard-form value into unit.
func (c *Converter) ConvertFromStandard(value float64, unit string) (float64, error) {
	u, ok := c.reg.Load().UnitBySymbol(unit)
	if !ok {
		return units.Failsafe, &units.ConversionError{Op: "from_standard", Unit: unit, Value: value, Err: units.ErrBadUnit}
	}
	return fromStandard(value, u)
}

// ConvertUnits converts a value between two units of the same group.
func (c *Converter) ConvertUnits(value float64, from, to string) (float64, error) {
	reg := c.reg.Load()
	uf, ok := reg.UnitBySymbol(from)
	if !ok {
		return units.Failsafe, &units.ConversionError{Op: "convert", Unit: from, Value: value, Err: units.ErrBadUnit}
	}
	ut, ok := reg.UnitBySymbol(to)
	if !ok {
		return units.Failsafe, &units.ConversionError{Op: "convert", Unit: to, Value: value, Err: units.ErrBadUnit}
	}

	if !compatible(reg, uf, ut) {
		return units.Failsafe, &units.ConversionError{
			Op:    "convert",
			Unit:  fmt.Sprintf("%s -> %s", from, to),
			Value: value,
			Err:   units.ErrUnitMismatch,
		}
	}

	std, err := toStandard(value, uf)
	if err != nil {
		return units.Failsafe, err
	}
	return fromStandard(std, ut)
}

// toStandard applies standard = (raw + pre) * mul + add.
func toStandard(value float64, u *units.Unit) (float64, error) {
	x := value + u.PreAdder
	if u.Scaled() {
		x *= u.Multiplier
	}
	x += u.Adder
	return checked("to_standard", value, u, x)
}

// fromStandard applies raw = (standard - add) / mul - pre.
func fromStandard(value float64, u *units.Unit) (float64, error) {
	x := value - u.Adder
	if u.Scaled() {
		x /= u.Multiplier
	}
	x -= u.PreAdder
	return checked("from_standard", value, u, x)
}

// checked rejects results that overflowed or are undefined.
func checked(op string, in float64, u *units.Unit, out float64) (float64, error) {
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return units.Failsafe, &units.ConversionError{Op: op, Unit: u.Name, Value: in, Err: units.ErrBadValue}
	}
	return out, nil
}
