// Package loader parses unit definitions documents and populates a registry.
//
// A definitions document is a tree rooted at a "unitfile" element:
//
//	<unitfile name="Units" version="1.0">
//	  <unitgroup name="Mass">
//	    <unit name="gram">
//	      <multiply>1</multiply>
//	      <symbol default="true">g</symbol>
//	    </unit>
//	    <unit name="kilogram">
//	      <multiply>10^3</multiply>
//	      <symbol default="true">kg</symbol>
//	    </unit>
//	  </unitgroup>
//	</unitfile>
//
// Every load builds a fresh registry and hands it back in Info; nothing
// shared is touched until the caller publishes it.
//
// Structural failures (unparseable document, wrong root, missing or newer
// version) abort the load with a *units.UnitFileError. Problems with a single
// group, unit or symbol are published as diagnostics and only skip that entry.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/thunder/internal/logging"
	"github.com/dshills/thunder/internal/notify"
	"github.com/dshills/thunder/internal/units"
	"github.com/dshills/thunder/internal/units/registry"
)

const tracerName = "github.com/dshills/thunder/internal/units/loader"

// Element and attribute names of the definitions document.
const (
	tagUnitFile  = "unitfile"
	tagUnitGroup = "unitgroup"
	tagUnit      = "unit"
	tagMultiply  = "multiply"
	tagAdd       = "add"
	tagPreAdd    = "preadd"
	tagSymbol    = "symbol"

	attrName    = "name"
	attrVersion = "version"
	attrDefault = "default"
)

// Info summarizes a successful load.
type Info struct {
	// Name is the internal name of the definitions document.
	Name string
	// Version is the document version.
	Version float64
	// Source is the path or name the document was read from.
	Source string
	// Format is the encoding the document was decoded from.
	Format Format
	// LoadID correlates the diagnostics of this load.
	LoadID string
	// Groups is the number of registered groups.
	Groups int
	// Units is the number of registered units.
	Units int
	// Symbols is the number of registered symbols.
	Symbols int
	// Diagnostics is the number of diagnostics published.
	Diagnostics int
	// Registry holds the definitions built by this load.
	Registry *registry.Registry
}

// Loader populates a registry from definitions documents.
type Loader struct {
	fs       FileSystem
	notifier *notify.Notifier
	logger   *logging.Logger
	tracer   trace.Tracer
	format   Format
	commit   func(*Info)
}

// Option configures a Loader.
type Option func(*Loader)

// WithFileSystem sets the file system used to find and read documents.
func WithFileSystem(fsys FileSystem) Option {
	return func(l *Loader) {
		if fsys != nil {
			l.fs = fsys
		}
	}
}

// WithNotifier sets the notifier that receives diagnostics.
func WithNotifier(n *notify.Notifier) Option {
	return func(l *Loader) {
		l.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracer sets the tracer used for load spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Loader) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithFormat forces a document format instead of detecting it from the name.
func WithFormat(format Format) Option {
	return func(l *Loader) {
		l.format = format
	}
}

// WithCommit sets a function that receives every successful load before
// the reload event is published.
func WithCommit(fn func(*Info)) Option {
	return func(l *Loader) {
		l.commit = fn
	}
}

// New creates a loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		fs:     DefaultFS(),
		logger: logging.Nop(),
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.logger = l.logger.WithComponent("loader")
	return l
}

// Load reads the document at path and loads it.
// Returns units.ErrFileNotFound if the file doesn't exist.
func (l *Loader) Load(ctx context.Context, path string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := l.fs.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", units.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("stat units file %s: %w", path, err)
	}

	data, err := l.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", units.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("reading units file %s: %w", path, err)
	}

	return l.LoadData(ctx, path, data)
}

// LoadData loads a document that has already been read into memory.
// On a fatal error the partially built registry is discarded.
func (l *Loader) LoadData(ctx context.Context, source string, data []byte) (info *Info, err error) {
	ctx, span := l.tracer.Start(ctx, "units.load",
		trace.WithAttributes(attribute.String("units.source", source)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("units.load_id", info.LoadID),
				attribute.String("units.format", info.Format.String()),
				attribute.Int("units.groups", info.Groups),
				attribute.Int("units.units", info.Units),
				attribute.Int("units.diagnostics", info.Diagnostics),
			)
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := Decode(source, data, l.format)
	if err != nil {
		l.logger.WithField("source", source).Error("%v", err)
		return nil, err
	}

	s := &session{
		l:      l,
		source: source,
		loadID: uuid.NewString(),
		logger: l.logger.WithField("source", source),
		reg:    registry.New(l.logger),
	}

	info, err = s.run(doc)
	if err != nil {
		s.logger.Error("%v", err)
		return nil, err
	}

	s.logger.Info("loaded %q v%g: %d groups, %d units, %d diagnostics",
		info.Name, info.Version, info.Groups, info.Units, info.Diagnostics)

	if l.commit != nil {
		l.commit(info)
	}
	if l.notifier != nil {
		l.notifier.NotifyReload(source, info.LoadID)
	}
	return info, nil
}

// session carries the state of a single load.
type session struct {
	l           *Loader
	source      string
	loadID      string
	logger      *logging.Logger
	reg         *registry.Registry
	diagnostics int
}

// warn publishes a non-fatal diagnostic.
func (s *session) warn(detail, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.diagnostics++

	s.logger.WithField("load_id", s.loadID).Warn("Error in units file '%s' - %s", s.source, msg)
	if s.l.notifier != nil {
		s.l.notifier.NotifyDiagnostic(s.source, msg, detail, s.loadID)
	}
}

func (s *session) fatal(format string, args ...any) error {
	return &units.UnitFileError{
		Source:  s.source,
		Message: fmt.Sprintf(format, args...),
	}
}

func (s *session) run(doc *Document) (*Info, error) {
	root, ok := doc.Root()
	if !ok {
		return nil, s.fatal("file contains no data")
	}

	if !root.Is(tagUnitFile) {
		return nil, s.fatal("the file appears corrupt or incomplete (root element is '%s')", root.Tag)
	}

	name, ok := root.Attr(attrName)
	if !ok {
		s.warn("", "file has no internal units name - using default.")
		name = units.DefaultFileName
	}

	rawVersion, ok := root.Attr(attrVersion)
	if !ok {
		return nil, s.fatal("file has no version number specified")
	}
	version, err := strconv.ParseFloat(strings.TrimSpace(rawVersion), 64)
	if err != nil || version <= 0 || math.IsNaN(version) {
		return nil, s.fatal("file has no valid version number")
	}
	if version > units.FileVersion {
		return nil, s.fatal("file version %g indicates it is made for a newer version of the unit conversion library (supported: %g)",
			version, units.FileVersion)
	}

	for _, child := range root.Children {
		if child.Type == CommentNode {
			continue
		}
		if !child.Is(tagUnitGroup) {
			s.warn("", "bad tag found while parsing groups (tag was '%s'), tag ignored.", child.Tag)
			continue
		}
		s.parseGroup(child)
	}

	return &Info{
		Name:        name,
		Version:     version,
		Source:      s.source,
		Format:      doc.Format,
		LoadID:      s.loadID,
		Groups:      s.reg.Groups.Len(),
		Units:       s.reg.Units.Len(),
		Symbols:     s.reg.Symbols.Len(),
		Diagnostics: s.diagnostics,
		Registry:    s.reg,
	}, nil
}

func (s *session) parseGroup(node *Node) {
	name, ok := node.Attr(attrName)
	if !ok {
		s.warn("", "found a group with no name, ignoring group.")
		return
	}

	reg := s.reg
	if prev, exists := reg.Groups.Get(name); exists {
		s.warn(fmt.Sprintf("%d units dropped", prev.Len()),
			"duplicate group with name '%s' replaces the earlier definition.", name)
		s.evict(prev)
	}

	group := units.NewGroup(name)
	reg.Groups.Set(name, group)

	for _, child := range node.Children {
		if child.Type == CommentNode {
			continue
		}
		if !child.Is(tagUnit) {
			s.warn("", "bad tag found while parsing units of group '%s' (tag was '%s'), tag ignored.", name, child.Tag)
			continue
		}
		s.parseUnit(group, child)
	}
}

// evict unregisters the units of a group that is being replaced, so that
// every registered unit keeps exactly one group.
func (s *session) evict(g *units.Group) {
	reg := s.reg
	for _, u := range g.Units() {
		reg.Units.Delete(u.Name)
		for _, sym := range u.Symbols {
			if cur, ok := reg.Symbols.Get(sym); ok && cur == u {
				reg.Symbols.Delete(sym)
			}
		}
	}
}

func (s *session) parseUnit(group *units.Group, node *Node) {
	name, ok := node.Attr(attrName)
	if !ok {
		s.warn("", "found a unit in group '%s' with no name, ignored.", group.Name())
		return
	}

	reg := s.reg
	if reg.Units.Has(name) {
		s.warn(units.UnitExists.String(), "duplicate unit with name '%s' was found and ignored.", name)
		return
	}

	unit := units.NewUnit(name)

	// Symbols are staged and only registered together with the unit.
	var symbols []string
	staged := make(map[string]bool)

	for _, prop := range node.Children {
		if prop.Type == CommentNode {
			continue
		}

		switch units.Fold(prop.Tag) {
		case tagMultiply:
			x, err := ParseNumberString(prop.Text)
			if err != nil {
				s.warn(err.Error(), "unit '%s' has invalid '%s' value. Unit skipped.", name, prop.Tag)
				return
			}
			unit.Multiplier = x

		case tagAdd:
			x, err := ParseNumber(prop.Text)
			if err != nil {
				s.warn(err.Error(), "unit '%s' has invalid '%s' value. Unit skipped.", name, prop.Tag)
				return
			}
			unit.Adder = x

		case tagPreAdd:
			x, err := ParseNumber(prop.Text)
			if err != nil {
				s.warn(err.Error(), "unit '%s' has invalid '%s' value. Unit skipped.", name, prop.Tag)
				return
			}
			unit.PreAdder = x

		case tagSymbol:
			sym := prop.Text
			if sym == "" {
				s.warn("", "unit '%s' has an invalid symbol specified, symbol skipped.", name)
				continue
			}
			key := units.Fold(sym)
			if staged[key] || reg.Symbols.Has(sym) {
				s.warn("", "while parsing unit '%s' - a duplicate symbol was found and ignored (%s).", name, sym)
				continue
			}
			staged[key] = true
			symbols = append(symbols, sym)

			if isDefault(prop) {
				unit.DefaultSymbol = sym
			}
		}
	}

	unit.Symbols = symbols

	reg.Units.Set(name, unit)
	for _, sym := range symbols {
		reg.Symbols.Set(sym, unit)
	}

	if err := group.Add(unit); err != nil {
		// Unreachable while unit names are unique in the unit table.
		panic(fmt.Sprintf("unit %q registered twice in group %q", name, group.Name()))
	}
}

// isDefault reports whether a symbol element is marked as the default.
// The attribute counts when present unless it reads as false.
func isDefault(n *Node) bool {
	v, ok := n.Attr(attrDefault)
	if !ok {
		return false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// ParseNumber parses a numeric literal. Non-finite results are rejected.
func ParseNumber(s string) (float64, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return units.Failsafe, fmt.Errorf("%w: %q", units.ErrBadValue, s)
	}
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return units.Failsafe, fmt.Errorf("%w: %q is not finite", units.ErrBadValue, s)
	}
	return x, nil
}

// ParseNumberString parses a numeric literal optionally raised to a power,
// e.g. "10^3".
func ParseNumberString(s string) (float64, error) {
	parts := strings.Split(s, "^")
	switch len(parts) {
	case 1:
		return ParseNumber(parts[0])
	case 2:
		base, err := ParseNumber(parts[0])
		if err != nil {
			return units.Failsafe, err
		}
		exp, err := ParseNumber(parts[1])
		if err != nil {
			return units.Failsafe, err
		}
		x := math.Pow(base, exp)
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return units.Failsafe, fmt.Errorf("%w: %q is not finite", units.ErrBadValue, s)
		}
		return x, nil
	default:
		return units.Failsafe, fmt.Errorf("%w: %q has more than one '^'", units.ErrBadValue, s)
	}
}
