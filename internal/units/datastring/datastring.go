// Package datastring couples a numeric value to a unit.
//
// A DataString stores its value in standard form, so it can be read back in
// any compatible unit. Minimum and maximum bounds can be enforced and the
// unit can be locked so that string input is converted rather than adopted.
//
// A DataString belongs to one caller and is not safe for concurrent use.
// Reloading the converter's definitions invalidates every DataString built
// on it.
package datastring

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/dshills/thunder/internal/notify"
	"github.com/dshills/thunder/internal/units"
	"github.com/dshills/thunder/internal/units/convert"
)

// DataString is a value bound to a unit.
type DataString struct {
	id   string
	conv *convert.Converter

	unit  *units.Unit
	value float64 // standard form
	flags Flags

	minBound float64 // standard form
	maxBound float64 // standard form

	observers *notify.Notifier
}

// New creates a zero-valued DataString in the unit identified by unit.
// If unit does not resolve the blank unit is looked up instead; when that
// is missing too the DataString has no unit and every operation fails with
// units.ErrBadUnit until SetUnit succeeds.
func New(conv *convert.Converter, unit string) *DataString {
	u, ok := conv.UnitBySymbol(unit)
	if !ok {
		u, _ = conv.UnitBySymbol("")
	}

	return &DataString{
		id:        uuid.NewString(),
		conv:      conv,
		unit:      u,
		observers: notify.New(),
	}
}

// ID returns the identifier used as the source of published events.
func (d *DataString) ID() string {
	return d.id
}

// Unit returns the current unit, or nil if none is set.
func (d *DataString) Unit() *units.Unit {
	return d.unit
}

// Converter returns the converter the DataString was created with.
func (d *DataString) Converter() *convert.Converter {
	return d.conv
}

// Flags returns the current flags.
func (d *DataString) Flags() Flags {
	return d.flags
}

// SetFlags replaces the flags.
func (d *DataString) SetFlags(f Flags) {
	d.flags = f
}

// HasFlag reports whether f is set.
func (d *DataString) HasFlag(f Flags) bool {
	return d.flags.Has(f)
}

// Standard returns the stored value in standard form.
func (d *DataString) Standard() float64 {
	return d.value
}

// MinBound returns the minimum bound in standard form.
func (d *DataString) MinBound() float64 {
	return d.minBound
}

// MaxBound returns the maximum bound in standard form.
func (d *DataString) MaxBound() float64 {
	return d.maxBound
}

// OnValueChanged registers an observer called after every stored value.
// Events carry the old and new values in standard form.
func (d *DataString) OnValueChanged(observer notify.Observer) *notify.Subscription {
	return d.observers.SubscribeKind(notify.KindValueChanged, observer)
}

// OnUnitChanged registers an observer called after the unit switches.
// Events carry the old and new unit names.
func (d *DataString) OnUnitChanged(observer notify.Observer) *notify.Subscription {
	return d.observers.SubscribeKind(notify.KindUnitChanged, observer)
}

// SetFromString parses entry such as "5 kg", validates it and stores it.
// With ForceUnit set the value is converted into the current unit; otherwise
// the parsed unit becomes the current unit.
func (d *DataString) SetFromString(entry string) error {
	if err := d.Validate(entry); err != nil {
		return err
	}

	v, sym, err := d.conv.ParseUnitString(entry)
	if err != nil {
		return err
	}

	if d.flags.Has(ForceUnit) {
		v, err = d.conv.ConvertUnits(v, sym, d.unit.Name)
		if err != nil {
			return err
		}
	} else if err := d.SetUnit(sym); err != nil {
		return err
	}

	return d.SetValue(v)
}

// Validate checks entry against the current unit and the enabled bounds
// without storing anything.
func (d *DataString) Validate(entry string) error {
	if d.unit == nil {
		return fmt.Errorf("%w: value has no unit", units.ErrBadUnit)
	}

	v, sym, err := d.conv.ParseUnitString(entry)
	if err != nil {
		return err
	}

	if !d.conv.CompatibleUnits(sym, d.unit.Name) {
		return fmt.Errorf("%w: '%s' is not compatible with '%s'", units.ErrUnitMismatch, sym, d.unit.Name)
	}

	std, err := d.conv.ConvertToStandard(v, sym)
	if err != nil {
		return err
	}

	return d.checkBounds(std, entry)
}

// checkBounds tests a standard-form value against the enabled bounds.
func (d *DataString) checkBounds(std float64, entry string) error {
	if d.flags.Has(UseMaxBound) && std > d.maxBound {
		return fmt.Errorf("%w: %s", units.ErrValueTooHigh, entry)
	}
	if d.flags.Has(UseMinBound) && std < d.minBound {
		return fmt.Errorf("%w: %s", units.ErrValueTooLow, entry)
	}
	return nil
}

// SetUnit switches the current unit. The stored standard value is kept, so
// the value read back in the new unit changes accordingly.
func (d *DataString) SetUnit(symbol string) error {
	u, ok := d.conv.UnitBySymbol(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", units.ErrBadUnit, symbol)
	}
	if u == d.unit {
		return nil
	}

	old := ""
	if d.unit != nil {
		old = d.unit.Name
	}
	d.unit = u

	d.emit(notify.KindUnitChanged, old, u.Name)
	return nil
}

// SetValue stores v, expressed in the current unit. A value outside an
// enabled bound is rejected and nothing is stored.
func (d *DataString) SetValue(v float64) error {
	if d.unit == nil {
		return fmt.Errorf("%w: value has no unit", units.ErrBadUnit)
	}

	std, err := d.conv.ConvertToStandard(v, d.unit.Name)
	if err != nil {
		return err
	}
	if err := d.checkBounds(std, format(v, d.unit)); err != nil {
		return err
	}

	old := d.value
	d.value = std

	d.emit(notify.KindValueChanged, old, std)
	return nil
}

// Value returns the stored value in the current unit.
func (d *DataString) Value() (float64, error) {
	if d.unit == nil {
		return units.Failsafe, fmt.Errorf("%w: value has no unit", units.ErrBadUnit)
	}
	return d.conv.ConvertFromStandard(d.value, d.unit.Name)
}

// ValueString returns the stored value in the current unit followed by the
// unit's default symbol, e.g. "5 kg".
func (d *DataString) ValueString() (string, error) {
	v, err := d.Value()
	if err != nil {
		return "", err
	}
	return format(v, d.unit), nil
}

// String implements fmt.Stringer.
func (d *DataString) String() string {
	s, err := d.ValueString()
	if err != nil {
		return "ERROR!"
	}
	return s
}

// ValueAs returns the stored value in another compatible unit.
func (d *DataString) ValueAs(unit string) (float64, error) {
	if _, err := d.target(unit); err != nil {
		return units.Failsafe, err
	}
	return d.conv.ConvertFromStandard(d.value, unit)
}

// ValueAsString is ValueAs followed by the target unit's default symbol.
func (d *DataString) ValueAsString(unit string) (string, error) {
	u, err := d.target(unit)
	if err != nil {
		return "", err
	}
	v, err := d.conv.ConvertFromStandard(d.value, unit)
	if err != nil {
		return "", err
	}
	return format(v, u), nil
}

// target resolves unit and checks it against the current unit.
func (d *DataString) target(unit string) (*units.Unit, error) {
	if d.unit == nil {
		return nil, fmt.Errorf("%w: value has no unit", units.ErrBadUnit)
	}
	u, ok := d.conv.UnitBySymbol(unit)
	if !ok {
		return nil, fmt.Errorf("%w: %s", units.ErrBadUnit, unit)
	}
	if !d.conv.CompatibleUnits(u.Name, d.unit.Name) {
		return nil, fmt.Errorf("%w: '%s' is not compatible with '%s'", units.ErrUnitMismatch, unit, d.unit.Name)
	}
	return u, nil
}

// SetMaxBound sets the maximum bound, given in unit. It is only enforced
// while UseMaxBound is set.
func (d *DataString) SetMaxBound(v float64, unit string) error {
	std, err := d.bound(v, unit)
	if err != nil {
		return err
	}
	d.maxBound = std
	return nil
}

// SetMinBound sets the minimum bound, given in unit. It is only enforced
// while UseMinBound is set.
func (d *DataString) SetMinBound(v float64, unit string) error {
	std, err := d.bound(v, unit)
	if err != nil {
		return err
	}
	d.minBound = std
	return nil
}

func (d *DataString) bound(v float64, unit string) (float64, error) {
	if d.unit == nil {
		return units.Failsafe, fmt.Errorf("%w: value has no unit", units.ErrBadUnit)
	}
	if !d.conv.CompatibleUnits(unit, d.unit.Name) {
		return units.Failsafe, fmt.Errorf("%w: '%s' is not compatible with '%s'", units.ErrUnitMismatch, unit, d.unit.Name)
	}
	return d.conv.ConvertToStandard(v, unit)
}

func (d *DataString) emit(kind notify.Kind, prev, next any) {
	e := notify.Event{
		Kind:     kind,
		Source:   d.id,
		Message:  kind.String(),
		OldValue: prev,
		NewValue: next,
	}
	d.observers.Notify(e)
	d.conv.Notifier().Notify(e)
}

func format(v float64, u *units.Unit) string {
	return strconv.FormatFloat(v, 'g', -1, 64) + " " + u.DefaultSymbol
}
