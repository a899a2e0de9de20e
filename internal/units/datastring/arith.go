package datastring

import (
	"fmt"

	"github.com/dshills/thunder/internal/units"
)

// Add returns d + other as a new DataString in d's unit.
func (d *DataString) Add(other *DataString) (*DataString, error) {
	return d.combine(other, func(x, y float64) (float64, error) {
		return x + y, nil
	})
}

// Subtract returns d - other as a new DataString in d's unit.
func (d *DataString) Subtract(other *DataString) (*DataString, error) {
	return d.combine(other, func(x, y float64) (float64, error) {
		return x - y, nil
	})
}

// Multiply returns d * other as a new DataString in d's unit.
func (d *DataString) Multiply(other *DataString) (*DataString, error) {
	return d.combine(other, func(x, y float64) (float64, error) {
		return x * y, nil
	})
}

// Divide returns d / other as a new DataString in d's unit.
// A zero divisor fails with units.ErrBadValue.
func (d *DataString) Divide(other *DataString) (*DataString, error) {
	return d.combine(other, func(x, y float64) (float64, error) {
		if y == 0 {
			return units.Failsafe, fmt.Errorf("%w: division by zero", units.ErrBadValue)
		}
		return x / y, nil
	})
}

// combine brings both operands into standard form through d's unit, applies
// op and wraps the result in d's unit. Flags and bounds are not carried over.
func (d *DataString) combine(other *DataString, op func(x, y float64) (float64, error)) (*DataString, error) {
	if d.unit == nil || other == nil || other.unit == nil {
		return nil, fmt.Errorf("%w: operand has no unit", units.ErrBadUnit)
	}

	x := d.value

	yv, err := other.ValueAs(d.unit.Name)
	if err != nil {
		return nil, err
	}
	y, err := d.conv.ConvertToStandard(yv, d.unit.Name)
	if err != nil {
		return nil, err
	}

	z, err := op(x, y)
	if err != nil {
		return nil, err
	}

	zv, err := d.conv.ConvertFromStandard(z, d.unit.Name)
	if err != nil {
		return nil, err
	}

	result := New(d.conv, d.unit.Name)
	if err := result.SetValue(zv); err != nil {
		return nil, err
	}
	return result, nil
}
