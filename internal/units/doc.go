// Package units defines the data model shared by the unit conversion engine.
//
// A Unit describes one linear transform into the standard form of its group:
//
//	standard = (raw + PreAdder) * Multiplier + Adder
//
// A Multiplier of zero means no scaling is configured, so the multiply step
// is skipped instead of collapsing every value to zero.
//
// Units are collected into Groups. Two units are convertible when they belong
// to the same Group. Every identifier (unit names, symbols, group names) is
// case-insensitive; Fold produces the canonical key.
//
// # Sub-packages
//
//   - registry: case-insensitive symbol, unit and group tables
//   - loader: definitions document decoding and registry population
//   - convert: the conversion engine and "value unit" string parser
//   - datastring: a value bound to a unit with optional min/max bounds
//
// # Error Handling
//
// Failures are reported as sentinel errors that map onto a result Code:
//
//   - ErrFileNotFound: the definitions source does not exist
//   - ErrBadUnitFile: the definitions document is structurally invalid
//   - ErrBadUnit: a unit identifier does not resolve
//   - ErrBadValue: a numeric value is invalid or the arithmetic overflowed
//   - ErrUnitMismatch: the units belong to different groups
//   - ErrValueTooHigh, ErrValueTooLow: a bound check failed
//
// Fatal load failures are returned as *UnitFileError.
package units
