package units

import (
	"errors"
	"fmt"
)

// Errors returned by unit operations.
var (
	// ErrGeneric indicates an unspecified failure.
	ErrGeneric = errors.New("generic unit error")

	// ErrFileNotFound indicates the definitions source doesn't exist.
	ErrFileNotFound = errors.New("units file not found")

	// ErrBadUnitFile indicates the definitions document is structurally invalid.
	ErrBadUnitFile = errors.New("bad units file")

	// ErrUnitNotFound indicates a unit is not registered.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrGroupNotFound indicates a unit group is not registered.
	ErrGroupNotFound = errors.New("group not found")

	// ErrUnitExists indicates a unit with the same name is already registered.
	ErrUnitExists = errors.New("unit already exists")

	// ErrBadUnit indicates a unit identifier doesn't resolve.
	ErrBadUnit = errors.New("bad unit")

	// ErrBadValue indicates an invalid numeric value or result.
	ErrBadValue = errors.New("bad value")

	// ErrUnitMismatch indicates the units belong to different groups.
	ErrUnitMismatch = errors.New("unit mismatch")

	// ErrValueTooHigh indicates a value is above the maximum bound.
	ErrValueTooHigh = errors.New("value too high")

	// ErrValueTooLow indicates a value is below the minimum bound.
	ErrValueTooLow = errors.New("value too low")
)

// Code categorizes the outcome of a unit operation.
type Code uint8

const (
	// NoError indicates success.
	NoError Code = iota
	// GenericError indicates an unspecified failure.
	GenericError
	// FileNotFound indicates the definitions source doesn't exist.
	FileNotFound
	// BadUnitFile indicates a structurally invalid definitions document.
	BadUnitFile
	// UnitNotFound indicates an unregistered unit.
	UnitNotFound
	// GroupNotFound indicates an unregistered group.
	GroupNotFound
	// UnitExists indicates a duplicate unit.
	UnitExists
	// BadUnit indicates an unresolved unit identifier.
	BadUnit
	// BadValue indicates an invalid value.
	BadValue
	// UnitMismatch indicates incompatible units.
	UnitMismatch
	// ValueTooHigh indicates a value above the maximum bound.
	ValueTooHigh
	// ValueTooLow indicates a value below the minimum bound.
	ValueTooLow
)

// String returns a human-readable name for the code.
func (c Code) String() string {
	switch c {
	case NoError:
		return "no_error"
	case GenericError:
		return "generic_error"
	case FileNotFound:
		return "file_not_found"
	case BadUnitFile:
		return "bad_unit_file"
	case UnitNotFound:
		return "unit_not_found"
	case GroupNotFound:
		return "group_not_found"
	case UnitExists:
		return "unit_exists"
	case BadUnit:
		return "bad_unit"
	case BadValue:
		return "bad_value"
	case UnitMismatch:
		return "unit_mismatch"
	case ValueTooHigh:
		return "value_too_high"
	case ValueTooLow:
		return "value_too_low"
	default:
		return "unknown"
	}
}

var codeErrors = []struct {
	err  error
	code Code
}{
	{ErrFileNotFound, FileNotFound},
	{ErrBadUnitFile, BadUnitFile},
	{ErrUnitNotFound, UnitNotFound},
	{ErrGroupNotFound, GroupNotFound},
	{ErrUnitExists, UnitExists},
	{ErrBadUnit, BadUnit},
	{ErrBadValue, BadValue},
	{ErrUnitMismatch, UnitMismatch},
	{ErrValueTooHigh, ValueTooHigh},
	{ErrValueTooLow, ValueTooLow},
}

// CodeOf returns the result code for err. A nil error is NoError and any
// error that wraps none of the package sentinels is GenericError.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return GenericError
}

// UnitFileError is the fatal error returned when a definitions document
// cannot be loaded at all. Per-entry problems are reported as diagnostics
// instead.
type UnitFileError struct {
	// Source is the path or name of the document.
	Source string
	// Line is the line number where the error occurred (if available).
	Line int
	// Column is the column number where the error occurred (if available).
	Column int
	// Message describes the failure.
	Message string
	// Detail carries the underlying parser message, if any.
	Detail string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *UnitFileError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("error parsing '%s' at line %d, position %d: %s", e.Source, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("error parsing '%s' at line %d: %s", e.Source, e.Line, e.Message)
	}
	return fmt.Sprintf("error parsing '%s': %s", e.Source, e.Message)
}

// Unwrap returns the underlying error.
func (e *UnitFileError) Unwrap() error {
	return e.Err
}

// Is reports every UnitFileError as ErrBadUnitFile.
func (e *UnitFileError) Is(target error) bool {
	return target == ErrBadUnitFile
}

// ConversionError adds operation context to a conversion failure.
type ConversionError struct {
	// Op is the operation that failed (e.g. "to_standard").
	Op string
	// Unit is the unit identifier involved.
	Unit string
	// Value is the input value.
	Value float64
	// Err is the sentinel describing the failure.
	Err error
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s %v %q: %v", e.Op, e.Value, e.Unit, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConversionError) Unwrap() error {
	return e.Err
}
