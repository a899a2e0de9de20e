package datastring

import "strings"

// Flags controls how a DataString accepts new values.
type Flags uint8

const (
	// ForceUnit keeps the current unit when a value is set from a string;
	// the parsed value is converted into it instead.
	ForceUnit Flags = 1 << iota

	// UseMaxBound rejects values above the maximum bound.
	UseMaxBound

	// UseMinBound rejects values below the minimum bound.
	UseMinBound
)

// None is the empty flag set.
const None Flags = 0

var flagNames = []struct {
	flag Flags
	name string
}{
	{ForceUnit, "force_unit"},
	{UseMaxBound, "use_max_bound"},
	{UseMinBound, "use_min_bound"},
}

// String returns the set flags joined with '|', or "none".
func (f Flags) String() string {
	if f == None {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// Has reports whether every flag in other is set.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}
