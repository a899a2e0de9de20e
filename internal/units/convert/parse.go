package convert

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/dshills/thunder/internal/units"
)

// ParseUnitString splits an entry such as "5 kg" or "12.5m" into its value
// and unit identifier. The unit part starts at the first letter; an empty
// value part means 0 and an empty entry yields (0, "").
//
// When the unit part does not resolve as a whole, its last space-separated
// word is tried as the unit with everything before it belonging to the value,
// so "1e3 kg" parses as (1000, "kg") and "abc kg" fails on the value.
func (c *Converter) ParseUnitString(entry string) (float64, string, error) {
	if entry == "" {
		return 0, "", nil
	}

	i := strings.IndexFunc(entry, unitStart)
	if i < 0 {
		i = len(entry)
	}
	numPart := strings.TrimSpace(entry[:i])
	unitPart := strings.TrimSpace(entry[i:])

	if unitPart != "" && !c.resolves(unitPart) {
		if j := strings.LastIndexFunc(unitPart, unicode.IsSpace); j >= 0 {
			if last := strings.TrimSpace(unitPart[j:]); c.resolves(last) {
				numPart = strings.TrimSpace(numPart + unitPart[:j])
				unitPart = last
			}
		}
	}

	value, err := parseValue(numPart)
	if err != nil {
		return units.Failsafe, "", err
	}

	if !c.resolves(unitPart) {
		return units.Failsafe, "", fmt.Errorf("%w: %q", units.ErrBadUnit, unitPart)
	}

	return value, unitPart, nil
}

func unitStart(r rune) bool {
	return unicode.IsLetter(r) || unicode.Is(unicode.So, r)
}

func (c *Converter) resolves(id string) bool {
	_, ok := c.reg.Load().UnitBySymbol(id)
	return ok
}

func parseValue(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return units.Failsafe, fmt.Errorf("%w: %q", units.ErrBadValue, s)
	}
	return v, nil
}
