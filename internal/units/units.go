package units

import (
	"strconv"
	"strings"
)

// Unit is a weight unit symbol as it appears on a spec sheet
type Unit string

// Supported weight units
const (
	Grams     Unit = "g"
	Kilograms Unit = "kg"
	Ounces    Unit = "oz"
	Pounds    Unit = "lbs"
)

// Conversion constants (grams per unit)
const (
	gramsPerKilogram = 1000.0
	gramsPerOunce    = 28.35
	gramsPerPound    = 453.59
)

// gramsPer returns the number of grams in one of the given unit.
// Unknown units return 0, which signals "unconvertible" to Convert.
func gramsPer(u Unit) float64 {
	switch normalize(u) {
	case Grams:
		return 1
	case Kilograms:
		return gramsPerKilogram
	case Ounces:
		return gramsPerOunce
	case Pounds:
		return gramsPerPound
	default:
		return 0
	}
}

// normalize maps unit spelling variants onto the canonical symbols.
// Sheets in the wild carry both "lb" and "lbs".
func normalize(u Unit) Unit {
	switch Unit(strings.ToLower(strings.TrimSpace(string(u)))) {
	case "g", "gram", "grams":
		return Grams
	case "kg", "kgs":
		return Kilograms
	case "oz":
		return Ounces
	case "lb", "lbs":
		return Pounds
	default:
		return Unit("")
	}
}

// Valid reports whether u is a recognized weight unit.
func Valid(u Unit) bool {
	return normalize(u) != Unit("")
}

// Convert converts a scalar weight between units by normalizing through
// grams. An unknown unit on either side yields 0; callers must treat 0 as
// "unconvertible" rather than a valid measurement. No rounding is applied
// here, display rounding is the presentation layer's concern.
func Convert(value float64, from, to Unit) float64 {
	fromGrams := gramsPer(from)
	toGrams := gramsPer(to)
	if fromGrams == 0 || toGrams == 0 {
		return 0
	}
	return value * fromGrams / toGrams
}

// ParseDecimal parses user-entered numeric text leniently. Malformed input
// is coerced to 0 so downstream rule math always has a value to work with;
// blocking validation belongs to the form layer.
func ParseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
