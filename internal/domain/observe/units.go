package observe

// Fixed unit conversion constants.
const (
	PoundsToKg = 0.453592
	OuncesToKg = 0.0283495
	InchesToCm = 2.54
	FeetToCm   = 30.48
)

// Plausibility ranges; out-of-range values are dropped, not clamped. Bounds
// are exclusive.
const (
	HeightMinCm = 50.0
	HeightMaxCm = 250.0
	WeightMinKg = 20.0
	WeightMaxKg = 300.0
)

// NormalizeHeight converts a height reading to centimeters. The unit tag must
// already be lowercased. Returns false for an unrecognized unit.
func NormalizeHeight(value float64, unit string) (float64, bool) {
	switch unit {
	case "cm":
		return value, true
	case "inch", "inches":
		return value * InchesToCm, true
	case "feet", "feets":
		return value * FeetToCm, true
	default:
		return 0, false
	}
}

// NormalizeWeight converts a weight reading to kilograms. Returns false for
// an unrecognized unit.
func NormalizeWeight(value float64, unit string) (float64, bool) {
	switch unit {
	case "kg":
		return value, true
	case "lbs":
		return value * PoundsToKg, true
	case "oz":
		return value * OuncesToKg, true
	default:
		return 0, false
	}
}

func HeightInRange(cm float64) bool {
	return cm > HeightMinCm && cm < HeightMaxCm
}

func WeightInRange(kg float64) bool {
	return kg > WeightMinKg && kg < WeightMaxKg
}
