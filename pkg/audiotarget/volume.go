package audiotarget

import "math"

const (
	nativeVolumeMin = 0.0
	nativeVolumeMax = 1.0

	percentVolumeMin = 0
	percentVolumeMax = 100

	// values closer than this (after rescaling) compare as equal
	volumeEpsilon = 1e-9
)

// Volume is a value bound to the inclusive range [Min, Max].
// Setting it outside of the range clamps to the nearest bound.
type Volume struct {
	Value float64
	Min   float64
	Max   float64
}

// NewVolume builds a clamped Volume; swapped bounds are put back in order
func NewVolume(value, min, max float64) Volume {
	if min > max {
		min, max = max, min
	}

	return Volume{Value: clamp(value, min, max), Min: min, Max: max}
}

// NativeVolume wraps a native 0.0-1.0 scalar
func NativeVolume(v float32) Volume {
	return NewVolume(float64(v), nativeVolumeMin, nativeVolumeMax)
}

// PercentVolume wraps a 0-100 UI value
func PercentVolume(v int) Volume {
	return NewVolume(float64(v), percentVolumeMin, percentVolumeMax)
}

// ScaleTo maps the value linearly onto [min, max]
func (v Volume) ScaleTo(min, max float64) Volume {
	if v.Max == v.Min {
		return NewVolume(min, min, max)
	}

	ratio := (v.Value - v.Min) / (v.Max - v.Min)

	return NewVolume(min+ratio*(max-min), min, max)
}

// Set returns a copy holding value, clamped to the same range
func (v Volume) Set(value float64) Volume {
	return NewVolume(value, v.Min, v.Max)
}

// Add returns a copy shifted by delta, clamped to the same range
func (v Volume) Add(delta float64) Volume {
	return v.Set(v.Value + delta)
}

// Percent rounds the value onto the 0-100 scale
func (v Volume) Percent() int {
	return int(math.Round(v.ScaleTo(percentVolumeMin, percentVolumeMax).Value))
}

// Native returns the value on the 0.0-1.0 scale
func (v Volume) Native() float32 {
	return float32(v.ScaleTo(nativeVolumeMin, nativeVolumeMax).Value)
}

// Compare orders two volumes after bringing other into v's range
func (v Volume) Compare(other Volume) int {
	if other.Min != v.Min || other.Max != v.Max {
		other = other.ScaleTo(v.Min, v.Max)
	}

	switch diff := v.Value - other.Value; {
	case math.Abs(diff) <= volumeEpsilon*math.Max(1, v.Max-v.Min):
		return 0
	case diff < 0:
		return -1
	default:
		return 1
	}
}

func (v Volume) Equal(other Volume) bool {
	return v.Compare(other) == 0
}

func clamp(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return min
	}

	return math.Max(min, math.Min(max, value))
}
