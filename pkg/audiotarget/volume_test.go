package audiotarget

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolumeScaling(t *testing.T) {
	assert.Equal(t, 42, NativeVolume(0.42).Percent())
	assert.InDelta(t, 0.42, PercentVolume(42).Native(), 1e-6)

	for percent := 0; percent <= 100; percent++ {
		assert.Equal(t, percent, NativeVolume(PercentVolume(percent).Native()).Percent(), "percent %d", percent)
	}

	scaled := NewVolume(5, 0, 10).ScaleTo(-1, 1)
	assert.InDelta(t, 0, scaled.Value, 1e-9)
	assert.Equal(t, -1.0, scaled.Min)
	assert.Equal(t, 1.0, scaled.Max)
}

func TestVolumeClamping(t *testing.T) {
	assert.Equal(t, 100, PercentVolume(150).Percent())
	assert.Equal(t, 0, PercentVolume(-20).Percent())
	assert.Equal(t, float32(1), NativeVolume(1.7).Native())
	assert.Equal(t, float32(0), NativeVolume(-0.1).Native())

	v := PercentVolume(98)
	assert.Equal(t, 100, v.Add(5).Percent())
	assert.Equal(t, 0, v.Add(-500).Percent())
	assert.Equal(t, 98, v.Percent(), "Add doesn't mutate the receiver")

	assert.Equal(t, 0.0, NewVolume(math.NaN(), 0, 1).Value)
}

func TestVolumeSwappedBounds(t *testing.T) {
	v := NewVolume(20, 10, 0)

	assert.Equal(t, 0.0, v.Min)
	assert.Equal(t, 10.0, v.Max)
	assert.Equal(t, 10.0, v.Value)
}

func TestVolumeDegenerateRange(t *testing.T) {
	v := NewVolume(3, 3, 3)

	assert.Equal(t, 0, v.Percent())
}

func TestVolumeCompare(t *testing.T) {
	assert.True(t, PercentVolume(50).Equal(NativeVolume(0.5)))
	assert.Equal(t, -1, PercentVolume(49).Compare(NativeVolume(0.5)))
	assert.Equal(t, 1, NativeVolume(0.75).Compare(PercentVolume(70)))
	assert.Equal(t, 0, NewVolume(0.3, 0, 1).Compare(NewVolume(0.1+0.2, 0, 1)))
}
