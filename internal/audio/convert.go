package audio

import "math"

// Sample-format conversion between the float32 pipeline format and the
// integer formats some devices deliver. Conversions are exact inverses up to
// quantization; Float32ToInt16 clamps rather than wraps on overflow.

// Int16ToFloat32 converts signed 16-bit samples to [-1, 1] floats.
func Int16ToFloat32(dst []Sample, src []int16) {
	for i, s := range src {
		dst[i] = float32(s) / math.MaxInt16
	}
}

// Uint16ToFloat32 maps unsigned 16-bit samples from [0, 65535] to [-1, 1].
func Uint16ToFloat32(dst []Sample, src []uint16) {
	for i, s := range src {
		dst[i] = float32(s)/math.MaxUint16*2 - 1
	}
}

// Float32ToInt16 converts [-1, 1] floats to signed 16-bit, clamping first.
func Float32ToInt16(dst []int16, src []Sample) {
	for i, s := range src {
		dst[i] = int16(clamp(s) * math.MaxInt16)
	}
}
