package dereflect

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// degenerateSpan is the relative value span below which a field is treated
// as constant. Round-off from the transforms leaves ~1e-16 noise on flat inputs.
const degenerateSpan = 1e-10

// Normalize rescales vals in place into [low, high] by min-max normalization.
//
// A constant (or numerically constant) input has no range to stretch: it is
// clamped into [low, high] and Normalize returns false.
func Normalize(vals []float64, low, high float64) bool {
	if len(vals) == 0 {
		return false
	}
	lo := floats.Min(vals)
	hi := floats.Max(vals)
	span := hi - lo
	if span <= degenerateSpan*max(1, math.Abs(lo), math.Abs(hi)) {
		for i, v := range vals {
			vals[i] = min(high, max(low, v))
		}
		return false
	}
	for i, v := range vals {
		vals[i] = min(high, max(low, (v-lo)/span*(high-low)+low))
	}
	return true
}

// NormalizeFields rescales fields jointly, as if they were one array.
func NormalizeFields(fields []*mat.Dense, low, high float64) bool {
	var joint []float64
	for _, f := range fields {
		r, c := f.Dims()
		raw := f.RawMatrix()
		for y := range r {
			joint = append(joint, raw.Data[y*raw.Stride:y*raw.Stride+c]...)
		}
	}
	ok := Normalize(joint, low, high)
	off := 0
	for _, f := range fields {
		r, c := f.Dims()
		raw := f.RawMatrix()
		for y := range r {
			off += copy(raw.Data[y*raw.Stride:y*raw.Stride+c], joint[off:off+c])
		}
	}
	return ok
}
