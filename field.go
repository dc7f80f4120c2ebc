package dereflect

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ============ GRADIENT / DIVERGENCE ============

// Gradient returns the forward differences of a along columns (gx) and rows (gy).
// The last column of gx and the last row of gy are zero.
func Gradient(a *mat.Dense) (gx, gy *mat.Dense) {
	h, w := a.Dims()
	gx = mat.NewDense(h, w, nil)
	gy = mat.NewDense(h, w, nil)
	src := a.RawMatrix()
	dx := gx.RawMatrix().Data
	dy := gy.RawMatrix().Data
	for y := range h {
		row := y * src.Stride
		out := y * w
		for x := range w - 1 {
			dx[out+x] = src.Data[row+x+1] - src.Data[row+x]
		}
		if y == h-1 {
			continue
		}
		next := row + src.Stride
		for x := range w {
			dy[out+x] = src.Data[next+x] - src.Data[row+x]
		}
	}
	return gx, gy
}

// Threshold zeroes, in place, every gradient vector whose magnitude is below h.
// h = 0 leaves the field unchanged.
func Threshold(gx, gy *mat.Dense, h float64) {
	if h <= 0 {
		return
	}
	rx := gx.RawMatrix()
	ry := gy.RawMatrix()
	rows, cols := gx.Dims()
	for y := range rows {
		ox := y * rx.Stride
		oy := y * ry.Stride
		for x := range cols {
			vx := rx.Data[ox+x]
			vy := ry.Data[oy+x]
			if math.Sqrt(vx*vx+vy*vy) < h {
				rx.Data[ox+x] = 0
				ry.Data[oy+x] = 0
			}
		}
	}
}

// Divergence is the backward-difference adjoint of Gradient:
//
//	div[y,x] = gx[y,x] - gx[y,x-1] + gy[y,x] - gy[y-1,x]
//
// with shifted terms outside the field taken as zero.
func Divergence(gx, gy *mat.Dense) *mat.Dense {
	h, w := gx.Dims()
	div := mat.NewDense(h, w, nil)
	rx := gx.RawMatrix()
	ry := gy.RawMatrix()
	d := div.RawMatrix().Data
	for y := range h {
		ox := y * rx.Stride
		oy := y * ry.Stride
		out := y * w
		for x := range w {
			v := rx.Data[ox+x] + ry.Data[oy+x]
			if x > 0 {
				v -= rx.Data[ox+x-1]
			}
			if y > 0 {
				v -= ry.Data[oy-ry.Stride+x]
			}
			d[out+x] = v
		}
	}
	return div
}

// ============ LAPLACIANS ============

// Laplacian is Divergence(Gradient(a)), the 5-point Laplacian with
// reflecting boundaries.
func Laplacian(a *mat.Dense) *mat.Dense {
	return Divergence(Gradient(a))
}

// ThresholdedLaplacian is the modified Laplacian: gradients with magnitude
// below h are dropped before taking the divergence.
func ThresholdedLaplacian(a *mat.Dense, h float64) *mat.Dense {
	gx, gy := Gradient(a)
	Threshold(gx, gy, h)
	return Divergence(gx, gy)
}

// RHS assembles L(L_h(a)) + epsilon*a for one channel and also returns the
// intermediate L_h(a).
func RHS(a *mat.Dense, h, epsilon float64) (rhs, lapH *mat.Dense) {
	lapH = ThresholdedLaplacian(a, h)
	rhs = Laplacian(lapH)
	rhs.Apply(func(i, j int, v float64) float64 {
		return v + epsilon*a.At(i, j)
	}, rhs)
	return rhs, lapH
}
