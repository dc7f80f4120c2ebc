package dereflect

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// dctPlan computes the orthonormal 1D DCT-II and its inverse (DCT-III) of
// length n with a single real FFT of length n (Makhoul's reordering).
// A plan holds scratch buffers and must not be shared between goroutines.
type dctPlan struct {
	n      int
	fft    *fourier.FFT
	cos    []float64 // cos(pi*k/(2n))
	sin    []float64 // sin(pi*k/(2n))
	v      []float64
	coeff  []complex128
	scale0 float64
	scaleK float64
}

func newDCTPlan(n int) *dctPlan {
	p := &dctPlan{
		n:      n,
		cos:    make([]float64, n),
		sin:    make([]float64, n),
		v:      make([]float64, n),
		coeff:  make([]complex128, n/2+1),
		scale0: math.Sqrt(1 / float64(n)),
		scaleK: math.Sqrt(2 / float64(n)),
	}
	if n > 1 {
		p.fft = fourier.NewFFT(n)
	}
	for k := range n {
		s, c := math.Sincos(math.Pi * float64(k) / float64(2*n))
		p.sin[k] = s
		p.cos[k] = c
	}
	return p
}

// forward writes the DCT-II of src into dst. dst and src may alias.
func (p *dctPlan) forward(dst, src []float64) {
	n := p.n
	if n == 1 {
		dst[0] = src[0]
		return
	}
	for i := range (n + 1) / 2 {
		p.v[i] = src[2*i]
	}
	for i := range n / 2 {
		p.v[n-1-i] = src[2*i+1]
	}
	p.fft.Coefficients(p.coeff, p.v)
	half := n / 2
	for k := range n {
		var c complex128
		if k <= half {
			c = p.coeff[k]
		} else {
			c = complex(real(p.coeff[n-k]), -imag(p.coeff[n-k]))
		}
		// Re(exp(-i*pi*k/2n) * V[k])
		y := real(c)*p.cos[k] + imag(c)*p.sin[k]
		if k == 0 {
			dst[k] = y * p.scale0
		} else {
			dst[k] = y * p.scaleK
		}
	}
}

// inverse writes the DCT-III (inverse of forward) of src into dst. dst and
// src may alias.
func (p *dctPlan) inverse(dst, src []float64) {
	n := p.n
	if n == 1 {
		dst[0] = src[0]
		return
	}
	unscale := func(k int) float64 {
		if k == 0 {
			return src[0] / p.scale0
		}
		if k == n {
			return 0
		}
		return src[k] / p.scaleK
	}
	for k := range n/2 + 1 {
		re := unscale(k)
		im := -unscale(n - k)
		if k == 0 {
			im = 0
		}
		// exp(i*pi*k/2n) * (Y[k] - i*Y[n-k])
		p.coeff[k] = complex(re*p.cos[k]-im*p.sin[k], re*p.sin[k]+im*p.cos[k])
	}
	p.fft.Sequence(p.v, p.coeff)
	inv := 1 / float64(n)
	for i := range (n + 1) / 2 {
		dst[2*i] = p.v[i] * inv
	}
	for i := range n / 2 {
		dst[2*i+1] = p.v[n-1-i] * inv
	}
}

// DCT2 returns the orthonormal 2D DCT-II of f, applied along rows and then columns.
func DCT2(f *mat.Dense) *mat.Dense {
	return transform2(f, false)
}

// IDCT2 returns the orthonormal 2D inverse DCT of f.
func IDCT2(f *mat.Dense) *mat.Dense {
	return transform2(f, true)
}

func transform2(f *mat.Dense, inverse bool) *mat.Dense {
	h, w := f.Dims()
	out := mat.DenseCopyOf(f)
	raw := out.RawMatrix()

	rowPlan := newDCTPlan(w)
	for y := range h {
		row := raw.Data[y*raw.Stride : y*raw.Stride+w]
		if inverse {
			rowPlan.inverse(row, row)
		} else {
			rowPlan.forward(row, row)
		}
	}

	colPlan := newDCTPlan(h)
	col := make([]float64, h)
	for x := range w {
		for y := range h {
			col[y] = raw.Data[y*raw.Stride+x]
		}
		if inverse {
			colPlan.inverse(col, col)
		} else {
			colPlan.forward(col, col)
		}
		for y := range h {
			raw.Data[y*raw.Stride+x] = col[y]
		}
	}
	return out
}
