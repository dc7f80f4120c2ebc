package dereflect

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomField(rng *rand.Rand, m, n int) *mat.Dense {
	data := make([]float64, m*n)
	for i := range data {
		data[i] = rng.Float64()
	}
	return mat.NewDense(m, n, data)
}

func assertFieldsInDelta(t *testing.T, want, got mat.Matrix, delta float64) {
	t.Helper()
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, wr, gr, "rows")
	require.Equal(t, wc, gc, "cols")
	for i := range wr {
		for j := range wc {
			assert.InDelta(t, want.At(i, j), got.At(i, j), delta, "at (%d, %d)", i, j)
		}
	}
}

func TestGradient(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{
		1, 2, 4,
		0, 0, 0,
		5, 5, 6,
	})
	gx, gy := Gradient(a)

	assert.Equal(t, []float64{
		1, 2, 0,
		0, 0, 0,
		0, 1, 0,
	}, gx.RawMatrix().Data)
	assert.Equal(t, []float64{
		-1, -2, -4,
		5, 5, 6,
		0, 0, 0,
	}, gy.RawMatrix().Data)
}

func TestDivergence(t *testing.T) {
	gx := mat.NewDense(2, 3, []float64{
		1, 2, 0,
		0, 0, 0,
	})
	gy := mat.NewDense(2, 3, []float64{
		3, 0, 1,
		0, 0, 0,
	})
	div := Divergence(gx, gy)

	assert.Equal(t, []float64{
		1 + 3, 2 - 1 + 0, 0 - 2 + 1,
		0 - 3, 0, 0 - 1,
	}, div.RawMatrix().Data)
}

// Divergence is the negative adjoint of Gradient: <grad a, g> = -<a, div g>.
func TestDivergenceIsAdjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randomField(rng, 5, 7)
	px := randomField(rng, 5, 7)
	py := randomField(rng, 5, 7)
	// The adjoint pairs only with fields that vanish where Gradient does.
	for i := range 5 {
		px.Set(i, 6, 0)
	}
	for j := range 7 {
		py.Set(4, j, 0)
	}

	gx, gy := Gradient(a)
	lhs := mat.Dot(vec(gx), vec(px)) + mat.Dot(vec(gy), vec(py))
	rhs := -mat.Dot(vec(a), vec(Divergence(px, py)))
	assert.InDelta(t, lhs, rhs, 1e-12)
}

func vec(f *mat.Dense) *mat.VecDense {
	r, c := f.Dims()
	return mat.NewVecDense(r*c, mat.DenseCopyOf(f).RawMatrix().Data)
}

func TestThreshold(t *testing.T) {
	gx := mat.NewDense(1, 3, []float64{0.01, 0.3, 0.02})
	gy := mat.NewDense(1, 3, []float64{0.01, 0, 0.05})
	Threshold(gx, gy, 0.05)

	assert.Equal(t, []float64{0, 0.3, 0.02}, gx.RawMatrix().Data)
	assert.Equal(t, []float64{0, 0, 0.05}, gy.RawMatrix().Data)
}

func TestThresholdZeroIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := randomField(rng, 6, 4)

	assert.True(t, mat.Equal(Laplacian(a), ThresholdedLaplacian(a, 0)))

	rhs, lapH := RHS(a, 0, 1e-8)
	assert.True(t, mat.Equal(Laplacian(a), lapH))
	want := Laplacian(Laplacian(a))
	want.Apply(func(i, j int, v float64) float64 { return v + 1e-8*a.At(i, j) }, want)
	assert.True(t, mat.Equal(want, rhs))
}

func TestConstantField(t *testing.T) {
	a := mat.NewDense(4, 5, nil)
	a.Apply(func(_, _ int, _ float64) float64 { return 0.7 }, a)

	gx, gy := Gradient(a)
	assert.Zero(t, mat.Norm(gx, 1))
	assert.Zero(t, mat.Norm(gy, 1))
	assert.Zero(t, mat.Norm(Divergence(gx, gy), 1))

	const eps = 1e-3
	rhs, _ := RHS(a, 0.03, eps)
	for _, v := range rhs.RawMatrix().Data {
		assert.InDelta(t, eps*0.7, v, 1e-18)
	}
}

func TestLaplacianInterior(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{
		0, 0, 0,
		0, 1, 0,
		0, 0, 0,
	})
	lap := Laplacian(a)

	assert.Equal(t, -4.0, lap.At(1, 1))
	assert.Equal(t, 1.0, lap.At(0, 1))
	assert.Equal(t, 1.0, lap.At(1, 0))
	assert.Equal(t, 0.0, lap.At(0, 0))
	// Reflecting boundaries conserve the total.
	assert.InDelta(t, 0, mat.Sum(lap), 1e-15)
}
