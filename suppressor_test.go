package dereflect

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func newTestSuppressor(t *testing.T, opt Options) *ReflectionSuppressor {
	t.Helper()
	rs, err := NewReflectionSuppressor(opt)
	require.NoError(t, err)
	return rs
}

func randomImage(rng *rand.Rand, h, w, c int) *Image {
	img := NewImage(h, w, c)
	for i := range img.Pix {
		img.Pix[i] = rng.Float64()
	}
	return img
}

func TestNewReflectionSuppressorValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"h above range", func(o *Options) { o.H = 1.5 }},
		{"h negative", func(o *Options) { o.H = -0.01 }},
		{"h NaN", func(o *Options) { o.H = math.NaN() }},
		{"lambda above range", func(o *Options) { o.Lambda = 1.1 }},
		{"mu negative", func(o *Options) { o.Mu = -1 }},
		{"epsilon zero", func(o *Options) { o.Epsilon = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := DefaultOptions()
			tt.modify(&opt)
			rs, err := NewReflectionSuppressor(opt)
			assert.Nil(t, rs)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestNewReflectionSuppressorBounds(t *testing.T) {
	for _, v := range []float64{0, 0.13, 1} {
		opt := Options{H: v, Lambda: v, Mu: v, Epsilon: 1e-8}
		rs, err := NewReflectionSuppressor(opt)
		require.NoError(t, err)
		assert.Equal(t, 1, rs.Options().Workers)
	}
}

func TestRemoveReflectionsRejectsInvalidImages(t *testing.T) {
	rs := newTestSuppressor(t, DefaultOptions())

	bright := NewImage(2, 2, 3)
	bright.Set(1, 0, 2, 1.2)
	_, err := rs.RemoveReflections(bright)
	assert.ErrorIs(t, err, ErrInvalidImageDomain)

	dark := NewImage(2, 2, 1)
	dark.Pix[0] = -0.1
	_, err = rs.RemoveReflections(dark)
	assert.ErrorIs(t, err, ErrInvalidImageDomain)

	nan := NewImage(2, 2, 1)
	nan.Pix[3] = math.NaN()
	_, err = rs.RemoveReflections(nan)
	assert.ErrorIs(t, err, ErrInvalidImageDomain)

	_, err = ImageFromShape([]int{4, 4}, make([]float64, 16))
	assert.ErrorIs(t, err, ErrInvalidImageShape)

	_, err = ImageFromShape([]int{2, 2, 3}, make([]float64, 11))
	assert.ErrorIs(t, err, ErrInvalidImageShape)

	_, err = rs.RemoveReflections(&Image{H: 2, W: 0, C: 3})
	assert.ErrorIs(t, err, ErrInvalidImageShape)

	_, err = rs.RemoveReflections(nil)
	assert.ErrorIs(t, err, ErrInvalidImageShape)
}

func TestRemoveReflectionsFlatImage(t *testing.T) {
	rs := newTestSuppressor(t, DefaultOptions())
	img, err := ImageFromShape([]int{3, 3, 3}, []float64{
		0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5,
		0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5,
		0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5,
	})
	require.NoError(t, err)

	out, err := rs.RemoveReflections(img)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 3}, out.Shape())
	first := out.Pix[0]
	for _, v := range out.Pix {
		assert.InDelta(t, first, v, 1e-9)
		assert.False(t, math.IsNaN(v))
	}
}

func TestRemoveReflectionsShapeAndRange(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	rs := newTestSuppressor(t, DefaultOptions())
	for _, shape := range [][3]int{{1, 1, 1}, {5, 3, 1}, {4, 7, 3}, {16, 9, 4}} {
		img := randomImage(rng, shape[0], shape[1], shape[2])
		orig := img.Clone()

		out, err := rs.RemoveReflections(img)
		require.NoError(t, err)
		assert.Equal(t, img.Shape(), out.Shape())
		assert.GreaterOrEqual(t, floats.Min(out.Pix), 0.0)
		assert.LessOrEqual(t, floats.Max(out.Pix), 1.0)
		assert.Equal(t, orig.Pix, img.Pix, "input must not be modified")
	}
}

// With h = 0 nothing is suppressed and the solve reproduces the input up to
// the final min-max normalization.
func TestRemoveReflectionsZeroThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	img := randomImage(rng, 8, 10, 3)
	opt := DefaultOptions()
	opt.H = 0
	rs := newTestSuppressor(t, opt)

	out, err := rs.RemoveReflections(img)
	require.NoError(t, err)

	want := img.Clone()
	Normalize(want.Pix, 0, 1)
	assert.InDeltaSlice(t, want.Pix, out.Pix, 1e-6)
}

func TestRemoveReflectionsWorkersDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	img := randomImage(rng, 12, 11, 4)

	seq := newTestSuppressor(t, DefaultOptions())
	opt := DefaultOptions()
	opt.Workers = 4
	par := newTestSuppressor(t, opt)

	a, err := seq.RemoveReflections(img)
	require.NoError(t, err)
	b, err := par.RemoveReflections(img)
	require.NoError(t, err)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestRemoveReflectionsNormalizeRHS(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	img := randomImage(rng, 9, 9, 3)
	opt := DefaultOptions()
	opt.NormalizeRHS = true
	rs := newTestSuppressor(t, opt)

	var rhs []*mat.Dense
	var mu sync.Mutex
	out, err := rs.WithObserver(ObserverFunc(func(stage Stage, _ int, f *mat.Dense) {
		if stage == StageRHS {
			mu.Lock()
			rhs = append(rhs, f)
			mu.Unlock()
		}
	})).RemoveReflections(img)
	require.NoError(t, err)
	assert.Equal(t, img.Shape(), out.Shape())

	require.Len(t, rhs, 3)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, f := range rhs {
		lo = min(lo, mat.Min(f))
		hi = max(hi, mat.Max(f))
	}
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
}

type recorder struct {
	mu     sync.Mutex
	labels map[string]int
}

func (r *recorder) Observe(stage Stage, c int, f *mat.Dense) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, cols := f.Dims()
	r.labels[stage.Label(c)] = rows * cols
}

func TestRemoveReflectionsObserver(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	img := randomImage(rng, 4, 5, 2)
	opt := DefaultOptions()
	opt.Workers = 2
	base := newTestSuppressor(t, opt)
	rec := &recorder{labels: map[string]int{}}

	_, err := base.WithObserver(rec).RemoveReflections(img)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"channel_0_laplacian":    20,
		"channel_1_laplacian":    20,
		"channel_0_rhs":          20,
		"channel_1_rhs":          20,
		"channel_0_T_matrix":     20,
		"channel_1_T_matrix":     20,
		"final_output_channel_0": 20,
		"final_output_channel_1": 20,
	}, rec.labels)

	// The original suppressor stays unobserved.
	rec.labels = map[string]int{}
	_, err = base.RemoveReflections(img)
	require.NoError(t, err)
	assert.Empty(t, rec.labels)
}

// A step edge seen through a smooth reflection: the reflection's gradients
// stay below h, the edge is far above it.
func TestRemoveReflectionsRecoversScene(t *testing.T) {
	const (
		h, w, c = 32, 32, 3
		edge    = w / 2
	)
	scene := NewImage(h, w, c)
	composite := NewImage(h, w, c)
	for y := range h {
		refl := 0.15 * math.Sin(2*math.Pi*float64(y)/h)
		for x := range w {
			v := 0.2
			if x >= edge {
				v = 0.8
			}
			for ch := range c {
				scene.Set(y, x, ch, v)
				composite.Set(y, x, ch, v+refl)
			}
		}
	}

	opt := DefaultOptions()
	opt.H = 0.05
	rs := newTestSuppressor(t, opt)
	out, err := rs.RemoveReflections(composite)
	require.NoError(t, err)

	for ch := range c {
		want := scene.Channel(ch).RawMatrix().Data
		before := stat.Correlation(want, composite.Channel(ch).RawMatrix().Data, nil)
		after := stat.Correlation(want, out.Channel(ch).RawMatrix().Data, nil)
		assert.Greater(t, after, before, "channel %d", ch)
		assert.Greater(t, after, 0.97, "channel %d", ch)

		t.Logf("channel %d: correlation with scene %.4f -> %.4f", ch, before, after)
	}

	// The strongest horizontal step of every row stays at the scene edge.
	for y := range h {
		best, bestX := -1.0, -1
		for x := range w - 1 {
			d := math.Abs(out.At(y, x+1, 0) - out.At(y, x, 0))
			if d > best {
				best, bestX = d, x
			}
		}
		assert.Equal(t, edge-1, bestX, "row %d", y)
	}
}
