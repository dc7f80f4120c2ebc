package dereflect

import (
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/mat"
)

// ============ FREQUENCY-DOMAIN SOLVE ============

// Kappa returns the eigenvalues of the reflecting-boundary Laplacian in the
// DCT basis for an m×n field:
//
//	kappa[i,j] = 2 * (cos(pi*i/m) + cos(pi*j/n) - 2)
func Kappa(m, n int) *mat.Dense {
	cm := make([]float64, m)
	for i := range m {
		cm[i] = math.Cos(math.Pi * float64(i) / float64(m))
	}
	cn := make([]float64, n)
	for j := range n {
		cn[j] = math.Cos(math.Pi * float64(j) / float64(n))
	}
	k := mat.NewDense(m, n, nil)
	data := k.RawMatrix().Data
	for i := range m {
		for j := range n {
			data[i*n+j] = 2 * (cm[i] + cn[j] - 2)
		}
	}
	return k
}

// Solve returns T such that (mu*L^2 - lambda*L + epsilon*I) T = rhs, where L is
// the Laplacian whose DCT eigenvalues are kappa. rhs is not modified.
func Solve(rhs, kappa *mat.Dense, lambda, mu, epsilon float64) *mat.Dense {
	u := DCT2(rhs)
	raw := u.RawMatrix()
	kraw := kappa.RawMatrix()
	h, w := u.Dims()
	for y := range h {
		for x := range w {
			k := kraw.Data[y*kraw.Stride+x]
			raw.Data[y*raw.Stride+x] /= mu*k*k - lambda*k + epsilon
		}
	}
	return IDCT2(u)
}

type shape struct{ m, n int }

// kappaCache shares read-only kappa matrices between channels and calls.
type kappaCache struct {
	cache *lru.Cache[shape, *mat.Dense]
}

const kappaCacheSize = 16

func newKappaCache() *kappaCache {
	c, err := lru.New[shape, *mat.Dense](kappaCacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &kappaCache{cache: c}
}

func (kc *kappaCache) get(m, n int) *mat.Dense {
	key := shape{m, n}
	if k, ok := kc.cache.Get(key); ok {
		return k
	}
	k := Kappa(m, n)
	kc.cache.Add(key, k)
	return k
}
