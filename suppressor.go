package dereflect

import (
	"fmt"

	"github.com/remeh/sizedwaitgroup"
	"gonum.org/v1/gonum/mat"
)

type Options struct {
	// Gradient threshold. Gradients weaker than H are treated as reflection.
	// Must be within [0, 1]; useful values are 0-0.13. 0 disables suppression.
	H float64
	// Weight of the Laplacian term of the solve. Within [0, 1].
	Lambda float64
	// Weight of the squared-Laplacian term of the solve. Within [0, 1].
	Mu float64
	// Stabilizer added to the right-hand side and the denominator. Must be > 0.
	Epsilon float64
	// Channels solved concurrently. Values below 1 mean 1.
	Workers int
	// Min-max rescale the joint multi-channel right-hand side into [0, 1]
	// before solving. Raises output contrast; off by default.
	NormalizeRHS bool
}

func DefaultOptions() Options {
	return Options{
		H:       0.03,
		Lambda:  0,
		Mu:      1,
		Epsilon: 1e-8,
		Workers: 1,
	}
}

// Validate checks the parameter ranges.
func (opt Options) Validate() error {
	if !(opt.H >= 0 && opt.H <= 1) {
		return fmt.Errorf("%w: h must be within [0, 1], got %g (recommended 0-0.13)", ErrInvalidParameter, opt.H)
	}
	if !(opt.Lambda >= 0 && opt.Lambda <= 1) {
		return fmt.Errorf("%w: lambda must be within [0, 1], got %g", ErrInvalidParameter, opt.Lambda)
	}
	if !(opt.Mu >= 0 && opt.Mu <= 1) {
		return fmt.Errorf("%w: mu must be within [0, 1], got %g", ErrInvalidParameter, opt.Mu)
	}
	if !(opt.Epsilon > 0) {
		return fmt.Errorf("%w: epsilon must be positive, got %g", ErrInvalidParameter, opt.Epsilon)
	}
	return nil
}

// ============ OBSERVER ============

// Stage identifies an intermediate field handed to an Observer.
type Stage int

const (
	StageThresholdLaplacian Stage = iota // L_h of the input channel
	StageRHS                             // right-hand side, after optional joint rescale
	StageSolved                          // per-channel solution before output normalization
	StageOutput                          // channel of the normalized result
)

func (s Stage) String() string {
	switch s {
	case StageThresholdLaplacian:
		return "laplacian_h"
	case StageRHS:
		return "rhs"
	case StageSolved:
		return "solved"
	default:
		return "output"
	}
}

// Label names the field of channel c at stage s.
func (s Stage) Label(c int) string {
	switch s {
	case StageThresholdLaplacian:
		return fmt.Sprintf("channel_%d_laplacian", c)
	case StageRHS:
		return fmt.Sprintf("channel_%d_rhs", c)
	case StageSolved:
		return fmt.Sprintf("channel_%d_T_matrix", c)
	default:
		return fmt.Sprintf("final_output_channel_%d", c)
	}
}

// Observer receives intermediate fields. The field is owned by the
// suppressor and must not be modified. With Workers > 1 Observe is called
// from several goroutines.
type Observer interface {
	Observe(stage Stage, channel int, field *mat.Dense)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(stage Stage, channel int, field *mat.Dense)

func (f ObserverFunc) Observe(stage Stage, channel int, field *mat.Dense) {
	f(stage, channel, field)
}

// ============ SUPPRESSOR ============

// ReflectionSuppressor removes reflections from single images by thresholding
// weak gradients and re-integrating the remaining ones in the DCT domain.
// Its configuration is immutable; one instance may serve concurrent calls.
type ReflectionSuppressor struct {
	opt      Options
	kappa    *kappaCache
	observer Observer
}

func NewReflectionSuppressor(opt Options) (*ReflectionSuppressor, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	opt.Workers = max(1, opt.Workers)
	return &ReflectionSuppressor{
		opt:   opt,
		kappa: newKappaCache(),
	}, nil
}

// Options returns the configuration of rs.
func (rs *ReflectionSuppressor) Options() Options {
	return rs.opt
}

// WithObserver returns a suppressor sharing rs's configuration and kappa
// cache that reports intermediate fields to o.
func (rs *ReflectionSuppressor) WithObserver(o Observer) *ReflectionSuppressor {
	cp := *rs
	cp.observer = o
	return &cp
}

func (rs *ReflectionSuppressor) observe(stage Stage, c int, f *mat.Dense) {
	if rs.observer != nil {
		rs.observer.Observe(stage, c, f)
	}
}

// forEachChannel runs fn for every channel on at most opt.Workers goroutines.
func (rs *ReflectionSuppressor) forEachChannel(channels int, fn func(c int)) {
	if rs.opt.Workers <= 1 || channels == 1 {
		for c := range channels {
			fn(c)
		}
		return
	}
	swg := sizedwaitgroup.New(rs.opt.Workers)
	for c := range channels {
		swg.Add()
		go func() {
			defer swg.Done()
			fn(c)
		}()
	}
	swg.Wait()
}

// SuppressChannel solves one channel: T = Solve(L(L_h(a)) + eps*a).
// The result is not normalized.
func (rs *ReflectionSuppressor) SuppressChannel(a *mat.Dense) *mat.Dense {
	rhs, _ := RHS(a, rs.opt.H, rs.opt.Epsilon)
	m, n := a.Dims()
	return Solve(rhs, rs.kappa.get(m, n), rs.opt.Lambda, rs.opt.Mu, rs.opt.Epsilon)
}

// RemoveReflections returns the reflection-suppressed version of img with the
// same shape and values in [0, 1]. Channels are processed independently and
// the assembled result is normalized once.
func (rs *ReflectionSuppressor) RemoveReflections(img *Image) (*Image, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	opt := rs.opt

	rhs := make([]*mat.Dense, img.C)
	rs.forEachChannel(img.C, func(c int) {
		r, lapH := RHS(img.Channel(c), opt.H, opt.Epsilon)
		rs.observe(StageThresholdLaplacian, c, lapH)
		rhs[c] = r
	})
	if opt.NormalizeRHS {
		NormalizeFields(rhs, 0, 1)
	}

	out := NewImage(img.H, img.W, img.C)
	kappa := rs.kappa.get(img.H, img.W)
	rs.forEachChannel(img.C, func(c int) {
		rs.observe(StageRHS, c, rhs[c])
		t := Solve(rhs[c], kappa, opt.Lambda, opt.Mu, opt.Epsilon)
		rs.observe(StageSolved, c, t)
		// Channels write disjoint samples of out.Pix.
		out.SetChannel(c, t)
	})

	Normalize(out.Pix, 0, 1)
	if rs.observer != nil {
		for c := range out.C {
			rs.observe(StageOutput, c, out.Channel(c))
		}
	}
	return out, nil
}
