package dereflect

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidParameter is returned when h, lambda, mu or epsilon is out of range.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInvalidImageDomain is returned when an image sample lies outside [0, 1].
	ErrInvalidImageDomain = errors.New("invalid image domain")
	// ErrInvalidImageShape is returned when an image does not have exactly three axes (H, W, C).
	ErrInvalidImageShape = errors.New("invalid image shape")
)

// Image is a (row, column, channel) array of float samples.
type Image struct {
	H, W, C int
	Pix     []float64 // Interleaved channels, len = H*W*C
}

// NewImage allocates a zero image of the given size.
func NewImage(h, w, c int) *Image {
	return &Image{H: h, W: w, C: c, Pix: make([]float64, h*w*c)}
}

// ImageFromShape wraps pix as an image with the given shape.
// The shape must have exactly three positive axes and match len(pix).
func ImageFromShape(shape []int, pix []float64) (*Image, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: image must have three dimensions (H, W, C), got %d", ErrInvalidImageShape, len(shape))
	}
	img := &Image{H: shape[0], W: shape[1], C: shape[2], Pix: pix}
	if err := img.checkShape(); err != nil {
		return nil, err
	}
	return img, nil
}

// Shape returns the (H, W, C) axes of img.
func (img *Image) Shape() []int {
	return []int{img.H, img.W, img.C}
}

func (img *Image) offset(y, x int) int {
	return (y*img.W + x) * img.C
}

// At returns the sample at row y, column x, channel c.
func (img *Image) At(y, x, c int) float64 {
	return img.Pix[img.offset(y, x)+c]
}

// Set writes the sample at row y, column x, channel c.
func (img *Image) Set(y, x, c int, v float64) {
	img.Pix[img.offset(y, x)+c] = v
}

// Channel copies channel c into an H×W field.
func (img *Image) Channel(c int) *mat.Dense {
	f := mat.NewDense(img.H, img.W, nil)
	raw := f.RawMatrix()
	for y := range img.H {
		row := y * raw.Stride
		for x := range img.W {
			raw.Data[row+x] = img.Pix[img.offset(y, x)+c]
		}
	}
	return f
}

// SetChannel copies an H×W field into channel c.
func (img *Image) SetChannel(c int, f *mat.Dense) {
	raw := f.RawMatrix()
	for y := range img.H {
		row := y * raw.Stride
		for x := range img.W {
			img.Pix[img.offset(y, x)+c] = raw.Data[row+x]
		}
	}
}

// Clone returns a deep copy of img.
func (img *Image) Clone() *Image {
	out := &Image{H: img.H, W: img.W, C: img.C, Pix: make([]float64, len(img.Pix))}
	copy(out.Pix, img.Pix)
	return out
}

func (img *Image) checkShape() error {
	if img.H <= 0 || img.W <= 0 || img.C <= 0 {
		return fmt.Errorf("%w: axes must be positive, got (%d, %d, %d)", ErrInvalidImageShape, img.H, img.W, img.C)
	}
	if len(img.Pix) != img.H*img.W*img.C {
		return fmt.Errorf("%w: %d samples do not fill (%d, %d, %d)", ErrInvalidImageShape, len(img.Pix), img.H, img.W, img.C)
	}
	return nil
}

func (img *Image) checkDomain() error {
	for i, v := range img.Pix {
		// NaN fails both comparisons, so test the accepted range.
		if !(v >= 0 && v <= 1) {
			c := i % img.C
			p := i / img.C
			return fmt.Errorf("%w: sample %g at (%d, %d, %d) outside [0, 1]", ErrInvalidImageDomain, v, p/img.W, p%img.W, c)
		}
	}
	return nil
}

// Validate reports whether img has a well-formed shape and all samples in [0, 1].
func (img *Image) Validate() error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImageShape)
	}
	if err := img.checkShape(); err != nil {
		return err
	}
	return img.checkDomain()
}
