package utils

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
	"github.com/setanarut/dereflect"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gonum.org/v1/gonum/mat"
)

// Decode reads any registered format (png, jpeg, gif, bmp, tiff, webp).
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

func ReadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, _, err := Decode(file)
	return img, err
}

// SaveImage encodes img as JPEG for .jpg/.jpeg paths and as PNG otherwise.
func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		return err
	}
	return f.Close()
}

// Downscale shrinks img to fit within maxSide×maxSide, keeping the aspect
// ratio. maxSide 0 or an image that already fits returns img unchanged.
func Downscale(img image.Image, maxSide uint) image.Image {
	b := img.Bounds()
	if maxSide == 0 || (uint(b.Dx()) <= maxSide && uint(b.Dy()) <= maxSide) {
		return img
	}
	return resize.Thumbnail(maxSide, maxSide, img, resize.Lanczos3)
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}

// FromImage converts img to samples in [0, 1]. Gray images give one channel,
// everything else three (RGB); alpha is dropped after un-premultiplying.
func FromImage(img image.Image) *dereflect.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if isGray(img) {
		out := dereflect.NewImage(h, w, 1)
		for y := range h {
			for x := range w {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				out.Set(y, x, 0, float64(g.Y)/0xffff)
			}
		}
		return out
	}
	out := dereflect.NewImage(h, w, 3)
	for y := range h {
		for x := range w {
			// Fully transparent pixels convert to black.
			c, _ := colorful.MakeColor(img.At(b.Min.X+x, b.Min.Y+y))
			c = c.Clamped()
			out.Set(y, x, 0, c.R)
			out.Set(y, x, 1, c.G)
			out.Set(y, x, 2, c.B)
		}
	}
	return out
}

// ToImage converts samples in [0, 1] back to an 8-bit image. One- and
// two-channel images become gray from channel 0, the rest RGB from channels 0-2.
func ToImage(img *dereflect.Image) image.Image {
	rect := image.Rect(0, 0, img.W, img.H)
	if img.C < 3 {
		out := image.NewGray(rect)
		for y := range img.H {
			for x := range img.W {
				out.SetGray(x, y, color.Gray{Y: to8(img.At(y, x, 0))})
			}
		}
		return out
	}
	out := image.NewNRGBA(rect)
	for y := range img.H {
		for x := range img.W {
			r, g, b := colorful.Color{R: img.At(y, x, 0), G: img.At(y, x, 1), B: img.At(y, x, 2)}.Clamped().RGB255()
			out.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return out
}

func to8(v float64) uint8 {
	return uint8(max(0, min(255, v*255+0.5)))
}

// FieldToGray renders f as a gray image, min-max stretched to 0-255.
// f is not modified.
func FieldToGray(f *mat.Dense) *image.Gray {
	h, w := f.Dims()
	vals := make([]float64, 0, h*w)
	for y := range h {
		vals = append(vals, f.RawRowView(y)...)
	}
	dereflect.Normalize(vals, 0, 1)
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			out.SetGray(x, y, color.Gray{Y: to8(vals[y*w+x])})
		}
	}
	return out
}
