// Package preprocess turns uploaded image bytes into the float32 tensor the
// classifier model consumes.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// ErrInvalidImage is returned for bytes that do not decode as an image.
var ErrInvalidImage = errors.New("invalid image")

// MaxPixels caps width×height of an accepted image. Compressed formats can
// claim dimensions far beyond what the upload size suggests, so the header
// is checked before any pixels are decoded.
const MaxPixels = 89_478_485

// Layout is the memory order of the produced tensor.
type Layout string

const (
	// NHWC is batch, height, width, channel (Keras exports).
	NHWC Layout = "NHWC"
	// NCHW is batch, channel, height, width (PyTorch exports).
	NCHW Layout = "NCHW"
)

// Tensor is a dense float32 tensor with a leading batch dimension of 1.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Decode decodes raw, converts it to RGB, resizes it to size×size with
// bicubic resampling and scales every channel to [0, 1]. The same input
// always yields the same tensor.
func Decode(raw []byte, size int, layout Layout) (*Tensor, error) {
	return decode(raw, size, layout, MaxPixels)
}

func decode(raw []byte, size int, layout Layout, maxPixels int) (*Tensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("target size must be positive, got %d", size)
	}
	if layout != NHWC && layout != NCHW {
		return nil, fmt.Errorf("unsupported layout %q", layout)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	resized := resize.Resize(uint(size), uint(size), toRGB(img), resize.Bicubic)
	return normalize(resized, size, layout), nil
}

// toRGB copies img into an opaque RGBA image, discarding alpha rather than
// compositing it.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := dst.PixOffset(x, y)
			dst.Pix[i] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}

func normalize(img image.Image, size int, layout Layout) *Tensor {
	plane := size * size
	data := make([]float32, 3*plane)
	b := img.Bounds()

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl := rgbAt(img, b.Min.X+x, b.Min.Y+y)
			rgb := [3]float32{float32(r) / 255, float32(g) / 255, float32(bl) / 255}

			pixel := y*size + x
			for c := 0; c < 3; c++ {
				if layout == NCHW {
					data[c*plane+pixel] = rgb[c]
				} else {
					data[pixel*3+c] = rgb[c]
				}
			}
		}
	}

	shape := []int64{1, int64(size), int64(size), 3}
	if layout == NCHW {
		shape = []int64{1, 3, int64(size), int64(size)}
	}
	return &Tensor{Data: data, Shape: shape}
}

func rgbAt(img image.Image, x, y int) (uint8, uint8, uint8) {
	if rgba, ok := img.(*image.RGBA); ok {
		i := rgba.PixOffset(x, y)
		return rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
	}
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return c.R, c.G, c.B
}
