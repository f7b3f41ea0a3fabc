package emotion

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// InputSize is the edge length of the square classifier input.
const InputSize = 48

// Tensor holds one normalized grayscale face with shape (1, 48, 48, 1),
// flattened row-major.
type Tensor []float32

// BoundingBox defines a face region in pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func boxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect converts the box back to an image rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Decode turns encoded image bytes (JPEG, PNG, GIF, BMP or WebP) into an image.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}

	return img, nil
}

// Grayscale converts img using ITU-R BT.601 luma weights.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}

// Crop extracts r from img, clipped to the image bounds.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r)
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// Preprocess prepares a colour face crop for the classifier: grayscale,
// bilinear resize to 48x48 and intensities scaled to [0, 1].
func Preprocess(face image.Image) Tensor {
	gray := Grayscale(face)

	resized := image.NewGray(image.Rect(0, 0, InputSize, InputSize))
	draw.BiLinear.Scale(resized, resized.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	t := make(Tensor, InputSize*InputSize)
	for y := 0; y < InputSize; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+InputSize]
		for x, v := range row {
			t[y*InputSize+x] = float32(v) / 255
		}
	}
	return t
}
