package emotion

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestPreprocess_ShapeAndRange(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 120, 90))
	for y := 0; y < 90; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 2), uint8(y * 2), 40, 255})
		}
	}

	tensor := Preprocess(img)
	if len(tensor) != InputSize*InputSize {
		t.Fatalf("len(tensor) = %d, want %d", len(tensor), InputSize*InputSize)
	}
	for i, v := range tensor {
		if v < 0 || v > 1 {
			t.Fatalf("tensor[%d] = %v out of [0,1]", i, v)
		}
	}
}

func TestPreprocess_Normalizes(t *testing.T) {
	tests := []struct {
		name  string
		color color.Color
		want  float32
	}{
		{"white", color.White, 1},
		{"black", color.Black, 0},
		{"mid gray", color.Gray{Y: 51}, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := image.NewRGBA(image.Rect(0, 0, 64, 64))
			for y := 0; y < 64; y++ {
				for x := 0; x < 64; x++ {
					img.Set(x, y, tt.color)
				}
			}
			for i, v := range Preprocess(img) {
				if math.Abs(float64(v-tt.want)) > 1e-6 {
					t.Fatalf("tensor[%d] = %v, want %v", i, v, tt.want)
				}
			}
		})
	}
}

func TestCrop_ClipsToBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	got := Crop(img, image.Rect(40, 40, 80, 80))
	if got.Bounds().Dx() != 10 || got.Bounds().Dy() != 10 {
		t.Errorf("Crop() bounds = %v, want 10x10", got.Bounds())
	}

	if !Crop(img, image.Rect(60, 60, 70, 70)).Bounds().Empty() {
		t.Error("crop outside the image should be empty")
	}
}

func TestGrayscale_Luma(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})

	// BT.601: 0.299 * 255
	if got := Grayscale(img).GrayAt(0, 0).Y; got != 76 {
		t.Errorf("Grayscale(red) = %d, want 76", got)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := Decode([]byte{0xff, 0xd8, 0xff, 0x00}); err == nil {
		t.Error("expected error for truncated jpeg")
	}
}
