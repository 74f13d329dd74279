package imaging_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/samirrijal/plonk/internal/pkg/imaging"
)

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 90, B: 160, A: 255})
		}
	}
	return img
}

func TestDownscale_BoundsLongestEdge(t *testing.T) {
	out := imaging.Downscale(solidImage(2048, 1024), 1024)
	if out.Bounds().Dx() != 1024 || out.Bounds().Dy() != 512 {
		t.Errorf("expected 1024x512, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}

	tall := imaging.Downscale(solidImage(500, 2000), 1000)
	if tall.Bounds().Dx() != 250 || tall.Bounds().Dy() != 1000 {
		t.Errorf("expected 250x1000, got %dx%d", tall.Bounds().Dx(), tall.Bounds().Dy())
	}
}

func TestDownscale_SmallImageUnchanged(t *testing.T) {
	src := solidImage(640, 480)
	out := imaging.Downscale(src, 1024)
	if out != src {
		t.Error("expected the original image back when already inside the bound")
	}
}

func TestEncodeDecodeJPEG(t *testing.T) {
	data, err := imaging.EncodeJPEG(solidImage(32, 16), 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected encoded bytes")
	}

	img, err := imaging.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 16 {
		t.Errorf("expected 32x16, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := imaging.Decode([]byte("not an image")); err == nil {
		t.Error("expected an error for undecodable bytes")
	}
}
