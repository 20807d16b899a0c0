package tile

import (
	"image"
	"image/color"
	"testing"
)

func solid(size int, c color.NRGBA) Tile {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return Tile{Img: img, Size: size}
}

func TestBlankIsTransparent(t *testing.T) {
	b := Blank(64)
	if b.Size != 64 {
		t.Fatalf("Blank size = %d, want 64", b.Size)
	}
	if _, _, _, a := b.Img.At(10, 10).RGBA(); a != 0 {
		t.Fatalf("expected blank tile to be fully transparent, alpha = %d", a)
	}
}

func TestCrop(t *testing.T) {
	src := solid(64, color.NRGBA{R: 200, A: 255})
	cropped := src.Crop(image.Rect(8, 8, 40, 40))
	if cropped.Size != 32 {
		t.Fatalf("Crop size = %d, want 32", cropped.Size)
	}
	r, _, _, a := cropped.Img.At(0, 0).RGBA()
	if a == 0 {
		t.Fatalf("expected cropped pixel to carry source color")
	}
	_ = r
}

func TestResizeNoOpWhenSameSize(t *testing.T) {
	src := solid(32, color.NRGBA{G: 100, A: 255})
	same := src.Resize(32)
	if same.Img != src.Img {
		t.Fatalf("expected Resize to no-op (same pointer) when size unchanged")
	}
}

func TestResizeChangesDimensions(t *testing.T) {
	src := solid(64, color.NRGBA{B: 50, A: 255})
	half := src.Resize(32)
	if half.Size != 32 {
		t.Fatalf("Resize size = %d, want 32", half.Size)
	}
	if half.Img.Bounds().Dx() != 32 || half.Img.Bounds().Dy() != 32 {
		t.Fatalf("Resize bounds mismatch: %v", half.Img.Bounds())
	}
}

func TestMergeProducesHalfSizeTile(t *testing.T) {
	tl := solid(32, color.NRGBA{R: 255, A: 255})
	tr := solid(32, color.NRGBA{G: 255, A: 255})
	bl := solid(32, color.NRGBA{B: 255, A: 255})
	br := Tile{}

	merged := Merge(tl, tr, bl, br, 64)
	if merged.Size != 32 {
		t.Fatalf("Merge size = %d, want 32 (half of 64)", merged.Size)
	}

	if _, _, _, a := merged.Img.At(31, 31).RGBA(); a == 0 {
		t.Fatalf("expected missing bottom-right quadrant to be filled opaque")
	}
	if _, _, _, a := merged.Img.At(0, 0).RGBA(); a == 0 {
		t.Fatalf("expected pixel sourced from tl to be opaque")
	}
}

func TestMergeAllMissingIsBlack(t *testing.T) {
	merged := Merge(Tile{}, Tile{}, Tile{}, Tile{}, 64)
	if merged.Size != 32 {
		t.Fatalf("Merge size = %d, want 32", merged.Size)
	}
	r, g, b, a := merged.Img.At(5, 5).RGBA()
	if a == 0 {
		t.Fatalf("expected fully-missing merge to be opaque, alpha = %d", a)
	}
	if r != 0 || g != 0 || b != 0 {
		t.Fatalf("expected fully-missing merge to be black, got r=%d g=%d b=%d", r, g, b)
	}
}

func TestFormatForExt(t *testing.T) {
	cases := map[string]bool{
		".png":  true,
		".jpg":  true,
		".jpeg": true,
		".webp": true,
		".tif":  true,
		".tiff": true,
		".bmp":  false,
	}
	for ext, wantOK := range cases {
		_, err := formatForExt(ext)
		if (err == nil) != wantOK {
			t.Errorf("formatForExt(%q) err = %v, want ok=%v", ext, err, wantOK)
		}
	}
}
