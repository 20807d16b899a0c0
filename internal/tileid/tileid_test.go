package tileid

import "testing"

func TestIsDynamic(t *testing.T) {
	d := New("dynamic:graticule", 2, 1, 1)
	if !d.IsDynamic() {
		t.Fatalf("expected dynamic media id to report IsDynamic")
	}
	if got := d.GeneratorName(); got != "graticule" {
		t.Fatalf("GeneratorName() = %q, want graticule", got)
	}

	s := New("/data/imagery/scan.tif", 2, 1, 1)
	if s.IsDynamic() {
		t.Fatalf("expected filesystem media id to report !IsDynamic")
	}
}

func TestHashMediaIDStable(t *testing.T) {
	a := HashMediaID("/data/imagery/scan.tif")
	b := HashMediaID("/data/imagery/scan.tif")
	if a != b {
		t.Fatalf("HashMediaID not stable: %q vs %q", a, b)
	}
	if len(a) != 40 {
		t.Fatalf("expected 40-char sha1 hex digest, got %d chars", len(a))
	}
	other := HashMediaID("/data/imagery/other.tif")
	if a == other {
		t.Fatalf("expected different media ids to hash differently")
	}
}

func TestLevelDir(t *testing.T) {
	cases := []struct {
		level int
		want  string
	}{
		{0, "00"},
		{3, "03"},
		{17, "17"},
		{-1, "n1"},
		{-2, "n2"},
	}
	for _, c := range cases {
		if got := LevelDir(c.level); got != c.want {
			t.Errorf("LevelDir(%d) = %q, want %q", c.level, got, c.want)
		}
	}
}

func TestTileFileStem(t *testing.T) {
	id := New("m", 4, 12, 9)
	want := "04_000012_000009"
	if got := id.TileFileStem(); got != want {
		t.Fatalf("TileFileStem() = %q, want %q", got, want)
	}
}

func TestParentChildRoundTrip(t *testing.T) {
	id := New("m", 3, 5, 6)
	children := id.Children()
	for _, c := range children {
		p, ok := c.Parent()
		if !ok {
			t.Fatalf("expected child of level-3 tile to have a parent")
		}
		if p != id {
			t.Errorf("child %v parent = %v, want %v", c, p, id)
		}
	}
}

func TestParentAtLevelZero(t *testing.T) {
	id := New("m", 0, 0, 0)
	if _, ok := id.Parent(); ok {
		t.Fatalf("expected level-0 tile to have no parent")
	}
}

func TestMaxLevel(t *testing.T) {
	cases := []struct {
		w, h, tile int
		want       int
	}{
		{256, 256, 256, 0},
		{257, 256, 256, 1},
		{1024, 768, 256, 2},
		{4096, 4096, 256, 4},
		{100, 100, 256, 0},
	}
	for _, c := range cases {
		if got := MaxLevel(c.w, c.h, c.tile); got != c.want {
			t.Errorf("MaxLevel(%d,%d,%d) = %d, want %d", c.w, c.h, c.tile, got, c.want)
		}
	}
}

func TestGridSize(t *testing.T) {
	if GridSize(0) != 1 {
		t.Fatalf("GridSize(0) should be 1")
	}
	if GridSize(3) != 8 {
		t.Fatalf("GridSize(3) should be 8")
	}
	if GridSize(-1) != 1 {
		t.Fatalf("GridSize(-1) should clamp to 1")
	}
}
