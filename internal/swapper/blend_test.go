package swapper

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestBlendBounds(t *testing.T) {
	original := []byte{10, 20, 30, 200, 100, 0, 50, 50, 50}
	swapped := []byte{250, 0, 30, 0, 100, 255, 60, 40, 50}
	mask := []float32{0, 1, 0.5}
	dst := make([]byte, len(original))

	if err := Blend(dst, original, swapped, mask, 3); err != nil {
		t.Fatal(err)
	}

	for c := 0; c < 3; c++ {
		if dst[c] != original[c] {
			t.Errorf("mask 0: channel %d = %d, want original %d", c, dst[c], original[c])
		}
		if dst[3+c] != swapped[3+c] {
			t.Errorf("mask 1: channel %d = %d, want swapped %d", c, dst[3+c], swapped[3+c])
		}
		lo, hi := original[6+c], swapped[6+c]
		if lo > hi {
			lo, hi = hi, lo
		}
		if v := dst[6+c]; v < lo || v > hi {
			t.Errorf("mask 0.5: channel %d = %d, outside [%d,%d]", c, v, lo, hi)
		}
	}
	if dst[6] != 55 || dst[7] != 45 {
		t.Errorf("mask 0.5 = %v, want 55,45,50", dst[6:9])
	}
}

func TestBlendSizeMismatch(t *testing.T) {
	if err := Blend(make([]byte, 3), make([]byte, 3), make([]byte, 6), []float32{1}, 3); err == nil {
		t.Error("expected error for mismatched buffers")
	}
	if err := Blend(make([]byte, 6), make([]byte, 6), make([]byte, 6), []float32{1}, 3); err == nil {
		t.Error("expected error for short mask")
	}
}

func TestMaskClip(t *testing.T) {
	m := Mask{Width: 4, Height: 1, Data: []float32{-0.2, 0.5, 1.3, 1}}
	m.Clip()
	want := []float32{0, 0.5, 1, 1}
	for i := range want {
		if m.Data[i] != want[i] {
			t.Fatalf("Clip = %v, want %v", m.Data, want)
		}
	}
}

func TestMaskMatRoundTrip(t *testing.T) {
	m := NewMask(3, 2)
	for i := range m.Data {
		m.Data[i] = float32(i) / 10
	}
	mat, err := m.Mat()
	if err != nil {
		t.Fatal(err)
	}
	defer mat.Close()

	back, err := MaskFromMat(mat)
	if err != nil {
		t.Fatal(err)
	}
	if back.Width != 3 || back.Height != 2 {
		t.Fatalf("size = %dx%d", back.Width, back.Height)
	}
	for i := range m.Data {
		if back.Data[i] != m.Data[i] {
			t.Fatalf("data = %v, want %v", back.Data, m.Data)
		}
	}
}

func solid(w, h int, b, g, r uint8) gocv.Mat {
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(float64(b), float64(g), float64(r), 0))
	return mat
}

func TestCompositeFullAndEmptyMask(t *testing.T) {
	frame := solid(64, 48, 10, 20, 30)
	defer frame.Close()
	swapped := solid(16, 16, 200, 210, 220)
	defer swapped.Close()

	// crop covers frame region [8,24) x [8,24)
	m := Affine{{1, 0, -8}, {0, 1, -8}}
	c := NewCompositor()

	out, err := c.Composite(frame, swapped, FullMask(16, 16), m)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	if out.Rows() != 48 || out.Cols() != 64 {
		t.Fatalf("output size = %dx%d", out.Cols(), out.Rows())
	}
	if got := out.GetUCharAt(16, 16*3); got != 200 {
		t.Errorf("inside crop blue = %d, want 200", got)
	}
	if got := out.GetUCharAt(40, 50*3+2); got != 30 {
		t.Errorf("outside crop red = %d, want 30", got)
	}
	if got := frame.GetUCharAt(16, 16*3); got != 10 {
		t.Errorf("input frame modified: %d", got)
	}

	empty, err := c.Composite(frame, swapped, NewMask(16, 16), m)
	if err != nil {
		t.Fatal(err)
	}
	defer empty.Close()
	if got := empty.GetUCharAt(16, 16*3); got != 10 {
		t.Errorf("zero mask blue = %d, want original 10", got)
	}
}

func TestCompositeRejectsSingularMatrix(t *testing.T) {
	frame := solid(8, 8, 0, 0, 0)
	defer frame.Close()
	swapped := solid(4, 4, 0, 0, 0)
	defer swapped.Close()

	if _, err := NewCompositor().Composite(frame, swapped, FullMask(4, 4), Affine{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMix(t *testing.T) {
	a := solid(8, 8, 200, 200, 200)
	defer a.Close()
	b := solid(8, 8, 100, 100, 100)
	defer b.Close()
	c := NewCompositor()

	out, err := c.Mix(a, b, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if got := out.GetUCharAt(4, 4*3); got != 180 {
		t.Errorf("mixed = %d, want 180", got)
	}

	small := solid(4, 4, 0, 0, 0)
	defer small.Close()
	if bad, err := c.Mix(a, small, 0.8); err == nil {
		bad.Close()
		t.Error("expected error mixing different sizes")
	}
}
