package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/swapper"
)

func newLayout(t *testing.T) *Layout {
	t.Helper()
	l := New(filepath.Join(t.TempDir(), "work"))
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	return l
}

func TestPaths(t *testing.T) {
	l := New("/w")
	tests := []struct {
		got, want string
	}{
		{l.FramePath("000001"), "/w/frames/000001.jpg"},
		{l.CropPath("000001", 2), "/w/crop_frames/000001_002.png"},
		{l.MaskPath("000001", 0), "/w/masks/000001_000.msgpack"},
		{l.MatrixPath("000001", 12), "/w/matrices/000001_012.msgpack"},
		{l.EmbeddingPath(), "/w/embedding/source.msgpack"},
		{l.SwappedPath("000007"), "/w/swapped/000007.jpg"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("path = %s, want %s", tt.got, tt.want)
		}
	}
}

func TestFrameIDs(t *testing.T) {
	l := newLayout(t)
	for _, name := range []string{"000002.jpg", "000001.jpg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(l.Dir(FramesDir), name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := l.FrameIDs()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"000001", "000002"}) {
		t.Errorf("ids = %v", ids)
	}

	if _, err := New(filepath.Join(t.TempDir(), "missing")).FrameIDs(); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFaceRoundTrip(t *testing.T) {
	l := newLayout(t)

	crop := gocv.NewMatWithSize(16, 16, gocv.MatTypeCV8UC3)
	defer crop.Close()
	crop.SetTo(gocv.NewScalar(10, 20, 30, 0))

	mask := swapper.NewMask(16, 16)
	mask.Data[5] = 0.25
	m := swapper.Affine{{0.5, -0.1, 12}, {0.1, 0.5, -3}}

	for _, face := range []int{1, 0} {
		if err := l.WriteFace("000010", face, crop, mask, m); err != nil {
			t.Fatal(err)
		}
	}

	faces, err := l.Faces("000010")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(faces, []int{0, 1}) {
		t.Errorf("faces = %v", faces)
	}

	rec, err := l.ReadFace("000010", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	if rec.Matrix != m {
		t.Errorf("matrix = %v, want %v", rec.Matrix, m)
	}
	if rec.Mask.Width != 16 || rec.Mask.Data[5] != 0.25 {
		t.Errorf("mask = %dx%d data[5]=%v", rec.Mask.Width, rec.Mask.Height, rec.Mask.Data[5])
	}
	if rec.Crop.Rows() != 16 || rec.Crop.GetUCharAt(3, 3*3+2) != 30 {
		t.Errorf("crop not restored")
	}
}

func TestFacesNoneStored(t *testing.T) {
	l := newLayout(t)
	faces, err := l.Faces("000001")
	if err != nil {
		t.Fatal(err)
	}
	if len(faces) != 0 {
		t.Errorf("faces = %v, want none", faces)
	}
}

func TestFacesMatchesIDLiterally(t *testing.T) {
	l := newLayout(t)

	crop := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer crop.Close()
	mask := swapper.FullMask(4, 4)

	writes := []struct {
		id   string
		face int
	}{
		{"f1", 0},
		{"f[1]", 2},
		{"f[1]_x", 0},
		{"f*", 1},
	}
	for _, w := range writes {
		if err := l.WriteFace(w.id, w.face, crop, mask, swapper.Identity()); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		id   string
		want []int
	}{
		{"f[1]", []int{2}},
		{"f1", []int{0}},
		{"f*", []int{1}},
		{"f?", nil},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			faces, err := l.Faces(tt.id)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(faces, tt.want) {
				t.Errorf("Faces(%q) = %v, want %v", tt.id, faces, tt.want)
			}
		})
	}
}

func TestFacesWithoutCropsDir(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "missing"))
	faces, err := l.Faces("000001")
	if err != nil || len(faces) != 0 {
		t.Errorf("Faces = %v, %v; want none", faces, err)
	}
}

func TestReadFaceMissing(t *testing.T) {
	l := newLayout(t)
	if _, err := l.ReadFace("000001", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	l := newLayout(t)
	var e swapper.Embedding
	e[0], e[511] = 1.5, -2
	if err := l.WriteEmbedding(&e); err != nil {
		t.Fatal(err)
	}
	got, err := l.ReadEmbedding()
	if err != nil {
		t.Fatal(err)
	}
	if *got != e {
		t.Error("embedding changed in round trip")
	}
}

func TestReadImageMissing(t *testing.T) {
	if _, err := ReadImage(filepath.Join(t.TempDir(), "nope.jpg")); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
