package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/config"
	"github.com/dudu/deepswap/internal/detector"
	"github.com/dudu/deepswap/internal/inference"
	"github.com/dudu/deepswap/internal/pipeline"
	"github.com/dudu/deepswap/internal/store"
	"github.com/dudu/deepswap/internal/swapper"
)

type fakeDetector struct {
	faces []detector.Face
}

func (d *fakeDetector) DetectKeypoints(gocv.Mat) ([]detector.Face, error) {
	return d.faces, nil
}

type fakeEncoder struct{}

func (fakeEncoder) Extract(gocv.Mat) (*swapper.Embedding, error) {
	var emb swapper.Embedding
	emb[0] = 2
	return &emb, nil
}

func face() detector.Face {
	var kps detector.KeypointSet
	for i, p := range []detector.Point{{X: 140, Y: 100}, {X: 180, Y: 100}, {X: 160, Y: 120}, {X: 145, Y: 140}, {X: 175, Y: 140}} {
		kps[i] = detector.PointAt(p)
	}
	return detector.Face{Keypoints: kps}
}

func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	img := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer img.Close()
	img.SetTo(gocv.NewScalar(30, 60, 90, 0))
	for _, name := range names {
		if err := store.WriteImage(filepath.Join(dir, name), img); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEmbedStoresMeanEmbedding(t *testing.T) {
	src := t.TempDir()
	writeImages(t, src, "a.jpg", "b.png")
	if err := os.WriteFile(filepath.Join(src, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	e := &Engine{Detector: &fakeDetector{faces: []detector.Face{face()}}, Encoder: fakeEncoder{}}
	out := filepath.Join(t.TempDir(), "output")
	emb, err := e.Embed(src, out, true)
	if err != nil {
		t.Fatal(err)
	}
	if emb[0] != 2 {
		t.Errorf("emb[0] = %v, want 2", emb[0])
	}

	stored, err := store.New(out).ReadEmbedding()
	if err != nil {
		t.Fatal(err)
	}
	if *stored != *emb {
		t.Error("stored embedding differs from returned one")
	}
}

func TestEmbedStrictSkipsCrowdedImages(t *testing.T) {
	src := t.TempDir()
	writeImages(t, src, "group.jpg")

	e := &Engine{Detector: &fakeDetector{faces: []detector.Face{face(), face()}}, Encoder: fakeEncoder{}}
	if _, err := e.Embed(src, t.TempDir(), true); !errors.Is(err, pipeline.ErrNoFace) {
		t.Errorf("err = %v, want ErrNoFace", err)
	}

	// Without strict validation the first face of the group is used.
	if _, err := e.Embed(src, t.TempDir(), false); err != nil {
		t.Errorf("non-strict embed failed: %v", err)
	}
}

func TestPlanDetect(t *testing.T) {
	p := planDetect("/tmp/work", "job", "videos/v1/clip.mp4")

	if p.Root != filepath.FromSlash("/tmp/work/job") {
		t.Errorf("Root = %s", p.Root)
	}
	if p.Video != filepath.FromSlash("/tmp/work/job/clip/clip.mp4") {
		t.Errorf("Video = %s", p.Video)
	}
	if p.Output != filepath.FromSlash("/tmp/work/job/clip/output") {
		t.Errorf("Output = %s", p.Output)
	}
	if p.UploadTo != "videos/v1" {
		t.Errorf("UploadTo = %s", p.UploadTo)
	}
}

func TestPlanSwap(t *testing.T) {
	p := planSwap("/w", "job", "users/u1/", "videos/v1")

	tests := []struct {
		name, got, want string
	}{
		{"SourcePrefix", p.SourcePrefix, "users/u1/source"},
		{"EmbeddingPrefix", p.EmbeddingPrefix, "users/u1/output/embedding"},
		{"VideoPrefix", p.VideoPrefix, "videos/v1"},
		{"UploadTo", p.UploadTo, "users/u1"},
		{"Source", p.Source, filepath.FromSlash("/w/job/u1/source")},
		{"Target", p.Target, filepath.FromSlash("/w/job/u1/v1/output")},
		{"Original", p.Original, filepath.FromSlash("/w/job/u1/v1/v1.mp4")},
		{"Output", p.Output, filepath.FromSlash("/w/job/u1/output")},
		{"VideoOut", p.VideoOut, filepath.FromSlash("/w/job/u1/output/v1.mp4")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

type fakeStorage struct {
	downloads []string
	err       error
}

func (s *fakeStorage) DownloadFile(_ context.Context, object, local string) error {
	s.downloads = append(s.downloads, object)
	return s.err
}

func (s *fakeStorage) DownloadDir(_ context.Context, prefix, local string) (int, int, error) {
	s.downloads = append(s.downloads, prefix)
	if s.err != nil {
		return 0, 0, s.err
	}
	return 0, 0, os.MkdirAll(local, 0755)
}

func (s *fakeStorage) UploadDir(context.Context, string, string) (int, int, error) {
	return 0, 0, nil
}

func TestRemoteCleansUpOnFailure(t *testing.T) {
	work := t.TempDir()
	boom := errors.New("boom")
	r := &Remote{Engine: &Engine{}, Storage: &fakeStorage{err: boom}, WorkDir: work}

	if err := r.DetectVideo(context.Background(), "videos/v1/clip.mp4"); !errors.Is(err, boom) {
		t.Errorf("DetectVideo err = %v, want boom", err)
	}
	if err := r.SwapVideo(context.Background(), "users/u1", "videos/v1"); !errors.Is(err, boom) {
		t.Errorf("SwapVideo err = %v, want boom", err)
	}

	entries, err := os.ReadDir(work)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("work dir not cleaned: %d entries left", len(entries))
	}
}

func TestSwapVideoNeedsEmbedding(t *testing.T) {
	storage := &fakeStorage{}
	r := &Remote{Engine: &Engine{}, Storage: storage, WorkDir: t.TempDir()}

	err := r.SwapVideo(context.Background(), "users/u1", "videos/v1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	want := []string{"users/u1/source", "users/u1/output/embedding", "videos/v1"}
	if len(storage.downloads) != len(want) {
		t.Fatalf("downloads = %v, want %v", storage.downloads, want)
	}
	for i := range want {
		if storage.downloads[i] != want[i] {
			t.Errorf("download %d = %s, want %s", i, storage.downloads[i], want[i])
		}
	}
}

func TestSpecsAndPolicy(t *testing.T) {
	cfg := &config.Config{DetectorModel: "d", EmbedderModel: "e", SwapperModel: "s", OccluderModel: "o", Workers: 3, QueueRatio: 0.5}
	specs := Specs(cfg)
	if _, ok := specs[inference.ModelEnhancer]; ok {
		t.Error("enhancer spec present without a model path")
	}
	if len(specs) != 4 {
		t.Errorf("len(specs) = %d, want 4", len(specs))
	}

	cfg.EnhancerModel = "c"
	if _, ok := Specs(cfg)[inference.ModelEnhancer]; !ok {
		t.Error("enhancer spec missing")
	}

	if _, ok := Policy(cfg).(pipeline.FixedPolicy); !ok {
		t.Error("expected fixed policy")
	}
	cfg.Adaptive = true
	if _, ok := Policy(cfg).(*pipeline.AdaptivePolicy); !ok {
		t.Error("expected adaptive policy")
	}
}
