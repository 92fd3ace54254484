package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/log"
	"github.com/dudu/deepswap/internal/pipeline"
	"github.com/dudu/deepswap/internal/store"
	"github.com/dudu/deepswap/internal/swapper"
	"github.com/dudu/deepswap/internal/video"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Mask extracts the frames of videoPath into outDir and stores the crop,
// occlusion mask and matrix of every face found.
func (e *Engine) Mask(ctx context.Context, videoPath, outDir string) (pipeline.Result, error) {
	layout := store.New(outDir)
	if err := layout.Clear(); err != nil {
		return pipeline.Result{}, err
	}
	if err := layout.Init(); err != nil {
		return pipeline.Result{}, err
	}

	res, err := video.ProbeResolution(ctx, videoPath)
	if err != nil {
		return pipeline.Result{}, err
	}
	log.Info("extracting frames", "video", videoPath, "resolution", res.Even().String(), "fps", e.FPS)
	if err := video.ExtractFrames(ctx, videoPath, layout.Dir(store.FramesDir), res, e.FPS); err != nil {
		return pipeline.Result{}, err
	}

	ids, err := layout.FrameIDs()
	if err != nil {
		return pipeline.Result{}, err
	}
	stage := &pipeline.MaskStage{Detector: e.Detector, Masker: e.Masker, Layout: layout}
	return e.newPipeline("masking", len(ids)).Run(ctx, ids, stage.Process)
}

// Embed averages the identity of the images in sourceDir and stores it in
// the embedding directory of outDir. With strict set, images that do not
// hold exactly one usable face are skipped.
func (e *Engine) Embed(sourceDir, outDir string, strict bool) (*swapper.Embedding, error) {
	paths, err := listImages(sourceDir)
	if err != nil {
		return nil, err
	}

	var images []gocv.Mat
	defer func() {
		for _, img := range images {
			img.Close()
		}
	}()
	for _, p := range paths {
		img, err := store.ReadImage(p)
		if err != nil {
			return nil, err
		}
		if strict {
			ok, err := pipeline.ValidateSingleFace(e.Detector, img)
			if err != nil {
				img.Close()
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			if !ok {
				log.Warn("skipping source image without a single face", "image", p)
				img.Close()
				continue
			}
		}
		images = append(images, img)
	}

	emb, err := pipeline.SourceEmbedding(e.Detector, e.Encoder, images)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sourceDir, err)
	}

	layout := store.New(outDir)
	if err := layout.Init(); err != nil {
		return nil, err
	}
	if err := layout.WriteEmbedding(emb); err != nil {
		return nil, err
	}
	log.Info("source embedding stored", "images", len(images), "path", layout.EmbeddingPath())
	return emb, nil
}

// Swap pastes the identity stored in sourceDir over every face recorded
// in targetDir, writes swapped frames to outDir and, when videoOut is set,
// encodes them with the audio of originalVideo.
func (e *Engine) Swap(ctx context.Context, sourceDir, targetDir, outDir, originalVideo, videoOut string) (pipeline.Result, error) {
	emb, err := store.New(sourceDir).ReadEmbedding()
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("failed to read source embedding: %w", err)
	}

	target := store.New(targetDir)
	output := store.New(outDir)
	if err := output.Init(); err != nil {
		return pipeline.Result{}, err
	}

	stage := pipeline.NewSwapStage(e.Swapper, emb, target, output)
	if e.Enhancer != nil {
		stage.WithEnhancer(e.Enhancer, e.Detector)
	}

	ids, err := target.FrameIDs()
	if err != nil {
		return pipeline.Result{}, err
	}
	result, err := e.newPipeline("swapping", len(ids)).Run(ctx, ids, stage.Process)
	if err != nil || videoOut == "" {
		return result, err
	}

	swapped, err := output.SwappedIDs()
	if err != nil {
		return result, err
	}
	if len(swapped) == 0 {
		return result, fmt.Errorf("no swapped frames in %s", output.Dir(store.SwappedDir))
	}

	if originalVideo != "" {
		if _, err := os.Stat(originalVideo); err != nil {
			log.Warn("original video missing, encoding without audio", "video", originalVideo)
			originalVideo = ""
		}
	}
	log.Info("encoding video", "output", videoOut, "frames", len(swapped), "fps", e.FPS, "quality", e.Quality)
	if err := video.Mux(ctx, output.Dir(store.SwappedDir), originalVideo, videoOut, e.FPS, e.Quality); err != nil {
		return result, err
	}
	return result, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !imageExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
