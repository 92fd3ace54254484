package jobs

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dudu/deepswap/internal/log"
	"github.com/dudu/deepswap/internal/store"
)

const (
	outputDir = "output"
	sourceDir = "source"
	videoExt  = ".mp4"
)

// Storage moves files between the work directory and object storage.
// *cloud.Bucket satisfies it.
type Storage interface {
	DownloadFile(ctx context.Context, object, local string) error
	DownloadDir(ctx context.Context, prefix, localDir string) (int, int, error)
	UploadDir(ctx context.Context, localDir, prefix string) (int, int, error)
}

// Remote runs jobs whose inputs and outputs live in object storage. Each
// job works in its own directory under WorkDir, removed when it ends.
type Remote struct {
	Engine  *Engine
	Storage Storage
	WorkDir string
}

// detectPaths locates the inputs and outputs of a detect job
type detectPaths struct {
	Root        string // removed when the job ends
	Video       string
	Output      string
	UploadTo    string
	VideoObject string
}

func planDetect(workDir, jobID, videoObject string) detectPaths {
	name := path.Base(videoObject)
	root := filepath.Join(workDir, jobID, strings.TrimSuffix(name, path.Ext(name)))
	return detectPaths{
		Root:        filepath.Join(workDir, jobID),
		Video:       filepath.Join(root, name),
		Output:      filepath.Join(root, outputDir),
		UploadTo:    path.Dir(videoObject),
		VideoObject: videoObject,
	}
}

// swapPaths locates the inputs and outputs of a swap job
type swapPaths struct {
	Root string

	SourcePrefix    string
	EmbeddingPrefix string
	VideoPrefix     string
	UploadTo        string

	Source    string // local copy of the source images
	Embedding string // layout holding embedding/source.msgpack
	Video     string // local copy of the video directory
	Target    string // mask output of the detect job
	Original  string
	Output    string
	VideoOut  string
}

func planSwap(workDir, jobID, userDir, videoDir string) swapPaths {
	userDir = strings.TrimSuffix(userDir, "/")
	videoDir = strings.TrimSuffix(videoDir, "/")
	videoName := path.Base(videoDir)

	root := filepath.Join(workDir, jobID)
	user := filepath.Join(root, path.Base(userDir))
	local := filepath.Join(user, videoName)
	output := filepath.Join(user, outputDir)
	return swapPaths{
		Root:            root,
		SourcePrefix:    path.Join(userDir, sourceDir),
		EmbeddingPrefix: path.Join(userDir, outputDir, store.EmbeddingDir),
		VideoPrefix:     videoDir,
		UploadTo:        userDir,
		Source:          filepath.Join(user, sourceDir),
		Embedding:       output,
		Video:           local,
		Target:          filepath.Join(local, outputDir),
		Original:        filepath.Join(local, videoName+videoExt),
		Output:          output,
		VideoOut:        filepath.Join(output, videoName+videoExt),
	}
}

// DetectVideo downloads the video at videoObject, masks every frame and
// uploads the mask output next to the video.
func (r *Remote) DetectVideo(ctx context.Context, videoObject string) error {
	p := planDetect(r.WorkDir, uuid.NewString(), videoObject)
	defer r.cleanup(p.Root)

	if err := r.Storage.DownloadFile(ctx, p.VideoObject, p.Video); err != nil {
		return err
	}
	if _, err := r.Engine.Mask(ctx, p.Video, p.Output); err != nil {
		return fmt.Errorf("mask %s: %w", videoObject, err)
	}
	return r.upload(ctx, p.Output, p.UploadTo)
}

// SwapVideo swaps the identity stored under userDir into the masked video
// under videoDir and uploads the result to userDir/output.
func (r *Remote) SwapVideo(ctx context.Context, userDir, videoDir string) error {
	p := planSwap(r.WorkDir, uuid.NewString(), userDir, videoDir)
	defer r.cleanup(p.Root)

	for _, d := range []struct{ prefix, local string }{
		{p.SourcePrefix, p.Source},
		{p.EmbeddingPrefix, filepath.Join(p.Embedding, store.EmbeddingDir)},
		{p.VideoPrefix, p.Video},
	} {
		if _, _, err := r.Storage.DownloadDir(ctx, d.prefix, d.local); err != nil {
			return err
		}
	}

	if _, err := r.Engine.Swap(ctx, p.Embedding, p.Target, p.Output, p.Original, p.VideoOut); err != nil {
		return fmt.Errorf("swap %s: %w", videoDir, err)
	}
	return r.upload(ctx, p.Output, p.UploadTo)
}

func (r *Remote) upload(ctx context.Context, local, prefix string) error {
	ok, total, err := r.Storage.UploadDir(ctx, local, prefix)
	if err != nil {
		return err
	}
	if ok < total {
		log.Warn("partial upload", "prefix", prefix, "succeeded", ok, "total", total)
	}
	return nil
}

func (r *Remote) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to remove work directory", "dir", dir, "error", err)
	}
}
