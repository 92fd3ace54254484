// Package cloud moves working directories to and from a Google Cloud
// Storage bucket.
package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/dudu/deepswap/internal/log"
)

// DefaultUploadWorkers bounds concurrent object uploads
const DefaultUploadWorkers = 4

// Bucket is a single GCS bucket
type Bucket struct {
	svc     *storage.Service
	name    string
	workers int
}

// NewBucket connects to bucket name. Without options the application
// default credentials are used.
func NewBucket(ctx context.Context, name string, opts ...option.ClientOption) (*Bucket, error) {
	if name == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}
	return &Bucket{svc: svc, name: name, workers: DefaultUploadWorkers}, nil
}

// Name returns the bucket name
func (b *Bucket) Name() string { return b.name }

// transfer pairs a local file with its object name
type transfer struct {
	Local  string
	Object string
}

// uploadPlan lists every file under localDir. Object names keep the
// directory's own name: uploading /tmp/job/output under "videos/x" yields
// "videos/x/output/...".
func uploadPlan(localDir, prefix string) ([]transfer, error) {
	abs, err := filepath.Abs(localDir)
	if err != nil {
		return nil, err
	}
	parent := filepath.Dir(abs)

	var plan []transfer
	err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(parent, p)
		if err != nil {
			return err
		}
		plan = append(plan, transfer{Local: p, Object: path.Join(prefix, filepath.ToSlash(rel))})
		return nil
	})
	return plan, err
}

// UploadFile writes one local file to object
func (b *Bucket) UploadFile(ctx context.Context, local, object string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := b.svc.Objects.Insert(b.name, &storage.Object{Name: object}).Media(f).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to upload %s: %w", object, err)
	}
	return nil
}

// UploadDir uploads localDir below prefix and reports how many files
// succeeded out of the total. Per-file failures are logged, not returned.
func (b *Bucket) UploadDir(ctx context.Context, localDir, prefix string) (int, int, error) {
	plan, err := uploadPlan(localDir, prefix)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to walk %s: %w", localDir, err)
	}
	if len(plan) == 0 {
		log.Warn("no files to upload", "dir", localDir)
		return 0, 0, nil
	}

	log.Info("uploading directory", "dir", localDir, "files", len(plan), "bucket", b.name)

	queue := make(chan transfer, len(plan))
	for _, t := range plan {
		queue <- t
	}
	close(queue)

	var ok atomic.Int64
	var wg sync.WaitGroup
	for range min(b.workers, len(plan)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				if err := b.UploadFile(ctx, t.Local, t.Object); err != nil {
					log.Error("upload failed", "file", t.Local, "error", err)
					continue
				}
				log.Debug("uploaded", "file", t.Local, "object", t.Object)
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	log.Info("upload completed", "succeeded", ok.Load(), "total", len(plan))
	return int(ok.Load()), len(plan), nil
}

// List returns the names of all objects under prefix
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := b.svc.Objects.List(b.name).Prefix(prefix).Pages(ctx, func(objs *storage.Objects) error {
		for _, o := range objs.Items {
			names = append(names, o.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list gs://%s/%s: %w", b.name, prefix, err)
	}
	return names, nil
}

// downloadPath maps an object under prefix to its path below localDir.
// Directory placeholder objects map to "".
func downloadPath(object, prefix, localDir string) string {
	rel := strings.TrimPrefix(strings.TrimPrefix(object, prefix), "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		return ""
	}
	return filepath.Join(localDir, filepath.FromSlash(rel))
}

// DownloadFile writes object to local, creating parent directories
func (b *Bucket) DownloadFile(ctx context.Context, object, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return err
	}
	resp, err := b.svc.Objects.Get(b.name, object).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", object, err)
	}
	defer resp.Body.Close()

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", local, err)
	}
	return f.Close()
}

// DownloadDir copies every object under prefix into localDir and reports
// how many files succeeded out of the total
func (b *Bucket) DownloadDir(ctx context.Context, prefix, localDir string) (int, int, error) {
	names, err := b.List(ctx, prefix)
	if err != nil {
		return 0, 0, err
	}
	if len(names) == 0 {
		log.Warn("no objects to download", "bucket", b.name, "prefix", prefix)
		return 0, 0, nil
	}
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return 0, 0, err
	}

	ok, total := 0, 0
	for _, name := range names {
		local := downloadPath(name, prefix, localDir)
		if local == "" {
			continue
		}
		total++
		if err := b.DownloadFile(ctx, name, local); err != nil {
			log.Error("download failed", "object", name, "error", err)
			continue
		}
		ok++
	}
	log.Info("download completed", "succeeded", ok, "total", total)
	return ok, total, nil
}
