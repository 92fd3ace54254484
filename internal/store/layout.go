// Package store maps frame identifiers and face indices to files in a
// work directory.
//
//	<root>/frames/<id>.jpg
//	<root>/crop_frames/<id>_<NNN>.png
//	<root>/masks/<id>_<NNN>.msgpack
//	<root>/matrices/<id>_<NNN>.msgpack
//	<root>/embedding/source.msgpack
//	<root>/swapped/<id>.jpg
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	FramesDir    = "frames"
	CropsDir     = "crop_frames"
	MasksDir     = "masks"
	MatricesDir  = "matrices"
	EmbeddingDir = "embedding"
	SwappedDir   = "swapped"

	FrameExt = ".jpg"
	cropExt  = ".png"
	dataExt  = ".msgpack"

	embeddingFile = "source" + dataExt
)

// ErrNotFound is returned when a requested file does not exist
var ErrNotFound = errors.New("not found")

// Layout resolves paths under one work directory
type Layout struct {
	Root string
}

// New returns a layout rooted at root
func New(root string) *Layout {
	return &Layout{Root: root}
}

// Init creates every directory of the layout
func (l *Layout) Init() error {
	for _, dir := range []string{FramesDir, CropsDir, MasksDir, MatricesDir, EmbeddingDir, SwappedDir} {
		if err := os.MkdirAll(filepath.Join(l.Root, dir), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Clear removes the whole work directory
func (l *Layout) Clear() error {
	return os.RemoveAll(l.Root)
}

// Dir returns the absolute path of a layout directory
func (l *Layout) Dir(name string) string {
	return filepath.Join(l.Root, name)
}

func faceName(id string, face int) string {
	return fmt.Sprintf("%s_%03d", id, face)
}

func (l *Layout) FramePath(id string) string {
	return filepath.Join(l.Root, FramesDir, id+FrameExt)
}

func (l *Layout) CropPath(id string, face int) string {
	return filepath.Join(l.Root, CropsDir, faceName(id, face)+cropExt)
}

func (l *Layout) MaskPath(id string, face int) string {
	return filepath.Join(l.Root, MasksDir, faceName(id, face)+dataExt)
}

func (l *Layout) MatrixPath(id string, face int) string {
	return filepath.Join(l.Root, MatricesDir, faceName(id, face)+dataExt)
}

func (l *Layout) EmbeddingPath() string {
	return filepath.Join(l.Root, EmbeddingDir, embeddingFile)
}

func (l *Layout) SwappedPath(id string) string {
	return filepath.Join(l.Root, SwappedDir, id+FrameExt)
}

// FrameIDs lists the identifiers of all stored frames in lexical order
func (l *Layout) FrameIDs() ([]string, error) {
	return listIDs(l.Dir(FramesDir), FrameExt)
}

// SwappedIDs lists the identifiers of all swapped frames in lexical order
func (l *Layout) SwappedIDs() ([]string, error) {
	return listIDs(l.Dir(SwappedDir), FrameExt)
}

func listIDs(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotFound)
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(ids)
	return ids, nil
}

// Faces lists the face indices stored for frame id in ascending order
func (l *Layout) Faces(id string) ([]int, error) {
	entries, err := os.ReadDir(l.Dir(CropsDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var faces []int
	prefix := id + "_"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != cropExt || !strings.HasPrefix(name, prefix) {
			continue
		}
		idx, ok := faceIndex(strings.TrimSuffix(strings.TrimPrefix(name, prefix), cropExt))
		if !ok {
			continue
		}
		faces = append(faces, idx)
	}
	sort.Ints(faces)
	return faces, nil
}

// faceIndex parses an unsigned decimal face index
func faceIndex(s string) (int, bool) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, false
	}
	idx, err := strconv.Atoi(s)
	return idx, err == nil
}
