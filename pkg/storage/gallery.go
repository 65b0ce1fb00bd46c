package storage

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// Gallery stores grayscale face samples as numbered images under
// <root>/user_<id>/<seq>.png.
type Gallery struct {
	root string
}

// NewGallery creates a gallery rooted at dir.
func NewGallery(dir string) *Gallery {
	return &Gallery{root: dir}
}

// Root returns the gallery root directory.
func (g *Gallery) Root() string {
	return g.root
}

// UserDir returns the sample directory of one user.
func (g *Gallery) UserDir(owner int64) string {
	return filepath.Join(g.root, fmt.Sprintf("user_%d", owner))
}

// sequence parses "<n>.<ext>" file names; anything else is ignored.
func sequence(name string) (int, bool) {
	ext := filepath.Ext(name)
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg", ".bmp":
	default:
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(name, ext))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// samplePaths lists an owner's sample files in sequence order. A missing
// directory yields no samples.
func (g *Gallery) samplePaths(owner int64) ([]string, []int, error) {
	dir := g.UserDir(owner)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to list samples for user %d: %w", owner, err)
	}

	type item struct {
		path string
		seq  int
	}
	var items []item
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := sequence(e.Name()); ok {
			items = append(items, item{path: filepath.Join(dir, e.Name()), seq: seq})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	paths := make([]string, len(items))
	seqs := make([]int, len(items))
	for i, it := range items {
		paths[i] = it.path
		seqs[i] = it.seq
	}
	return paths, seqs, nil
}

// NextSequence returns one past the highest sequence number stored for
// owner, or 0 when there are none.
func (g *Gallery) NextSequence(owner int64) (int, error) {
	_, seqs, err := g.samplePaths(owner)
	if err != nil {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, nil
	}
	return seqs[len(seqs)-1] + 1, nil
}

// Count returns the number of stored samples for owner.
func (g *Gallery) Count(owner int64) (int, error) {
	paths, _, err := g.samplePaths(owner)
	return len(paths), err
}

// Save writes one sample and returns its path. The user directory is
// created on demand. The image is encoded to a temporary file and renamed
// into place, so a failed write never leaves a truncated sample.
func (g *Gallery) Save(owner int64, seq int, img *image.Gray) (string, error) {
	dir := g.UserDir(owner)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create sample directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.png", seq))
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create sample file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := png.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to encode sample: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write sample: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to store sample: %w", err)
	}

	logging.Component("storage").WithFields(logging.Fields{
		"user_id": owner,
		"seq":     seq,
	}).Debug("Saved face sample")
	return path, nil
}

// Load decodes every stored sample of owner as grayscale. Any unreadable
// file fails the whole load.
func (g *Gallery) Load(owner int64) ([]*image.Gray, error) {
	paths, _, err := g.samplePaths(owner)
	if err != nil {
		return nil, err
	}

	images := make([]*image.Gray, 0, len(paths))
	for _, path := range paths {
		img, err := loadGray(path)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func loadGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sample %s: %w", path, err)
	}
	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}

	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray, nil
}
