// Package detect locates faces in camera frames.
// The default backend is the pure-Go pigo cascade; a dlib backend is
// available when built with the dlib tag.
package detect

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"golang.org/x/image/draw"
)

// ErrDetectorLoad is returned when a detector model cannot be loaded.
var ErrDetectorLoad = errors.New("failed to load face detector")

// Params tune a single Locate call.
type Params struct {
	// ScaleFactor is the growth of the scan window between passes.
	ScaleFactor float64
	// MinNeighbors is the number of overlapping raw hits a face needs.
	MinNeighbors int
	// MinSize is the smallest face side in pixels. Zero means detector minimum.
	MinSize int
}

// EnrollmentParams is the coarser preset used while capturing samples.
func EnrollmentParams() Params {
	return Params{ScaleFactor: 1.3, MinNeighbors: 5}
}

// LoginParams is the stricter preset used for authentication.
func LoginParams() Params {
	return Params{ScaleFactor: 1.1, MinNeighbors: 5, MinSize: 30}
}

// Detector returns face boxes in frame coordinates, in the backend's scan
// order. It never fails for a valid frame: no faces is an empty slice.
type Detector interface {
	Locate(frame image.Image, p Params) []image.Rectangle
}

// Options select and configure a backend.
type Options struct {
	Backend          string
	CascadePath      string
	DlibModelPath    string
	QualityThreshold float32
}

type factory func(opts Options) (Detector, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]factory)
)

func register(name string, f factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// Backends lists the compiled-in backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the detector for opts.Backend.
func Open(opts Options) (Detector, error) {
	backendsMu.RLock()
	f, ok := backends[opts.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend %q not compiled in (available: %v)", ErrDetectorLoad, opts.Backend, Backends())
	}
	return f(opts)
}

// ToGray converts any image to grayscale with its origin at (0, 0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == image.Pt(0, 0) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Crop copies the grayscale region r of img. r is clipped to the image.
func Crop(img image.Image, r image.Rectangle) *image.Gray {
	r = r.Intersect(img.Bounds())
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}
