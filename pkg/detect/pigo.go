package detect

import (
	"fmt"
	"image"
	"math"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

const (
	// pigoMinWindow is the smallest scan window. The scan grows the window
	// from MinSize by ScaleFactor, so it must start above zero.
	pigoMinWindow = 24
	pigoShift     = 0.1
	pigoIoU       = 0.2
)

func init() {
	register("pigo", func(opts Options) (Detector, error) {
		l, err := NewLocator(opts.CascadePath, opts.QualityThreshold)
		if err != nil {
			return nil, err
		}
		return l, nil
	})
}

// Locator finds faces with a pigo pixel-intensity-comparison cascade.
type Locator struct {
	classifier *pigo.Pigo
	quality    float32
}

// NewLocator reads and unpacks the cascade file at path. Detections scoring
// at or below quality are discarded.
func NewLocator(path string, quality float32) (*Locator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorLoad, err)
	}
	return NewLocatorFromBytes(data, quality)
}

// NewLocatorFromBytes unpacks an in-memory cascade.
func NewLocatorFromBytes(cascade []byte, quality float32) (l *Locator, err error) {
	// Unpack indexes into the packet without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			l, err = nil, fmt.Errorf("%w: malformed cascade: %v", ErrDetectorLoad, r)
		}
	}()

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorLoad, err)
	}

	logging.Component("detect").Debugf("Unpacked pigo cascade (%d bytes)", len(cascade))
	return &Locator{classifier: classifier, quality: quality}, nil
}

// Locate implements Detector.
func (l *Locator) Locate(frame image.Image, p Params) []image.Rectangle {
	gray := ToGray(frame)
	rows, cols := gray.Bounds().Dy(), gray.Bounds().Dx()

	maxSize := cols
	if rows < maxSize {
		maxSize = rows
	}
	minSize := p.MinSize
	if minSize < pigoMinWindow {
		minSize = pigoMinWindow
	}
	if minSize > maxSize {
		return nil
	}
	scale := p.ScaleFactor
	if scale < 1.05 {
		scale = 1.05
	}

	raw := l.classifier.RunCascade(pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     maxSize,
		ShiftFactor: pigoShift,
		ScaleFactor: scale,
		ImageParams: pigo.ImageParams{
			Pixels: gray.Pix,
			Rows:   rows,
			Cols:   cols,
			Dim:    gray.Stride,
		},
	}, 0.0)
	clusters := l.classifier.ClusterDetections(raw, pigoIoU)

	kept := filterDetections(raw, clusters, p.MinNeighbors, l.quality)
	faces := make([]image.Rectangle, 0, len(kept))
	origin := frame.Bounds().Min
	for _, det := range kept {
		r := detectionRect(det).Intersect(gray.Bounds())
		if r.Empty() {
			continue
		}
		faces = append(faces, r.Add(origin))
	}
	return faces
}

func detectionRect(det pigo.Detection) image.Rectangle {
	x := det.Col - det.Scale/2
	y := det.Row - det.Scale/2
	return image.Rect(x, y, x+det.Scale, y+det.Scale)
}

// iou is the intersection over union of two square detections.
func iou(a, b pigo.Detection) float64 {
	r1, c1, s1 := float64(a.Row), float64(a.Col), float64(a.Scale)
	r2, c2, s2 := float64(b.Row), float64(b.Col), float64(b.Scale)

	overRow := math.Max(0, math.Min(r1+s1/2, r2+s2/2)-math.Max(r1-s1/2, r2-s2/2))
	overCol := math.Max(0, math.Min(c1+s1/2, c2+s2/2)-math.Max(c1-s1/2, c2-s2/2))
	over := overRow * overCol

	return over / (s1*s1 + s2*s2 - over)
}

// filterDetections keeps clustered detections above the quality threshold
// that are supported by at least minNeighbors raw cascade hits.
func filterDetections(raw, clusters []pigo.Detection, minNeighbors int, quality float32) []pigo.Detection {
	var kept []pigo.Detection
	for _, c := range clusters {
		if c.Q <= quality {
			continue
		}
		neighbors := 0
		for _, r := range raw {
			if iou(c, r) > pigoIoU {
				neighbors++
			}
		}
		if neighbors < minNeighbors {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
