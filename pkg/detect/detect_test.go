package detect

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	pigo "github.com/esimov/pigo/core"
)

func TestPresets(t *testing.T) {
	e := EnrollmentParams()
	if e.ScaleFactor != 1.3 || e.MinNeighbors != 5 || e.MinSize != 0 {
		t.Errorf("unexpected enrollment preset %+v", e)
	}
	l := LoginParams()
	if l.ScaleFactor != 1.1 || l.MinNeighbors != 5 || l.MinSize != 30 {
		t.Errorf("unexpected login preset %+v", l)
	}
}

func TestNewLocator_LoadFailure(t *testing.T) {
	_, err := NewLocator(filepath.Join(t.TempDir(), "missing"), 5)
	if !errors.Is(err, ErrDetectorLoad) {
		t.Errorf("expected ErrDetectorLoad for missing file, got %v", err)
	}

	_, err = NewLocatorFromBytes([]byte("bad"), 5)
	if !errors.Is(err, ErrDetectorLoad) {
		t.Errorf("expected ErrDetectorLoad for malformed cascade, got %v", err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "haar"})
	if !errors.Is(err, ErrDetectorLoad) {
		t.Errorf("expected ErrDetectorLoad, got %v", err)
	}

	found := false
	for _, name := range Backends() {
		if name == "pigo" {
			found = true
		}
	}
	if !found {
		t.Errorf("pigo backend not registered: %v", Backends())
	}
}

func TestOpen_PigoMissingCascade(t *testing.T) {
	_, err := Open(Options{Backend: "pigo", CascadePath: filepath.Join(t.TempDir(), "facefinder")})
	if !errors.Is(err, ErrDetectorLoad) {
		t.Errorf("expected ErrDetectorLoad, got %v", err)
	}
}

func TestToGray(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(10, 10, 14, 12))
	rgba.Set(10, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	gray := ToGray(rgba)
	if gray.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Fatalf("expected origin-based bounds, got %v", gray.Bounds())
	}
	if gray.GrayAt(0, 0).Y != 255 {
		t.Errorf("expected white top-left pixel, got %d", gray.GrayAt(0, 0).Y)
	}

	same := image.NewGray(image.Rect(0, 0, 3, 3))
	if ToGray(same) != same {
		t.Error("grayscale input at origin should be returned as is")
	}
}

func TestCrop(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 50, 40))
	img.SetGray(12, 8, color.Gray{Y: 200})

	out := Crop(img, image.Rect(10, 5, 30, 25))
	if out.Bounds() != image.Rect(0, 0, 20, 20) {
		t.Fatalf("unexpected crop bounds %v", out.Bounds())
	}
	if out.GrayAt(2, 3).Y != 200 {
		t.Errorf("crop not aligned, got %d", out.GrayAt(2, 3).Y)
	}

	clipped := Crop(img, image.Rect(40, 30, 70, 60))
	if clipped.Bounds().Dx() != 10 || clipped.Bounds().Dy() != 10 {
		t.Errorf("expected crop clipped to 10x10, got %v", clipped.Bounds())
	}
}

func TestDetectionRect(t *testing.T) {
	r := detectionRect(pigo.Detection{Row: 100, Col: 80, Scale: 40})
	if r != image.Rect(60, 80, 100, 120) {
		t.Errorf("unexpected rect %v", r)
	}
}

func TestIoU(t *testing.T) {
	a := pigo.Detection{Row: 50, Col: 50, Scale: 20}
	if got := iou(a, a); got < 0.999 || got > 1.001 {
		t.Errorf("expected IoU 1 for identical boxes, got %f", got)
	}
	far := pigo.Detection{Row: 200, Col: 200, Scale: 20}
	if got := iou(a, far); got != 0 {
		t.Errorf("expected IoU 0 for disjoint boxes, got %f", got)
	}
}

func TestFilterDetections(t *testing.T) {
	face := pigo.Detection{Row: 100, Col: 100, Scale: 60, Q: 12}
	weak := pigo.Detection{Row: 300, Col: 300, Scale: 60, Q: 2}
	lonely := pigo.Detection{Row: 100, Col: 400, Scale: 60, Q: 9}

	var raw []pigo.Detection
	for i := 0; i < 6; i++ {
		raw = append(raw, pigo.Detection{Row: 100 + i, Col: 100 - i, Scale: 60, Q: 3})
		raw = append(raw, pigo.Detection{Row: 300 + i, Col: 300, Scale: 60, Q: 1})
	}
	raw = append(raw, pigo.Detection{Row: 100, Col: 400, Scale: 60, Q: 9})

	kept := filterDetections(raw, []pigo.Detection{face, weak, lonely}, 5, 5.0)
	if len(kept) != 1 || kept[0] != face {
		t.Errorf("expected only the supported face, got %+v", kept)
	}

	kept = filterDetections(raw, []pigo.Detection{face, weak, lonely}, 0, 5.0)
	if len(kept) != 2 {
		t.Errorf("expected 2 detections without neighbor filter, got %d", len(kept))
	}
}
