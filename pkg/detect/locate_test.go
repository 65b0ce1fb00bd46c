package detect

import (
	"image"
	_ "image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/draw"
)

// testdata holds pigo's facefinder cascade and its sample portrait.
func testLocator(t *testing.T) *Locator {
	t.Helper()
	path := filepath.Join("testdata", "facefinder")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("cascade not available: %v", err)
	}
	l, err := NewLocator(path, 5.0)
	if err != nil {
		t.Fatalf("NewLocator() error = %v", err)
	}
	return l
}

func samplePortrait(t *testing.T) *image.Gray {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", "sample.jpg"))
	if err != nil {
		t.Skipf("sample image not available: %v", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	return ToGray(img)
}

func TestLocate_TooSmallFrame(t *testing.T) {
	// The size checks run before the cascade is touched.
	l := &Locator{}
	tiny := image.NewGray(image.Rect(0, 0, 10, 10))

	if faces := l.Locate(tiny, EnrollmentParams()); len(faces) != 0 {
		t.Errorf("expected no faces in a 10x10 frame, got %v", faces)
	}

	frame := image.NewGray(image.Rect(0, 0, 320, 240))
	if faces := l.Locate(frame, Params{ScaleFactor: 1.1, MinNeighbors: 5, MinSize: 300}); len(faces) != 0 {
		t.Errorf("expected no faces when MinSize exceeds the frame, got %v", faces)
	}
}

func TestLocate_BlankFrame(t *testing.T) {
	l := testLocator(t)
	frame := image.NewGray(image.Rect(0, 0, 320, 240))

	if faces := l.Locate(frame, EnrollmentParams()); len(faces) != 0 {
		t.Errorf("expected no faces in a blank frame, got %v", faces)
	}
}

func TestLocate_Portrait(t *testing.T) {
	l := testLocator(t)
	img := samplePortrait(t)
	center := image.Pt(160, 200)

	tests := []struct {
		name   string
		params Params
	}{
		{name: "enrollment", params: EnrollmentParams()},
		{name: "login", params: LoginParams()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			faces := l.Locate(img, tt.params)
			if len(faces) == 0 {
				t.Fatal("expected a face in the sample portrait")
			}
			first := faces[0]
			if !center.In(first) {
				t.Errorf("first face %v does not cover the face center %v", first, center)
			}
			if first.Dx() <= 100 || first.Dy() <= 100 {
				t.Errorf("face %v is implausibly small", first)
			}
			for _, f := range faces {
				if !f.In(img.Bounds()) {
					t.Errorf("face %v outside frame %v", f, img.Bounds())
				}
				if f.Dx() < tt.params.MinSize {
					t.Errorf("face %v smaller than MinSize %d", f, tt.params.MinSize)
				}
			}
		})
	}
}

func TestLocate_FrameOrigin(t *testing.T) {
	l := testLocator(t)
	img := samplePortrait(t)

	offset := image.Pt(100, 50)
	shifted := image.NewGray(img.Bounds().Add(offset))
	draw.Draw(shifted, shifted.Bounds(), img, image.Point{}, draw.Src)

	want := l.Locate(img, EnrollmentParams())
	got := l.Locate(shifted, EnrollmentParams())
	if len(want) == 0 || len(got) != len(want) {
		t.Fatalf("expected %d faces in both frames, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i].Add(offset) {
			t.Errorf("face %d = %v, want %v in frame coordinates", i, got[i], want[i].Add(offset))
		}
	}
}
