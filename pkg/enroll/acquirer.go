// Package enroll captures a user's face samples from a live camera feed.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/MrCodeEU/facelogin/pkg/detect"
	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/overlay"
)

// DefaultMinRegion is the largest face side, in pixels, that is still
// rejected as too small.
const DefaultMinRegion = 20

// FrameSource yields camera frames. camera.Session implements it.
type FrameSource interface {
	Read() (*image.RGBA, error)
}

// SampleStore persists numbered samples. storage.Gallery implements it.
type SampleStore interface {
	NextSequence(owner int64) (int, error)
	Save(owner int64, seq int, img *image.Gray) (string, error)
}

// Progress reports one saved sample.
type Progress struct {
	Owner  int64
	Count  int
	Target int
	// Frame is the annotated frame the sample was taken from.
	Frame *image.RGBA
	// Err is set, with no Frame, when saving a sample failed. A run of
	// failures is reported once.
	Err error
}

// Acquirer runs the capture-and-filter loop.
type Acquirer struct {
	source    FrameSource
	locator   detect.Detector
	store     SampleStore
	params    detect.Params
	minRegion int
	progress  func(Progress)
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithParams overrides the detector preset.
func WithParams(p detect.Params) Option {
	return func(a *Acquirer) {
		a.params = p
	}
}

// WithMinRegion overrides the minimum region size.
func WithMinRegion(px int) Option {
	return func(a *Acquirer) {
		a.minRegion = px
	}
}

// WithProgress registers a callback invoked after every saved sample.
func WithProgress(fn func(Progress)) Option {
	return func(a *Acquirer) {
		a.progress = fn
	}
}

// NewAcquirer creates an acquirer using the enrollment detector preset.
func NewAcquirer(source FrameSource, locator detect.Detector, store SampleStore, opts ...Option) *Acquirer {
	a := &Acquirer{
		source:    source,
		locator:   locator,
		store:     store,
		params:    detect.EnrollmentParams(),
		minRegion: DefaultMinRegion,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire captures until target samples of owner are saved and reports
// whether at least one sample was saved. Frames without a usable face are
// skipped without limit; the loop only ends early when ctx is done, in which
// case ctx.Err() is returned.
func (a *Acquirer) Acquire(ctx context.Context, owner int64, target int) (bool, error) {
	if target < 1 {
		return false, fmt.Errorf("target sample count must be positive, got %d", target)
	}

	log := logging.Component("enroll").WithField("user_id", owner)

	seq, err := a.store.NextSequence(owner)
	if err != nil {
		return false, fmt.Errorf("failed to read sample gallery: %w", err)
	}

	log.Infof("Capturing %d samples starting at sequence %d", target, seq)

	count := 0
	var saveErr error
	for count < target {
		select {
		case <-ctx.Done():
			log.Infof("Capture cancelled after %d samples", count)
			if saveErr != nil {
				return count > 0, errors.Join(ctx.Err(), saveErr)
			}
			return count > 0, ctx.Err()
		default:
		}

		frame, err := a.source.Read()
		if err != nil {
			log.WithError(err).Debug("Frame read failed, retrying")
			continue
		}

		faces := a.locator.Locate(frame, a.params)
		if len(faces) == 0 {
			log.Debug("No face detected")
			continue
		}

		box := faces[0]
		if box.Dx() <= a.minRegion || box.Dy() <= a.minRegion {
			log.Debugf("Face region %dx%d too small", box.Dx(), box.Dy())
			continue
		}

		sample := detect.Crop(frame, box)
		path, err := a.store.Save(owner, seq, sample)
		if err != nil {
			if saveErr != nil {
				log.WithError(err).Debugf("Failed to save sample %d", seq)
				continue
			}
			saveErr = err
			log.WithError(err).Warnf("Failed to save sample %d", seq)
			if a.progress != nil {
				a.progress(Progress{Owner: owner, Count: count, Target: target, Err: err})
			}
			continue
		}
		saveErr = nil
		seq++
		count++

		log.WithField("path", path).Debugf("Saved sample %d/%d", count, target)

		overlay.Box(frame, box, overlay.Green, overlay.LineWidth)
		overlay.Text(frame, 10, 30, fmt.Sprintf("Muestras: %d/%d", count, target), overlay.Green)
		if a.progress != nil {
			a.progress(Progress{Owner: owner, Count: count, Target: target, Frame: frame})
		}
	}

	log.Infof("Captured %d samples", count)
	return true, nil
}
