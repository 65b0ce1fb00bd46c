// Package engine turns raw recognition model predictions into login
// decisions and draws the feedback overlay on the camera frame.
package engine

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/MrCodeEU/facelogin/pkg/detect"
	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/overlay"
)

// DefaultThreshold is the largest accepted distance (exclusive).
const DefaultThreshold = 85.0

// Predictor is the part of recognition.Model the engine uses.
type Predictor interface {
	Predict(img *image.Gray) (label int64, distance float64, err error)
	IsLoaded() bool
}

// Engine gates predictions with a distance threshold.
type Engine struct {
	locator   detect.Detector
	model     Predictor
	params    detect.Params
	threshold float64

	mu     sync.Mutex
	usable bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides the accept threshold.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		e.threshold = t
	}
}

// WithParams overrides the login detector preset.
func WithParams(p detect.Params) Option {
	return func(e *Engine) {
		e.params = p
	}
}

// New creates an engine. It is usable if the model is loaded.
func New(locator detect.Detector, model Predictor, opts ...Option) *Engine {
	e := &Engine{
		locator:   locator,
		model:     model,
		params:    detect.LoginParams(),
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.usable = model.IsLoaded()
	return e
}

// Reset re-evaluates whether the model is usable, e.g. after a reload.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usable = e.model.IsLoaded()
}

// Usable reports whether predictions are attempted.
func (e *Engine) Usable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usable
}

// Recognize annotates every detected face on frame and returns the label of
// the first face whose distance is under the threshold. Faces after an
// accepted one are not evaluated. A prediction failure disables the engine
// until Reset.
func (e *Engine) Recognize(frame draw.Image) (int64, bool) {
	log := logging.Component("engine")

	faces := e.locator.Locate(frame, e.params)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, box := range faces {
		if !e.usable {
			overlay.Box(frame, box, overlay.Red, overlay.LineWidth)
			continue
		}

		label, distance, err := e.model.Predict(detect.Crop(frame, box))
		if err != nil {
			log.WithError(err).Warn("Prediction failed, disabling recognition")
			e.usable = false
			overlay.Box(frame, box, overlay.Red, overlay.LineWidth)
			continue
		}

		if distance < e.threshold {
			log.WithFields(logging.Fields{"label": label, "distance": distance}).Debug("Face accepted")
			overlay.Label(frame, box, fmt.Sprintf("Usuario: %d", label), overlay.Green)
			return label, true
		}

		log.WithFields(logging.Fields{"label": label, "distance": distance}).Debug("Face rejected")
		overlay.Label(frame, box, "Desconocido", overlay.Yellow)
	}
	return 0, false
}
