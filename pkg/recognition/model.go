// Package recognition provides the trainable face recognition model.
// It implements local binary pattern histograms (LBPH): every training image
// is reduced to a grid of LBP histograms, and prediction returns the label of
// the nearest stored histogram under the chi-square distance.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// ErrModelNotLoaded is returned when predicting before any load or train.
var ErrModelNotLoaded = errors.New("recognition model not loaded")

// ErrEmptyCorpus is returned when training without samples.
var ErrEmptyCorpus = errors.New("training corpus is empty")

// ErrPersist wraps failures to save a freshly trained model.
var ErrPersist = errors.New("failed to persist recognition model")

// ErrInvalidImage is returned for nil or empty sample images.
var ErrInvalidImage = errors.New("invalid face image")

// Params are the LBPH parameters.
type Params struct {
	Radius    int
	Neighbors int
	GridX     int
	GridY     int
}

// DefaultParams returns radius 1, 8 neighbors and an 8x8 grid.
func DefaultParams() Params {
	return Params{Radius: 1, Neighbors: 8, GridX: 8, GridY: 8}
}

func (p Params) histogramSize() int {
	return p.GridX * p.GridY * (1 << p.Neighbors)
}

func (p Params) valid() bool {
	return p.Radius > 0 && p.Neighbors > 0 && p.Neighbors <= 16 && p.GridX > 0 && p.GridY > 0
}

// Sample is one labeled training image.
type Sample struct {
	Image *image.Gray
	Label int64
}

// Artifacts persists the serialized model. storage.ArtifactStore
// implements it.
type Artifacts interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

// Model is an LBPH face recognizer. It is safe for concurrent use.
type Model struct {
	mu         sync.RWMutex
	params     Params
	store      Artifacts
	histograms [][]float32
	labels     []int64
	loaded     bool
}

// New creates a model and attempts to load the persisted artifact. A missing
// or unreadable artifact leaves the model unloaded. store may be nil for a
// model that is never persisted.
func New(params Params, store Artifacts) *Model {
	m := &Model{params: params, store: store}
	m.Load()
	return m
}

type artifactEntry struct {
	Label     int64     `yaml:"label"`
	Histogram []float32 `yaml:"histogram,flow"`
}

type artifact struct {
	Radius    int             `yaml:"radius"`
	Neighbors int             `yaml:"neighbors"`
	GridX     int             `yaml:"grid_x"`
	GridY     int             `yaml:"grid_y"`
	Entries   []artifactEntry `yaml:"entries"`
}

// Load reads the persisted artifact and reports whether the model is now
// usable. A failed load keeps any state the model already had.
func (m *Model) Load() bool {
	log := logging.Component("recognition")

	if m.store == nil {
		return m.IsLoaded()
	}

	data, err := m.store.Read()
	if err != nil {
		log.WithError(err).Info("No usable recognition model artifact")
		return m.IsLoaded()
	}

	var a artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		log.WithError(err).Warn("Corrupt recognition model artifact")
		return m.IsLoaded()
	}

	params := Params{Radius: a.Radius, Neighbors: a.Neighbors, GridX: a.GridX, GridY: a.GridY}
	if !params.valid() || len(a.Entries) == 0 {
		log.Warn("Recognition model artifact has invalid parameters or no entries")
		return m.IsLoaded()
	}

	histograms := make([][]float32, len(a.Entries))
	labels := make([]int64, len(a.Entries))
	for i, e := range a.Entries {
		if len(e.Histogram) != params.histogramSize() {
			log.Warnf("Recognition model entry %d has %d bins, expected %d", i, len(e.Histogram), params.histogramSize())
			return m.IsLoaded()
		}
		histograms[i] = e.Histogram
		labels[i] = e.Label
	}

	m.mu.Lock()
	m.params = params
	m.histograms = histograms
	m.labels = labels
	m.loaded = true
	m.mu.Unlock()

	log.Infof("Loaded recognition model with %d histograms", len(histograms))
	return true
}

// IsLoaded returns true once the model was loaded or trained.
func (m *Model) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Params returns the parameters in effect.
func (m *Model) Params() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

func (m *Model) histogram(img *image.Gray, p Params) ([]float32, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrInvalidImage
	}
	codes, cols, rows := elbp(img, p.Radius, p.Neighbors)
	return spatialHistogram(codes, cols, rows, p.Neighbors, p.GridX, p.GridY), nil
}

// Train fits the model on samples, replacing any prior state, and then
// overwrites the persisted artifact. When persisting fails the returned
// error wraps ErrPersist and the trained state stays in use.
func (m *Model) Train(samples []Sample) error {
	if len(samples) == 0 {
		return ErrEmptyCorpus
	}

	p := m.Params()
	if !p.valid() {
		return fmt.Errorf("invalid LBPH parameters: %+v", p)
	}

	histograms := make([][]float32, len(samples))
	labels := make([]int64, len(samples))
	for i, s := range samples {
		h, err := m.histogram(s.Image, p)
		if err != nil {
			return fmt.Errorf("sample %d (label %d): %w", i, s.Label, err)
		}
		histograms[i] = h
		labels[i] = s.Label
	}

	m.mu.Lock()
	m.histograms = histograms
	m.labels = labels
	m.loaded = true
	m.mu.Unlock()

	logging.Component("recognition").Infof("Trained recognition model on %d samples", len(samples))

	if m.store == nil {
		return nil
	}

	a := artifact{
		Radius:    p.Radius,
		Neighbors: p.Neighbors,
		GridX:     p.GridX,
		GridY:     p.GridY,
		Entries:   make([]artifactEntry, len(samples)),
	}
	for i := range histograms {
		a.Entries[i] = artifactEntry{Label: labels[i], Histogram: histograms[i]}
	}

	data, err := yaml.Marshal(&a)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := m.store.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Predict returns the label of the closest training sample and its
// chi-square distance. Lower distances are better matches.
func (m *Model) Predict(img *image.Gray) (int64, float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loaded {
		return -1, 0, ErrModelNotLoaded
	}

	query, err := m.histogram(img, m.params)
	if err != nil {
		return -1, 0, err
	}

	label := int64(-1)
	best := math.MaxFloat64
	for i, h := range m.histograms {
		if d := chiSquare(h, query); d < best {
			best = d
			label = m.labels[i]
		}
	}
	return label, best, nil
}
