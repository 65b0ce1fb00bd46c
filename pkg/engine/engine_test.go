package engine

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrCodeEU/facelogin/pkg/detect"
	"github.com/MrCodeEU/facelogin/pkg/overlay"
)

type fixedLocator struct {
	boxes  []image.Rectangle
	params detect.Params
}

func (l *fixedLocator) Locate(_ image.Image, p detect.Params) []image.Rectangle {
	l.params = p
	return l.boxes
}

type prediction struct {
	label    int64
	distance float64
	err      error
}

// MockModel answers predictions in order.
type MockModel struct {
	loaded      bool
	predictions []prediction
	calls       int
}

func (m *MockModel) IsLoaded() bool { return m.loaded }

func (m *MockModel) Predict(img *image.Gray) (int64, float64, error) {
	p := m.predictions[m.calls]
	m.calls++
	return p.label, p.distance, p.err
}

var (
	first  = image.Rect(20, 20, 120, 120)
	second = image.Rect(200, 20, 300, 120)
)

func newFrame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 320, 240))
}

func TestRecognize_Accepted(t *testing.T) {
	loc := &fixedLocator{boxes: []image.Rectangle{first}}
	model := &MockModel{loaded: true, predictions: []prediction{{label: 7, distance: 50}}}
	e := New(loc, model)

	frame := newFrame()
	label, ok := e.Recognize(frame)

	require.True(t, ok)
	assert.Equal(t, int64(7), label)
	assert.Equal(t, overlay.Green, frame.RGBAAt(first.Min.X, first.Min.Y))
	assert.Equal(t, detect.LoginParams(), loc.params)
}

func TestRecognize_RejectedByDistance(t *testing.T) {
	loc := &fixedLocator{boxes: []image.Rectangle{first}}
	model := &MockModel{loaded: true, predictions: []prediction{{label: 7, distance: 90}}}
	e := New(loc, model)

	frame := newFrame()
	_, ok := e.Recognize(frame)

	assert.False(t, ok)
	assert.Equal(t, overlay.Yellow, frame.RGBAAt(first.Min.X, first.Min.Y))
	assert.True(t, e.Usable())
}

func TestRecognize_ThresholdIsExclusive(t *testing.T) {
	loc := &fixedLocator{boxes: []image.Rectangle{first}}
	model := &MockModel{loaded: true, predictions: []prediction{{label: 1, distance: 85}}}

	_, ok := New(loc, model).Recognize(newFrame())
	assert.False(t, ok)
}

func TestRecognize_FirstAcceptedFaceWins(t *testing.T) {
	loc := &fixedLocator{boxes: []image.Rectangle{first, second, image.Rect(0, 150, 60, 210)}}
	model := &MockModel{loaded: true, predictions: []prediction{
		{label: 1, distance: 120},
		{label: 2, distance: 10},
		{label: 3, distance: 5},
	}}
	e := New(loc, model)

	frame := newFrame()
	label, ok := e.Recognize(frame)

	require.True(t, ok)
	assert.Equal(t, int64(2), label)
	assert.Equal(t, 2, model.calls, "faces after the accepted one must not be evaluated")
	assert.Equal(t, overlay.Yellow, frame.RGBAAt(first.Min.X, first.Min.Y))
	assert.Equal(t, overlay.Green, frame.RGBAAt(second.Min.X, second.Min.Y))
}

func TestRecognize_ModelNotLoaded(t *testing.T) {
	loc := &fixedLocator{boxes: []image.Rectangle{first, second}}
	model := &MockModel{loaded: false}
	e := New(loc, model)

	frame := newFrame()
	_, ok := e.Recognize(frame)

	assert.False(t, ok)
	assert.Zero(t, model.calls, "predict must not be called without a model")
	assert.Equal(t, overlay.Red, frame.RGBAAt(first.Min.X, first.Min.Y))
	assert.Equal(t, overlay.Red, frame.RGBAAt(second.Min.X, second.Min.Y))
}

func TestRecognize_PredictErrorDisablesEngine(t *testing.T) {
	loc := &fixedLocator{boxes: []image.Rectangle{first}}
	model := &MockModel{loaded: true, predictions: []prediction{
		{err: errors.New("corrupt state")},
		{label: 1, distance: 1},
	}}
	e := New(loc, model)

	_, ok := e.Recognize(newFrame())
	assert.False(t, ok)
	assert.False(t, e.Usable())

	frame := newFrame()
	_, ok = e.Recognize(frame)
	assert.False(t, ok)
	assert.Equal(t, 1, model.calls, "disabled engine must not predict")
	assert.Equal(t, overlay.Red, frame.RGBAAt(first.Min.X, first.Min.Y))

	e.Reset()
	label, ok := e.Recognize(newFrame())
	assert.True(t, ok)
	assert.Equal(t, int64(1), label)
}

func TestRecognize_NoFaces(t *testing.T) {
	e := New(&fixedLocator{}, &MockModel{loaded: true}, WithThreshold(100))
	_, ok := e.Recognize(newFrame())
	assert.False(t, ok)
}

func TestWithThreshold(t *testing.T) {
	loc := &fixedLocator{boxes: []image.Rectangle{first}}
	model := &MockModel{loaded: true, predictions: []prediction{{label: 4, distance: 90}}}

	label, ok := New(loc, model, WithThreshold(100)).Recognize(newFrame())
	assert.True(t, ok)
	assert.Equal(t, int64(4), label)
}
