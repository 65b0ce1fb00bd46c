//go:build dlib

package detect

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

func init() {
	register("dlib", func(opts Options) (Detector, error) {
		l, err := NewDlibLocator(opts.DlibModelPath)
		if err != nil {
			return nil, err
		}
		return l, nil
	})
}

// DlibLocator finds faces with dlib's HOG detector through go-face.
// ScaleFactor and MinNeighbors have no dlib equivalent; MinSize is applied
// to the returned boxes.
type DlibLocator struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// NewDlibLocator loads the dlib models from dir. The directory must contain
// shape_predictor_5_face_landmarks.dat and
// dlib_face_recognition_resnet_model_v1.dat.
func NewDlibLocator(dir string) (*DlibLocator, error) {
	rec, err := face.NewRecognizer(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorLoad, err)
	}
	logging.Component("detect").Infof("Loaded dlib models from %s", dir)
	return &DlibLocator{rec: rec}, nil
}

// Locate implements Detector.
func (l *DlibLocator) Locate(frame image.Image, p Params) []image.Rectangle {
	log := logging.Component("detect")

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 90}); err != nil {
		log.WithError(err).Debug("Failed to encode frame for dlib")
		return nil
	}

	l.mu.Lock()
	faces, err := l.rec.Recognize(buf.Bytes())
	l.mu.Unlock()
	if err != nil {
		log.WithError(err).Debug("dlib detection failed")
		return nil
	}

	origin := frame.Bounds().Min
	boxes := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		r := f.Rectangle
		if r.Dx() < p.MinSize || r.Dy() < p.MinSize {
			continue
		}
		boxes = append(boxes, r.Add(origin).Intersect(frame.Bounds()))
	}
	return boxes
}

// Close releases the dlib models.
func (l *DlibLocator) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rec != nil {
		l.rec.Close()
		l.rec = nil
	}
}
