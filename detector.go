package emotiongo

import (
	"image"
	"image/color"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const DefaultCascadePath = "model/haarcascade_frontalface_alt2.xml"

// cascadeScaleImage mirrors OpenCV's CASCADE_SCALE_IMAGE flag.
const cascadeScaleImage = 2

var (
	// BoxColor draws blue face boxes.
	BoxColor  = color.RGBA{0, 0, 255, 0}
	TextColor = color.RGBA{118, 185, 0, 0}
)

// FaceFinder locates faces in a BGR frame.
type FaceFinder interface {
	Find(frame gocv.Mat) ([]image.Rectangle, error)
	Close() error
}

type HaarCascade struct {
	Path         string
	ScaleFactor  float64
	MinNeighbors int
	MinSize      image.Point
	MaxSize      image.Point

	classifier gocv.CascadeClassifier
}

type HaarCascadeOptions func(*HaarCascade) error

func WithScaleFactor(f float64) HaarCascadeOptions {
	return func(h *HaarCascade) error {
		if f <= 1 {
			return errors.Errorf("scale factor must be greater than 1, got %v", f)
		}
		h.ScaleFactor = f
		return nil
	}
}

func WithMinNeighbors(n int) HaarCascadeOptions {
	return func(h *HaarCascade) error {
		if n < 0 {
			return errors.Errorf("min neighbors must not be negative, got %d", n)
		}
		h.MinNeighbors = n
		return nil
	}
}

func WithMinFaceSize(size int) HaarCascadeOptions {
	return func(h *HaarCascade) error {
		h.MinSize = image.Pt(size, size)
		return nil
	}
}

// NewHaarCascade loads the cascade at path. An empty path means DefaultCascadePath.
func NewHaarCascade(path string, opts ...HaarCascadeOptions) (*HaarCascade, error) {
	if path == "" {
		path = DefaultCascadePath
	}
	h := &HaarCascade{
		Path:         path,
		ScaleFactor:  1.1,
		MinNeighbors: 2,
		MinSize:      image.Pt(100, 100),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "cascade file")
	}
	h.classifier = gocv.NewCascadeClassifier()
	if !h.classifier.Load(path) {
		h.classifier.Close()
		return nil, errors.Errorf("failed to load cascade classifier %s", path)
	}
	return h, nil
}

func (h *HaarCascade) Find(frame gocv.Mat) ([]image.Rectangle, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() == 1 {
		frame.CopyTo(&gray)
	} else {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	}
	gocv.EqualizeHist(gray, &gray)

	return h.classifier.DetectMultiScaleWithParams(gray, h.ScaleFactor, h.MinNeighbors,
		cascadeScaleImage, h.MinSize, h.MaxSize), nil
}

func (h *HaarCascade) Close() error {
	return h.classifier.Close()
}

// FaceDetector remembers the faces found in the last frame so they can be
// boxed and labeled afterwards.
type FaceDetector struct {
	finder FaceFinder
	faces  []image.Rectangle
}

func NewFaceDetector(finder FaceFinder) *FaceDetector {
	return &FaceDetector{finder: finder}
}

func (d *FaceDetector) DetectFace(frame gocv.Mat) error {
	faces, err := d.finder.Find(frame)
	if err != nil {
		d.faces = nil
		return errors.Wrap(err, "detect faces")
	}
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	d.faces = d.faces[:0]
	for _, f := range faces {
		f = f.Canon().Intersect(bounds)
		if f.Empty() {
			continue
		}
		d.faces = append(d.faces, f)
	}
	log.WithField("faces", len(d.faces)).Debug("faces detected")
	return nil
}

func (d *FaceDetector) FaceCount() int {
	return len(d.faces)
}

func (d *FaceDetector) Faces() []image.Rectangle {
	out := make([]image.Rectangle, len(d.faces))
	copy(out, d.faces)
	return out
}

// DrawBoundingBoxes crops every detected face out of frame and boxes it in
// place. The returned Image holds the boxed frame, or an empty frame when
// there was nothing to draw.
func (d *FaceDetector) DrawBoundingBoxes(frame *gocv.Mat) *Image {
	img := NewImage()
	if len(d.faces) == 0 {
		return img
	}
	for _, r := range d.faces {
		roi := frame.Region(r)
		img.AddROI(roi)
		roi.Close()
	}
	for _, r := range d.faces {
		gocv.Rectangle(frame, r, BoxColor, 3)
	}
	img.SetFrame(*frame)
	return img
}

// PrintPredictions writes preds[i] above face i. Faces past the end of
// preds stay unlabeled.
func (d *FaceDetector) PrintPredictions(img *Image, preds []Prediction) *Image {
	frame := img.Frame()
	if frame.Empty() {
		return img
	}
	for i, r := range d.faces {
		if i >= len(preds) {
			break
		}
		gocv.PutText(&frame, preds[i].String(), image.Pt(r.Min.X, r.Min.Y-10),
			gocv.FontHersheyDuplex, 1.0, TextColor, 2)
	}
	return img
}

func (d *FaceDetector) Close() error {
	return d.finder.Close()
}
