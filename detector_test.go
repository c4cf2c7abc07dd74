package emotiongo

import (
	"image"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type fakeFinder struct {
	faces  []image.Rectangle
	err    error
	closed bool
}

func (f *fakeFinder) Find(frame gocv.Mat) ([]image.Rectangle, error) {
	return f.faces, f.err
}

func (f *fakeFinder) Close() error {
	f.closed = true
	return nil
}

func TestDetectFaceClipsToFrame(t *testing.T) {
	frame := solidMat(300, 300, 128)
	defer frame.Close()

	d := NewFaceDetector(&fakeFinder{faces: []image.Rectangle{
		image.Rect(50, 50, 150, 150),
		image.Rect(250, 250, 400, 400),
		image.Rect(400, 400, 500, 500),
	}})
	require.NoError(t, d.DetectFace(frame))

	assert.Equal(t, 2, d.FaceCount())
	assert.Equal(t, []image.Rectangle{
		image.Rect(50, 50, 150, 150),
		image.Rect(250, 250, 300, 300),
	}, d.Faces())
}

func TestDetectFaceError(t *testing.T) {
	frame := solidMat(10, 10, 0)
	defer frame.Close()

	d := NewFaceDetector(&fakeFinder{err: errors.New("no cascade")})
	assert.Error(t, d.DetectFace(frame))
	assert.Equal(t, 0, d.FaceCount())
}

func TestDrawBoundingBoxes(t *testing.T) {
	frame := solidMat(200, 200, 128)
	defer frame.Close()

	d := NewFaceDetector(&fakeFinder{faces: []image.Rectangle{image.Rect(20, 20, 120, 120)}})
	require.NoError(t, d.DetectFace(frame))

	img := d.DrawBoundingBoxes(&frame)
	defer img.Close()

	require.Len(t, img.ROIs(), 1)
	roi := img.ROIs()[0]
	assert.Equal(t, 100, roi.Rows())
	// the crop is taken before the box is drawn
	assert.Equal(t, []uint8{128, 128, 128}, []uint8(roi.GetVecbAt(0, 0)))

	assert.Equal(t, []uint8{255, 0, 0}, []uint8(frame.GetVecbAt(20, 70)))
	out := img.Frame()
	assert.False(t, out.Empty())
	assert.Equal(t, []uint8{255, 0, 0}, []uint8(out.GetVecbAt(20, 70)))
}

func TestDrawBoundingBoxesNoFaces(t *testing.T) {
	frame := solidMat(50, 50, 1)
	defer frame.Close()

	d := NewFaceDetector(&fakeFinder{})
	require.NoError(t, d.DetectFace(frame))
	img := d.DrawBoundingBoxes(&frame)
	defer img.Close()

	out := img.Frame()
	assert.True(t, out.Empty())
	assert.Empty(t, img.ROIs())

	// nothing to label on an empty frame
	assert.Same(t, img, d.PrintPredictions(img, []Prediction{{Emotion: Happy, Probability: 1}}))
}

func TestPrintPredictionsFewerThanFaces(t *testing.T) {
	frame := solidMat(200, 200, 0)
	defer frame.Close()

	d := NewFaceDetector(&fakeFinder{faces: []image.Rectangle{
		image.Rect(10, 40, 60, 90),
		image.Rect(100, 140, 150, 190),
	}})
	require.NoError(t, d.DetectFace(frame))
	img := d.DrawBoundingBoxes(&frame)
	defer img.Close()

	assert.NotPanics(t, func() {
		d.PrintPredictions(img, []Prediction{{Emotion: Fear, Probability: 0.4}})
	})
	assert.NotPanics(t, func() {
		d.PrintPredictions(img, nil)
	})
}

func TestFaceDetectorClose(t *testing.T) {
	f := &fakeFinder{}
	require.NoError(t, NewFaceDetector(f).Close())
	assert.True(t, f.closed)
}

func TestHaarCascadeOptions(t *testing.T) {
	_, err := NewHaarCascade("testdata/missing.xml")
	assert.Error(t, err)

	h := &HaarCascade{}
	assert.Error(t, WithScaleFactor(1)(h))
	assert.NoError(t, WithScaleFactor(1.2)(h))
	assert.Equal(t, 1.2, h.ScaleFactor)
	assert.Error(t, WithMinNeighbors(-1)(h))
	assert.NoError(t, WithMinFaceSize(80)(h))
	assert.Equal(t, image.Pt(80, 80), h.MinSize)
}

func TestHaarCascadeFind(t *testing.T) {
	if _, err := os.Stat(DefaultCascadePath); err != nil {
		t.Skipf("cascade not available at %s", DefaultCascadePath)
	}
	h, err := NewHaarCascade(DefaultCascadePath)
	require.NoError(t, err)
	defer h.Close()

	blank := solidMat(240, 320, 200)
	defer blank.Close()
	faces, err := h.Find(blank)
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestPigoFinder(t *testing.T) {
	_, err := NewPigoFinder("testdata/missing")
	assert.Error(t, err)

	const path = "model/facefinder"
	if _, err := os.Stat(path); err != nil {
		t.Skipf("pigo cascade not available at %s", path)
	}
	p, err := NewPigoFinder(path)
	require.NoError(t, err)
	defer p.Close()

	blank := solidMat(240, 320, 200)
	defer blank.Close()
	faces, err := p.Find(blank)
	require.NoError(t, err)
	assert.Empty(t, faces)
}
