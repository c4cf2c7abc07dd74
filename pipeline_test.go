package emotiongo

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/emotiongo/config"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newTestPipeline(faces []image.Rectangle, scores ...[]float32) (*Pipeline, *fakeFinder, *fakeClassifier) {
	f := &fakeFinder{faces: faces}
	c := &fakeClassifier{scores: scores}
	return NewPipeline(NewFaceDetector(f), NewModelWithClassifier(c)), f, c
}

func TestAnalyze(t *testing.T) {
	p, _, c := newTestPipeline(
		[]image.Rectangle{image.Rect(20, 60, 120, 160), image.Rect(150, 60, 250, 160)},
		[]float32{0, 0, 0, 0.9, 0, 0.1, 0},
		[]float32{0.6, 0, 0, 0, 0, 0, 0.4},
	)
	frame := solidMat(240, 320, 90)
	defer frame.Close()

	res, err := p.Analyze(&frame)
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, 2, c.calls)
	require.Len(t, res.Predictions, 2)
	assert.Equal(t, Happy, res.Predictions[0].Emotion)
	assert.Equal(t, Angry, res.Predictions[1].Emotion)
	assert.Len(t, res.Faces, 2)

	first, ok := res.First()
	assert.True(t, ok)
	assert.Equal(t, Happy, first.Emotion)

	// the frame passed in carries the boxes
	assert.Equal(t, []uint8{255, 0, 0}, []uint8(frame.GetVecbAt(159, 70)))
}

func TestAnalyzeNoFaces(t *testing.T) {
	p, _, c := newTestPipeline(nil, []float32{1})
	frame := solidMat(100, 100, 90)
	defer frame.Close()

	res, err := p.Analyze(&frame)
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, 0, c.calls)
	assert.Empty(t, res.Predictions)
	_, ok := res.First()
	assert.False(t, ok)
	assert.Equal(t, []uint8{90, 90, 90}, []uint8(frame.GetVecbAt(50, 50)))
}

func TestAnalyzeErrors(t *testing.T) {
	p, _, _ := newTestPipeline(nil, []float32{1})
	empty := gocv.NewMat()
	defer empty.Close()
	_, err := p.Analyze(&empty)
	assert.Error(t, err)

	p, _, c := newTestPipeline([]image.Rectangle{image.Rect(0, 0, 10, 10)}, []float32{1})
	c.err = errors.New("session closed")
	frame := solidMat(20, 20, 0)
	defer frame.Close()
	_, err = p.Analyze(&frame)
	assert.Error(t, err)
}

func TestPipelineClose(t *testing.T) {
	p, f, c := newTestPipeline(nil, []float32{1})
	require.NoError(t, p.Close())
	assert.True(t, f.closed)
	assert.True(t, c.closed)
}

func TestObservations(t *testing.T) {
	res := &Result{
		Faces: []image.Rectangle{image.Rect(0, 0, 5, 5), image.Rect(5, 5, 9, 9)},
		Predictions: []Prediction{
			{Emotion: Sad, Probability: 0.5},
			{Emotion: Fear, Probability: 0.7},
			{Emotion: Happy, Probability: 0.9},
		},
	}
	obs := Observations(res, 42, 1.5)
	require.Len(t, obs, 2)
	assert.Equal(t, Observation{Frame: 42, Seconds: 1.5, Face: 1, Rect: image.Rect(5, 5, 9, 9),
		Prediction: Prediction{Emotion: Fear, Probability: 0.7}}, obs[1])
}

func TestNewFinderFromConfig(t *testing.T) {
	cfg := config.Default()
	missing := filepath.Join(t.TempDir(), "missing")

	cfg.Detector = "dlib"
	_, err := NewFinderFromConfig(cfg)
	assert.EqualError(t, err, `unknown detector "dlib"`)

	cfg.Detector = "haar"
	cfg.CascadePath = missing
	_, err = NewFinderFromConfig(cfg)
	assert.Error(t, err)

	cfg.Detector = "pigo"
	cfg.PigoPath = missing
	_, err = NewFinderFromConfig(cfg)
	assert.Error(t, err)

	cfg.PigoPath = "model/facefinder"
	if _, err := os.Stat(cfg.PigoPath); err != nil {
		t.Skipf("pigo cascade not available at %s", cfg.PigoPath)
	}
	cfg.MinFaceSize = 64
	cfg.ScaleFactor = 1.25
	finder, err := NewFinderFromConfig(cfg)
	require.NoError(t, err)
	defer finder.Close()
	p, ok := finder.(*PigoFinder)
	require.True(t, ok)
	assert.Equal(t, 64, p.MinSize)
	assert.Equal(t, 1.25, p.ScaleFactor)
}

func TestORTOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	assert.Nil(t, ORTOptionsFromConfig(cfg))

	cfg.ORTLibraryPath = filepath.Join(t.TempDir(), "libonnxruntime.so")
	cfg.ORTInputName = "x"
	cfg.ORTOutputName = "y"
	cfg.ORTInputWidth = 64
	cfg.ORTInputHeight = 32
	cfg.ORTPixelScale = 255
	cfg.ORTClasses = 7
	cfg.ORTSoftmax = true
	opts := ORTOptionsFromConfig(cfg)
	require.Len(t, opts, 6)

	c := &ORTClassifier{}
	assert.Error(t, opts[0](c), "library file does not exist")
	for _, opt := range opts[1:] {
		require.NoError(t, opt(c))
	}
	assert.Equal(t, "x", c.InputName)
	assert.Equal(t, "y", c.OutputName)
	assert.Equal(t, 64, c.InputWidth)
	assert.Equal(t, 32, c.InputHeight)
	assert.Equal(t, float32(255), c.PixelScale)
	assert.Equal(t, 7, c.TotalClasses)
	assert.True(t, c.Softmax)
}

func TestNewPipelineFromConfigErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Detector = "dlib"
	_, err := NewPipelineFromConfig(cfg)
	assert.Error(t, err)

	cfg = config.Default()
	if _, err := os.Stat(cfg.CascadePath); err != nil {
		t.Skipf("cascade not available at %s", cfg.CascadePath)
	}
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.pb")
	_, err = NewPipelineFromConfig(cfg)
	assert.Error(t, err)
}
