package emotiongo

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const DefaultModelPath = "model/tensorflow_model.pb"

// Classifier scores one preprocessed face patch, one score per class.
type Classifier interface {
	Classify(input gocv.Mat) ([]float32, error)
	Close() error
}

// NetClassifier runs a network through OpenCV's dnn module. Any format
// gocv.ReadNet understands works (TensorFlow .pb, Caffe, ONNX, ...).
type NetClassifier struct {
	net gocv.Net
}

func NewNetClassifier(path string) (*NetClassifier, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "model file")
	}
	net := gocv.ReadNet(path, "")
	if net.Empty() {
		return nil, errors.Errorf("error reading network model from %s", path)
	}
	return &NetClassifier{net: net}, nil
}

func (c *NetClassifier) Classify(input gocv.Mat) ([]float32, error) {
	if input.Empty() {
		return nil, errors.New("empty model input")
	}
	blob := gocv.BlobFromImage(input, 1.0, image.Pt(input.Cols(), input.Rows()), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	prob := c.net.Forward("")
	defer prob.Close()
	if prob.Empty() {
		return nil, errors.New("network returned no output")
	}

	flat := prob.Reshape(1, 1)
	defer flat.Close()
	scores := make([]float32, flat.Cols())
	for i := range scores {
		scores[i] = flat.GetFloatAt(0, i)
	}
	return scores, nil
}

func (c *NetClassifier) Close() error {
	return c.net.Close()
}

// TopPrediction picks the highest scoring class.
func TopPrediction(scores []float32) (Prediction, error) {
	if len(scores) == 0 {
		return Prediction{}, errors.New("no scores")
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	e, err := EmotionFromClassID(best)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Emotion: e, Probability: scores[best]}, nil
}

// Model turns preprocessed face patches into emotion predictions.
type Model struct {
	classifier Classifier
}

func NewModelWithClassifier(c Classifier) *Model {
	return &Model{classifier: c}
}

// NewModel loads path with the ONNX Runtime backend for .onnx files when
// an ORT shared library is configured, and with OpenCV's dnn module otherwise.
func NewModel(path string, ortOpts ...ORTOptions) (*Model, error) {
	if path == "" {
		path = DefaultModelPath
	}
	var (
		c   Classifier
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".onnx") && len(ortOpts) > 0 {
		c, err = NewORTClassifier(path, ortOpts...)
	} else {
		c, err = NewNetClassifier(path)
	}
	if err != nil {
		return nil, err
	}
	log.WithField("model", path).Info("emotion model loaded")
	return &Model{classifier: c}, nil
}

// Predict returns one prediction per model input of img, in face order.
func (m *Model) Predict(img *Image) ([]Prediction, error) {
	inputs := img.ModelInput()
	preds := make([]Prediction, 0, len(inputs))
	for i, in := range inputs {
		scores, err := m.classifier.Classify(in)
		if err != nil {
			return nil, errors.Wrapf(err, "classify face %d", i)
		}
		p, err := TopPrediction(scores)
		if err != nil {
			return nil, errors.Wrapf(err, "face %d", i)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// Ans returns the rendered prediction of the first face, or "" when img has no faces.
func (m *Model) Ans(img *Image) (string, error) {
	preds, err := m.Predict(img)
	if err != nil {
		return "", err
	}
	if len(preds) == 0 {
		return "", nil
	}
	return preds[0].String(), nil
}

func (m *Model) Close() error {
	return m.classifier.Close()
}
