package emotiongo

import (
	"image"

	"github.com/emotiongo/config"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Result is what one pass of the pipeline produced for a frame.
type Result struct {
	Image       *Image
	Faces       []image.Rectangle
	Predictions []Prediction
}

// First returns the prediction of the first face.
func (r *Result) First() (Prediction, bool) {
	if len(r.Predictions) == 0 {
		return Prediction{}, false
	}
	return r.Predictions[0], true
}

func (r *Result) Close() error {
	if r.Image == nil {
		return nil
	}
	return r.Image.Close()
}

// Pipeline chains detection, cropping, classification and labeling.
type Pipeline struct {
	Detector *FaceDetector
	Model    *Model
}

func NewPipeline(detector *FaceDetector, model *Model) *Pipeline {
	return &Pipeline{Detector: detector, Model: model}
}

// NewFinderFromConfig builds the face finder selected by cfg.Detector.
func NewFinderFromConfig(cfg config.Config) (FaceFinder, error) {
	switch cfg.Detector {
	case "pigo":
		p, err := NewPigoFinder(cfg.PigoPath)
		if err != nil {
			return nil, err
		}
		p.MinSize = cfg.MinFaceSize
		p.ScaleFactor = cfg.ScaleFactor
		return p, nil
	case "haar", "":
		return NewHaarCascade(cfg.CascadePath,
			WithScaleFactor(cfg.ScaleFactor),
			WithMinNeighbors(cfg.MinNeighbors),
			WithMinFaceSize(cfg.MinFaceSize),
		)
	default:
		return nil, errors.Errorf("unknown detector %q", cfg.Detector)
	}
}

// ORTOptionsFromConfig returns nil unless an ONNX Runtime library is configured.
func ORTOptionsFromConfig(cfg config.Config) []ORTOptions {
	if cfg.ORTLibraryPath == "" {
		return nil
	}
	return []ORTOptions{
		WithSharedLibraryPath(cfg.ORTLibraryPath),
		WithTensorNames(cfg.ORTInputName, cfg.ORTOutputName),
		WithInputSize(cfg.ORTInputWidth, cfg.ORTInputHeight),
		WithPixelScale(float32(cfg.ORTPixelScale)),
		WithClasses(cfg.ORTClasses),
		WithSoftmax(cfg.ORTSoftmax),
	}
}

// NewPipelineFromConfig builds the finder and the model described by cfg.
func NewPipelineFromConfig(cfg config.Config) (*Pipeline, error) {
	finder, err := NewFinderFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	model, err := NewModel(cfg.ModelPath, ORTOptionsFromConfig(cfg)...)
	if err != nil {
		finder.Close()
		return nil, err
	}
	return NewPipeline(NewFaceDetector(finder), model), nil
}

// Analyze draws boxes and labels on frame in place. When no face is found
// the frame is left untouched and the result has no predictions.
func (p *Pipeline) Analyze(frame *gocv.Mat) (*Result, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	if err := p.Detector.DetectFace(*frame); err != nil {
		return nil, err
	}

	img := p.Detector.DrawBoundingBoxes(frame)
	res := &Result{Image: img, Faces: p.Detector.Faces()}
	if len(img.ROIs()) == 0 {
		return res, nil
	}

	if err := img.PreprocessROI(); err != nil {
		res.Close()
		return nil, err
	}
	preds, err := p.Model.Predict(img)
	if err != nil {
		res.Close()
		return nil, err
	}
	res.Predictions = preds
	p.Detector.PrintPredictions(img, preds)
	annotated := img.Frame()
	annotated.CopyTo(frame)
	return res, nil
}

func (p *Pipeline) Close() error {
	var result *multierror.Error
	if p.Detector != nil {
		if err := p.Detector.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close detector"))
		}
	}
	if p.Model != nil {
		if err := p.Model.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close model"))
		}
	}
	return result.ErrorOrNil()
}
