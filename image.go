package emotiongo

import (
	"image"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ModelInputSize is the side of the square grayscale patch the emotion network expects.
const ModelInputSize = 48

// Image carries a frame together with the face crops cut out of it and
// their preprocessed versions ready to be fed to a Model.
type Image struct {
	frame gocv.Mat
	rois  []gocv.Mat
	input []gocv.Mat
}

// NewImage returns an Image with an empty frame.
func NewImage() *Image {
	return &Image{frame: gocv.NewMat()}
}

func (i *Image) Frame() gocv.Mat {
	return i.frame
}

// SetFrame stores a copy of frame. The caller keeps ownership of frame.
func (i *Image) SetFrame(frame gocv.Mat) {
	i.frame.Close()
	i.frame = frame.Clone()
}

func (i *Image) ROIs() []gocv.Mat {
	return i.rois
}

// AddROI stores a copy of roi.
func (i *Image) AddROI(roi gocv.Mat) {
	i.rois = append(i.rois, roi.Clone())
}

func (i *Image) ModelInput() []gocv.Mat {
	return i.input
}

// PreprocessROI converts every ROI to a single channel float patch of
// ModelInputSize x ModelInputSize with pixels scaled to [0, 1]. ModelInput()[n]
// always belongs to ROIs()[n]; an empty ROI is an error and leaves no input.
func (i *Image) PreprocessROI() error {
	for _, m := range i.input {
		m.Close()
	}
	i.input = i.input[:0]

	for n, roi := range i.rois {
		if roi.Empty() {
			for _, m := range i.input {
				m.Close()
			}
			i.input = i.input[:0]
			return errors.Errorf("face %d has an empty region", n)
		}
		i.input = append(i.input, preprocess(roi))
	}
	return nil
}

func preprocess(roi gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	if roi.Channels() == 1 {
		roi.CopyTo(&gray)
	} else {
		gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(ModelInputSize, ModelInputSize), 0, 0, gocv.InterpolationLinear)

	out := gocv.NewMat()
	resized.ConvertToWithParams(&out, gocv.MatTypeCV32F, 1.0/255, 0)
	return out
}

// OutputFrame returns the annotated frame, or fallback when nothing was drawn.
func (i *Image) OutputFrame(fallback gocv.Mat) gocv.Mat {
	if i.frame.Empty() {
		return fallback
	}
	return i.frame
}

func (i *Image) Close() error {
	var result *multierror.Error
	if err := i.frame.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, m := range i.rois {
		if err := m.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, m := range i.input {
		if err := m.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	i.rois, i.input = nil, nil
	return result.ErrorOrNil()
}
