package emotiongo

import (
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// PigoFinder detects faces with the pure Go pigo cascade instead of OpenCV.
type PigoFinder struct {
	MinSize     int
	MaxSize     int
	ShiftFactor float64
	ScaleFactor float64
	Angle       float64
	IouThresh   float64
	MinScore    float32

	classifier *pigo.Pigo
}

// NewPigoFinder unpacks the binary "facefinder" cascade found at path.
func NewPigoFinder(path string) (*PigoFinder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read pigo cascade")
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, errors.Wrap(err, "unpack pigo cascade")
	}
	return &PigoFinder{
		MinSize:     100,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		IouThresh:   0.2,
		MinScore:    5,
		classifier:  classifier,
	}, nil
}

func (p *PigoFinder) Find(frame gocv.Mat) ([]image.Rectangle, error) {
	img, err := frame.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert frame")
	}
	src := pigo.ImgToNRGBA(img)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()

	maxSize := p.MaxSize
	if maxSize <= 0 {
		maxSize = min(cols, rows)
	}
	params := pigo.CascadeParams{
		MinSize:     p.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: p.ShiftFactor,
		ScaleFactor: p.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := p.classifier.RunCascade(params, p.Angle)
	dets = p.classifier.ClusterDetections(dets, p.IouThresh)

	faces := make([]image.Rectangle, 0, len(dets))
	for _, d := range dets {
		if d.Q < p.MinScore {
			continue
		}
		half := d.Scale / 2
		faces = append(faces, image.Rect(d.Col-half, d.Row-half, d.Col+half, d.Row+half))
	}
	return faces, nil
}

func (p *PigoFinder) Close() error {
	return nil
}
