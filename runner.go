package emotiongo

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Observation is one labeled face at one point of a run.
type Observation struct {
	Frame      int
	Seconds    float64
	Face       int
	Rect       image.Rectangle
	Prediction Prediction
}

// Recorder persists observations as a run goes.
type Recorder interface {
	Record(obs []Observation) error
}

// Observations flattens a pipeline result.
func Observations(res *Result, frame int, seconds float64) []Observation {
	out := make([]Observation, 0, len(res.Predictions))
	for i, p := range res.Predictions {
		if i >= len(res.Faces) {
			break
		}
		out = append(out, Observation{
			Frame:      frame,
			Seconds:    seconds,
			Face:       i,
			Rect:       res.Faces[i],
			Prediction: p,
		})
	}
	return out
}

// Runner drives the pipeline over a still image, a camera or a video file.
type Runner struct {
	Pipeline *Pipeline
	Display  Display
	Out      io.Writer

	// CameraDelay is the key wait between camera frames in milliseconds.
	CameraDelay int
	// Step is the distance in seconds between sampled video frames.
	Step          float64
	HistogramFile string
	// FramesDir receives the annotated sampled video frames when set.
	FramesDir string
	// RawFramesDir receives the sampled video frames as read from the file.
	RawFramesDir string
	ShowTimeline bool
	Recorder     Recorder
}

func NewRunner(p *Pipeline, d Display) *Runner {
	return &Runner{
		Pipeline:      p,
		Display:       d,
		Out:           os.Stdout,
		CameraDelay:   100,
		Step:          1,
		HistogramFile: DefaultHistogramFile,
		ShowTimeline:  true,
	}
}

func (r *Runner) record(obs []Observation) {
	if r.Recorder == nil || len(obs) == 0 {
		return
	}
	if err := r.Recorder.Record(obs); err != nil {
		log.WithError(err).Warn("failed to record observations")
	}
}

// RunImage analyzes a single picture and shows it until a key is pressed.
func (r *Runner) RunImage(path string) (*Result, error) {
	frame := gocv.IMRead(path, gocv.IMReadColor)
	defer frame.Close()
	if frame.Empty() {
		return nil, errors.Errorf("cannot read image %s", path)
	}

	res, err := r.Pipeline.Analyze(&frame)
	if err != nil {
		return nil, errors.Wrapf(err, "analyze %s", path)
	}
	if first, ok := res.First(); ok {
		ans, err := r.Pipeline.Model.Ans(res.Image)
		if err != nil {
			res.Close()
			return nil, err
		}
		fmt.Fprintf(r.Out, "it should be %s\nalso could be %s\n", first, ans)
	} else {
		log.WithField("image", path).Info("no face found")
	}
	r.record(Observations(res, 0, 0))

	r.Display.Show(res.Image.OutputFrame(frame))
	if r.Display.WaitKey(0) == KeyEsc {
		fmt.Fprintln(r.Out, "Esc key is pressed by user. Stopping the program")
	}
	return res, nil
}

// RunCamera processes the live feed of device until ESC is pressed, the
// camera stops delivering frames or ctx is done.
func (r *Runner) RunCamera(ctx context.Context, device int) error {
	webcam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return errors.Wrapf(err, "open camera %d", device)
	}
	defer webcam.Close()
	return r.runCapture(ctx, webcam)
}

// runCapture is the camera loop over an already opened capture.
func (r *Runner) runCapture(ctx context.Context, capture *gocv.VideoCapture) error {
	frame := gocv.NewMat()
	defer frame.Close()

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if ok := capture.Read(&frame); !ok || frame.Empty() {
			fmt.Fprintln(r.Out, "Video camera is disconnected. Stopping the program")
			return nil
		}

		res, err := r.Pipeline.Analyze(&frame)
		if err != nil {
			return errors.Wrapf(err, "analyze frame %d", n)
		}
		r.record(Observations(res, n, 0))
		r.Display.Show(res.Image.OutputFrame(frame))
		res.Close()

		if r.Display.WaitKey(r.CameraDelay) == KeyEsc {
			fmt.Fprintln(r.Out, "Esc key is pressed by user. Stopping the program")
			return nil
		}
	}
}

// VideoReport is the outcome of RunVideo.
type VideoReport struct {
	Labels    []string
	Histogram *Histogram
	Sampled   int
}

// RunVideo samples one frame every Step seconds, prints the first face's
// prediction for each, then prints and saves the emotion histogram and
// shows the emotion timeline.
func (r *Runner) RunVideo(ctx context.Context, path string) (*VideoReport, error) {
	video, err := OpenVideo(path)
	if err != nil {
		return nil, err
	}
	defer video.Close()

	for _, dir := range []string{r.FramesDir, r.RawFramesDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create frames dir")
		}
	}

	report := &VideoReport{}
	fps := video.Info().FPS
	log.WithFields(log.Fields{
		"video":   path,
		"seconds": video.LengthInSeconds(),
		"fps":     fps,
	}).Info("processing video")

	for _, t := range SampleTimes(video.LengthInSeconds(), r.Step) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := r.sample(video, t, fps, report); err != nil {
			return nil, err
		}
	}

	report.Histogram = HistogramOf(report.Labels)
	fmt.Fprintln(r.Out, "Histogram of frequency")
	if err := report.Histogram.Print(r.Out); err != nil {
		return nil, err
	}
	if r.HistogramFile != "" {
		if err := report.Histogram.WriteFile(r.HistogramFile); err != nil {
			return nil, err
		}
		fmt.Fprintf(r.Out, "Histogram saved to %s\n", r.HistogramFile)
	}

	if r.ShowTimeline {
		plot := PlotTimeline(report.Labels)
		r.Display.Show(plot)
		r.Display.WaitKey(0)
		plot.Close()
	}
	return report, nil
}

func (r *Runner) sample(video *Video, t, fps float64, report *VideoReport) error {
	frame := video.At(t)
	defer frame.Close()
	if frame.Empty() {
		return nil
	}
	report.Sampled++
	index := FrameIndex(t, fps)

	if r.RawFramesDir != "" {
		name := filepath.Join(r.RawFramesDir, fmt.Sprintf("frame_%06d.jpg", index))
		if err := video.SaveFrame(index, name); err != nil {
			log.WithError(err).Warn("failed to save raw frame")
		}
	}

	res, err := r.Pipeline.Analyze(&frame)
	if err != nil {
		return errors.Wrapf(err, "analyze second %v", t)
	}
	defer res.Close()

	first, ok := res.First()
	if !ok {
		return nil
	}
	fmt.Fprintln(r.Out, first)
	report.Labels = append(report.Labels, LabelOf(first.String()))

	r.record(Observations(res, index, t))
	if r.FramesDir != "" {
		name := filepath.Join(r.FramesDir, fmt.Sprintf("frame_%06d.jpg", index))
		if !gocv.IMWrite(name, frame) {
			log.WithField("file", name).Warn("failed to save frame")
		}
	}
	return nil
}
