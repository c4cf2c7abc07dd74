package emotiongo

import (
	"image"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

type VideoInfo struct {
	Width        int
	Height       int
	FPS          float64
	TotalFrame   int
	ResizeWidth  int
	ResizeHeight int
	Resize       float32
}

// LengthInSeconds is TotalFrame/FPS, or 0 when the container reports no rate.
func (v *VideoInfo) LengthInSeconds() float64 {
	if v.FPS <= 0 {
		return 0
	}
	return float64(v.TotalFrame) / v.FPS
}

func NewVideoInfo(capture *gocv.VideoCapture, resize float32) *VideoInfo {
	if resize <= 0 {
		resize = 1
	}
	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	return &VideoInfo{
		Width:        width,
		Height:       height,
		FPS:          capture.Get(gocv.VideoCaptureFPS),
		TotalFrame:   int(capture.Get(gocv.VideoCaptureFrameCount)),
		Resize:       resize,
		ResizeWidth:  int(float32(width) * resize),
		ResizeHeight: int(float32(height) * resize),
	}
}

func NewVideoInfoFromPath(sourcePath string, resize float32) (*VideoInfo, error) {
	video, err := gocv.OpenVideoCapture(sourcePath)
	if err != nil {
		return nil, errors.Wrapf(err, "open video %s", sourcePath)
	}
	defer video.Close()
	if !video.IsOpened() {
		return nil, errors.Errorf("cannot open video capture %s", sourcePath)
	}
	return NewVideoInfo(video, resize), nil
}

// FrameIndex converts a timestamp into the index of the frame shown at that time.
func FrameIndex(seconds, fps float64) int {
	return int(seconds * fps)
}

// SampleTimes returns 0, step, 2*step, ... strictly below length.
func SampleTimes(length, step float64) []float64 {
	if step <= 0 || length <= 0 {
		return nil
	}
	var out []float64
	for i := 0; ; i++ {
		t := float64(i) * step
		if t >= length {
			break
		}
		out = append(out, t)
	}
	return out
}

// Video gives random access to the frames of an open capture.
type Video struct {
	capture *gocv.VideoCapture
	info    *VideoInfo
}

func NewVideo(capture *gocv.VideoCapture) *Video {
	return &Video{capture: capture, info: NewVideoInfo(capture, 1)}
}

func OpenVideo(path string) (*Video, error) {
	capture, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open video %s", path)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Errorf("cannot open video capture %s", path)
	}
	return NewVideo(capture), nil
}

func (v *Video) Info() *VideoInfo {
	return v.info
}

func (v *Video) LengthInSeconds() float64 {
	return v.info.LengthInSeconds()
}

// At returns the frame displayed at the given second. The Mat is empty
// when the position is past the end. The caller closes it.
func (v *Video) At(seconds float64) gocv.Mat {
	return v.Frame(FrameIndex(seconds, v.info.FPS))
}

func (v *Video) Frame(frameNumber int) gocv.Mat {
	v.capture.Set(gocv.VideoCapturePosFrames, float64(frameNumber))
	frame := gocv.NewMat()
	if ok := v.capture.Read(&frame); !ok {
		log.WithField("frame", frameNumber).Debug("no frame at position")
	}
	return frame
}

// SaveFrame writes frame frameNumber to filename. The format follows the
// file extension.
func (v *Video) SaveFrame(frameNumber int, filename string) error {
	frame := v.Frame(frameNumber)
	defer frame.Close()
	if frame.Empty() {
		return errors.Errorf("frame %d is empty", frameNumber)
	}
	if !gocv.IMWrite(filename, frame) {
		return errors.Errorf("failed to write frame %d to %s", frameNumber, filename)
	}
	return nil
}

func (v *Video) Close() error {
	return v.capture.Close()
}

type VideoSink struct {
	VideoWriter *gocv.VideoWriter
	VideoInfo   *VideoInfo
	Codec       string
	TargetPath  string
}

func NewVideoSink(targetPath string, videoInfo *VideoInfo, codec string) (*VideoSink, error) {
	videoWriter, err := gocv.VideoWriterFile(targetPath, codec, videoInfo.FPS, videoInfo.ResizeWidth, videoInfo.ResizeHeight, true)
	if err != nil {
		return nil, errors.Wrapf(err, "create video writer %s", targetPath)
	}

	return &VideoSink{
		VideoWriter: videoWriter,
		VideoInfo:   videoInfo,
		Codec:       codec,
		TargetPath:  targetPath,
	}, nil
}

func (v *VideoSink) WriteFrame(frame gocv.Mat) error {
	return v.VideoWriter.Write(frame)
}

func (v *VideoSink) Destroy() error {
	return v.VideoWriter.Close()
}

// VideoFrameGenerator reads every frame of sourcePath and hands it to
// yield until yield returns false. The Mat is reused between calls.
func VideoFrameGenerator(yield func(gocv.Mat) bool, sourcePath string) error {
	video, err := gocv.OpenVideoCapture(sourcePath)
	if err != nil {
		return errors.Wrapf(err, "open video %s", sourcePath)
	}
	defer video.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	for {
		if ok := video.Read(&frame); !ok {
			return nil
		}
		if frame.Empty() {
			continue
		}
		if !yield(frame) {
			return nil
		}
	}
}

// ErrStopped ends a frame loop early without reporting a failure.
var ErrStopped = errors.New("stopped by user")

// ProcessVideo resizes each frame of sourcePath, passes it to callback
// and writes the result to targetPath. A callback returning ErrStopped
// ends the copy cleanly.
func ProcessVideo(sourcePath, targetPath, codec string, resize float32, callback func(frame *gocv.Mat) error) error {
	sourceVideoInfo, err := NewVideoInfoFromPath(sourcePath, resize)
	if err != nil {
		return err
	}

	videoSink, err := NewVideoSink(targetPath, sourceVideoInfo, codec)
	if err != nil {
		return err
	}
	defer videoSink.Destroy()

	var cbErr error
	yield := func(frame gocv.Mat) bool {
		if sourceVideoInfo.Resize != 1 {
			gocv.Resize(frame, &frame, image.Point{X: sourceVideoInfo.ResizeWidth, Y: sourceVideoInfo.ResizeHeight}, 0, 0, gocv.InterpolationLinear)
		}
		if cbErr = callback(&frame); cbErr != nil {
			return false
		}
		if cbErr = videoSink.WriteFrame(frame); cbErr != nil {
			return false
		}
		return true
	}

	if err := VideoFrameGenerator(yield, sourcePath); err != nil {
		return err
	}
	if errors.Is(cbErr, ErrStopped) {
		return nil
	}
	return cbErr
}
