package emotiongo

import (
	"bytes"
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type memRecorder struct {
	obs []Observation
}

func (m *memRecorder) Record(obs []Observation) error {
	m.obs = append(m.obs, obs...)
	return nil
}

func newTestRunner(t *testing.T, faces []image.Rectangle) (*Runner, *bytes.Buffer, *memRecorder) {
	p, _, _ := newTestPipeline(faces, []float32{0, 0, 0, 0.9, 0, 0.1, 0})
	t.Cleanup(func() { p.Close() })

	var out bytes.Buffer
	rec := &memRecorder{}
	r := NewRunner(p, &HeadlessDisplay{})
	r.Out = &out
	r.Recorder = rec
	r.HistogramFile = filepath.Join(t.TempDir(), "hist.txt")
	return r, &out, rec
}

func TestRunImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.png")
	frame := solidMat(200, 200, 100)
	defer frame.Close()
	require.True(t, gocv.IMWrite(path, frame))

	r, out, rec := newTestRunner(t, []image.Rectangle{image.Rect(40, 40, 160, 160)})
	res, err := r.RunImage(path)
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, "it should be Happy: 90.000000%\nalso could be Happy: 90.000000%\n", out.String())
	require.Len(t, rec.obs, 1)
	assert.Equal(t, Happy, rec.obs[0].Prediction.Emotion)
	assert.Equal(t, 1, r.Display.(*HeadlessDisplay).Shown)
}

func TestRunImageMissing(t *testing.T) {
	r, _, _ := newTestRunner(t, nil)
	_, err := r.RunImage(filepath.Join(t.TempDir(), "nope.jpg"))
	assert.Error(t, err)
}

// writeTestVideo writes seconds of solid frames, or skips when the local
// OpenCV build cannot encode MJPG.
func writeTestVideo(t *testing.T, seconds int, fps float64) string {
	path := filepath.Join(t.TempDir(), "clip.avi")
	w, err := gocv.VideoWriterFile(path, "MJPG", fps, 160, 120, true)
	if err != nil || !w.IsOpened() {
		t.Skip("MJPG writer not available")
	}
	frame := solidMat(120, 160, 80)
	defer frame.Close()
	for i := 0; i < seconds*int(fps); i++ {
		require.NoError(t, w.Write(frame))
	}
	require.NoError(t, w.Close())
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		t.Skip("MJPG writer produced no file")
	}
	return path
}

func TestRunVideo(t *testing.T) {
	path := writeTestVideo(t, 3, 5)

	r, out, rec := newTestRunner(t, []image.Rectangle{image.Rect(20, 10, 120, 110)})
	r.FramesDir = filepath.Join(t.TempDir(), "frames")

	report, err := r.RunVideo(context.Background(), path)
	require.NoError(t, err)

	require.NotZero(t, report.Sampled)
	assert.Len(t, report.Labels, report.Sampled)
	for _, l := range report.Labels {
		assert.Equal(t, "Happy", l)
	}
	assert.Equal(t, report.Sampled, report.Histogram.Count(Happy))
	assert.Len(t, rec.obs, report.Sampled)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "Happy: 90.000000%\n"))
	assert.Contains(t, text, "Histogram of frequency\n")
	assert.Contains(t, text, "Histogram saved to "+r.HistogramFile)

	saved, err := os.ReadFile(r.HistogramFile)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "Happy : ")

	frames, err := filepath.Glob(filepath.Join(r.FramesDir, "frame_*.jpg"))
	require.NoError(t, err)
	assert.Len(t, frames, report.Sampled)
}

func TestRunVideoCancelled(t *testing.T) {
	path := writeTestVideo(t, 2, 5)
	r, _, _ := newTestRunner(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.RunVideo(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunVideoRawFrames(t *testing.T) {
	path := writeTestVideo(t, 2, 5)

	r, _, _ := newTestRunner(t, []image.Rectangle{image.Rect(20, 10, 120, 110)})
	r.ShowTimeline = false
	r.RawFramesDir = filepath.Join(t.TempDir(), "raw")

	report, err := r.RunVideo(context.Background(), path)
	require.NoError(t, err)
	require.NotZero(t, report.Sampled)

	raw, err := filepath.Glob(filepath.Join(r.RawFramesDir, "frame_*.jpg"))
	require.NoError(t, err)
	assert.Len(t, raw, report.Sampled)
	assert.FileExists(t, filepath.Join(r.RawFramesDir, "frame_000000.jpg"))

	// the raw copy is the decoded frame, not the annotated one
	saved := gocv.IMRead(raw[0], gocv.IMReadColor)
	defer saved.Close()
	require.False(t, saved.Empty())
	assert.Equal(t, 120, saved.Rows())
	assert.Equal(t, 160, saved.Cols())
}

func TestVideoSaveFrame(t *testing.T) {
	path := writeTestVideo(t, 1, 5)
	video, err := OpenVideo(path)
	require.NoError(t, err)
	defer video.Close()

	name := filepath.Join(t.TempDir(), "first.png")
	require.NoError(t, video.SaveFrame(0, name))
	assert.FileExists(t, name)

	assert.Error(t, video.SaveFrame(1000, filepath.Join(t.TempDir(), "late.png")))
}

// keyDisplay returns KeyEsc from the pressAt-th WaitKey call on.
type keyDisplay struct {
	shown   int
	waits   int
	pressAt int
}

func (d *keyDisplay) Show(frame gocv.Mat) { d.shown++ }

func (d *keyDisplay) WaitKey(delay int) int {
	d.waits++
	if d.pressAt > 0 && d.waits >= d.pressAt {
		return KeyEsc
	}
	return -1
}

func (d *keyDisplay) Close() error { return nil }

func openTestCapture(t *testing.T, seconds int, fps float64) *gocv.VideoCapture {
	capture, err := gocv.OpenVideoCapture(writeTestVideo(t, seconds, fps))
	require.NoError(t, err)
	t.Cleanup(func() { capture.Close() })
	require.True(t, capture.IsOpened())
	return capture
}

func TestRunCaptureEsc(t *testing.T) {
	capture := openTestCapture(t, 2, 5)

	r, out, rec := newTestRunner(t, []image.Rectangle{image.Rect(20, 10, 120, 110)})
	display := &keyDisplay{pressAt: 3}
	r.Display = display

	require.NoError(t, r.runCapture(context.Background(), capture))
	assert.Equal(t, "Esc key is pressed by user. Stopping the program\n", out.String())
	assert.Equal(t, 3, display.shown)
	assert.Len(t, rec.obs, 3)
	assert.Equal(t, 2, rec.obs[2].Frame)
}

func TestRunCaptureDisconnected(t *testing.T) {
	capture := openTestCapture(t, 1, 5)

	r, out, _ := newTestRunner(t, nil)
	display := &keyDisplay{}
	r.Display = display

	require.NoError(t, r.runCapture(context.Background(), capture))
	assert.Equal(t, "Video camera is disconnected. Stopping the program\n", out.String())
	assert.Equal(t, 5, display.shown)
}

func TestRunCaptureCancelled(t *testing.T) {
	capture := openTestCapture(t, 1, 5)

	r, out, rec := newTestRunner(t, nil)
	display := &keyDisplay{}
	r.Display = display

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.runCapture(ctx, capture))
	assert.Empty(t, out.String())
	assert.Zero(t, display.shown)
	assert.Empty(t, rec.obs)
}
