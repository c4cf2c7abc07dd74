package emotiongo

import (
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const (
	AppName = "Real-Time Facial Emotion Recognition"
	KeyEsc  = 27
)

// Display shows frames and reports key presses.
type Display interface {
	Show(frame gocv.Mat)
	// WaitKey blocks up to delay milliseconds (0 means forever) and returns
	// the pressed key or -1.
	WaitKey(delay int) int
	Close() error
}

type WindowDisplay struct {
	window *gocv.Window
}

func NewWindowDisplay(title string) *WindowDisplay {
	return &WindowDisplay{window: gocv.NewWindow(title)}
}

func (w *WindowDisplay) Show(frame gocv.Mat) {
	w.window.IMShow(frame)
}

func (w *WindowDisplay) WaitKey(delay int) int {
	return w.window.WaitKey(delay)
}

func (w *WindowDisplay) Close() error {
	return w.window.Close()
}

// HeadlessDisplay drops frames. It is used on machines without a screen
// and by the HTTP and ingest modes.
type HeadlessDisplay struct {
	Shown int
}

func (h *HeadlessDisplay) Show(frame gocv.Mat) {
	h.Shown++
	log.WithField("frames", h.Shown).Debug("frame dropped by headless display")
}

// WaitKey never reports a key. A positive delay is slept so frame loops
// keep their pace.
func (h *HeadlessDisplay) WaitKey(delay int) int {
	if delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
	return -1
}

func (h *HeadlessDisplay) Close() error {
	return nil
}
