package emotiongo

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const DefaultHistogramFile = "emotion_histogram.txt"

// Histogram counts how often each emotion was the top prediction.
type Histogram struct {
	counts map[Emotion]int
}

func NewHistogram() *Histogram {
	return &Histogram{counts: make(map[Emotion]int, len(DEFAULTEMOTIONS))}
}

// HistogramOf counts labels. Labels that are not emotions are ignored.
func HistogramOf(labels []string) *Histogram {
	h := NewHistogram()
	for _, l := range labels {
		h.Add(l)
	}
	return h
}

// Add counts label and reports whether it was a known emotion. Labels are
// matched ignoring case so values read back from storage count too.
func (h *Histogram) Add(label string) bool {
	e, ok := ParseEmotion(label)
	if !ok {
		return false
	}
	h.counts[e]++
	return true
}

func (h *Histogram) Count(e Emotion) int {
	return h.counts[e]
}

// Counts returns a count for every emotion, zeros included.
func (h *Histogram) Counts() map[Emotion]int {
	out := make(map[Emotion]int, len(DEFAULTEMOTIONS))
	for _, e := range DEFAULTEMOTIONS {
		out[e] = h.counts[e]
	}
	return out
}

func (h *Histogram) Total() int {
	n := 0
	for _, c := range h.counts {
		n += c
	}
	return n
}

// Print writes one right aligned row per emotion, in class order.
func (h *Histogram) Print(w io.Writer) error {
	return h.write(w, "%10s : %s (%d)\n")
}

// WriteFile saves the histogram to path without the column padding.
func (h *Histogram) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "unable to open file %s", path)
	}
	bw := bufio.NewWriter(f)
	if err := h.write(bw, "%s : %s (%d)\n"); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

func (h *Histogram) write(w io.Writer, format string) error {
	for _, e := range DEFAULTEMOTIONS {
		n := h.counts[e]
		if _, err := fmt.Fprintf(w, format, e, strings.Repeat("*", n), n); err != nil {
			return errors.Wrap(err, "write histogram")
		}
	}
	return nil
}

const (
	timelineRows = 400
	timelineCols = 800
)

// TimelineColor draws the timeline in red.
var TimelineColor = color.RGBA{255, 0, 0, 0}

// PlotTimeline draws the sequence of labels as a polyline over a white
// canvas, one step per sample, emotion class id on the vertical axis.
// Unknown labels plot at class 0. The caller closes the Mat.
func PlotTimeline(labels []string) gocv.Mat {
	plot := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), timelineRows, timelineCols, gocv.MatTypeCV8UC3)
	for i := 1; i < len(labels); i++ {
		gocv.Line(&plot, timelinePoint(i-1, labels[i-1], len(labels)), timelinePoint(i, labels[i], len(labels)), TimelineColor, 2)
	}
	return plot
}

func timelinePoint(i int, label string, n int) image.Point {
	xScale := timelineCols / (n + 1)
	yScale := timelineRows / (len(DEFAULTEMOTIONS) + 1)
	value := 0
	if e, ok := ParseEmotion(label); ok {
		value = e.ClassID()
	}
	return image.Pt(i*xScale, timelineRows-value*yScale)
}
