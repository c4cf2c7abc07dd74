package emotiongo

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestHistogramCounts(t *testing.T) {
	h := HistogramOf([]string{"Happy", "Sad", "Happy", "Bored", "Neutral"})

	assert.Equal(t, 2, h.Count(Happy))
	assert.Equal(t, 1, h.Count(Sad))
	assert.Equal(t, 0, h.Count(Angry))
	assert.Equal(t, 4, h.Total())

	counts := h.Counts()
	assert.Len(t, counts, 7)
	assert.Equal(t, 0, counts[Fear])
	assert.False(t, h.Add("bored"))
	assert.True(t, h.Add(" surprise "))
	assert.Equal(t, 1, h.Count(Surprise))
}

func TestHistogramPrint(t *testing.T) {
	h := HistogramOf([]string{"Happy", "Happy", "Sad"})
	var buf bytes.Buffer
	require.NoError(t, h.Print(&buf))

	want := "     Angry :  (0)\n" +
		"   Disgust :  (0)\n" +
		"      Fear :  (0)\n" +
		"     Happy : ** (2)\n" +
		"       Sad : * (1)\n" +
		"  Surprise :  (0)\n" +
		"   Neutral :  (0)\n"
	assert.Equal(t, want, buf.String())
}

func TestHistogramWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist.txt")
	h := HistogramOf([]string{"Fear"})
	require.NoError(t, h.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Fear : * (1)\n")
	assert.Contains(t, string(data), "Angry :  (0)\n")

	assert.Error(t, h.WriteFile(filepath.Join(t.TempDir(), "missing", "hist.txt")))
}

func TestTimelinePoint(t *testing.T) {
	// 4 labels: xScale = 800/5, yScale = 400/8
	assert.Equal(t, 160, timelinePoint(1, "Angry", 4).X)
	assert.Equal(t, 400, timelinePoint(1, "Angry", 4).Y)
	assert.Equal(t, 400-3*50, timelinePoint(2, "Happy", 4).Y)
	assert.Equal(t, 400-6*50, timelinePoint(3, "Neutral", 4).Y)
	assert.Equal(t, 400, timelinePoint(0, "???", 4).Y)
	assert.Equal(t, 400-3*50, timelinePoint(0, "happy", 4).Y)
}

func TestPlotTimeline(t *testing.T) {
	plot := PlotTimeline([]string{"Happy", "Sad", "Neutral"})
	defer plot.Close()

	assert.Equal(t, 400, plot.Rows())
	assert.Equal(t, 800, plot.Cols())
	assert.Equal(t, gocv.MatTypeCV8UC3, plot.Type())

	// the segment leaves the first point at class Happy
	v := plot.GetVecbAt(400-3*50, 0)
	assert.Equal(t, []uint8{0, 0, 255}, []uint8(v))
}

func TestPlotTimelineEmpty(t *testing.T) {
	plot := PlotTimeline(nil)
	defer plot.Close()
	assert.False(t, plot.Empty())
	v := plot.GetVecbAt(200, 400)
	assert.Equal(t, []uint8{255, 255, 255}, []uint8(v))
}
