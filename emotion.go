package emotiongo

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Emotion is one of the classes the emotion network was trained on.
type Emotion string

const (
	Angry    Emotion = "Angry"
	Disgust  Emotion = "Disgust"
	Fear     Emotion = "Fear"
	Happy    Emotion = "Happy"
	Sad      Emotion = "Sad"
	Surprise Emotion = "Surprise"
	Neutral  Emotion = "Neutral"
)

// DEFAULTEMOTIONS is indexed by the network's class id.
var DEFAULTEMOTIONS = []Emotion{Angry, Disgust, Fear, Happy, Sad, Surprise, Neutral}

// ErrUnknownClass is returned when a network reports a class id outside the label table.
var ErrUnknownClass = errors.New("unknown class id")

// Emotions returns the labels in class id order.
func Emotions() []Emotion {
	out := make([]Emotion, len(DEFAULTEMOTIONS))
	copy(out, DEFAULTEMOTIONS)
	return out
}

func EmotionFromClassID(id int) (Emotion, error) {
	if id < 0 || id >= len(DEFAULTEMOTIONS) {
		return "", errors.Wrapf(ErrUnknownClass, "class %d", id)
	}
	return DEFAULTEMOTIONS[id], nil
}

// ClassID returns the index of e in DEFAULTEMOTIONS, or -1.
func (e Emotion) ClassID() int {
	for i, v := range DEFAULTEMOTIONS {
		if v == e {
			return i
		}
	}
	return -1
}

// ParseEmotion matches s against the known labels ignoring case and surrounding space.
func ParseEmotion(s string) (Emotion, bool) {
	s = strings.TrimSpace(s)
	for _, e := range DEFAULTEMOTIONS {
		if strings.EqualFold(string(e), s) {
			return e, true
		}
	}
	return "", false
}

// LabelOf returns the label part of a rendered prediction ("Happy: 91.2%" -> "Happy").
func LabelOf(text string) string {
	if i := strings.IndexByte(text, ':'); i >= 0 {
		return text[:i]
	}
	return text
}

// Prediction is the top-1 answer of the network for one face.
type Prediction struct {
	Emotion     Emotion `json:"emotion"`
	Probability float32 `json:"probability"`
}

func (p Prediction) String() string {
	return fmt.Sprintf("%s: %f%%", p.Emotion, p.Probability*100)
}
