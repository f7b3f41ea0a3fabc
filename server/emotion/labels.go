// Package emotion detects the dominant facial emotion in an image and keeps
// an append-only journal of every detection for stress trend analysis.
package emotion

// Emotion is one of the labels produced by the emotion classifier.
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

// Labels lists the classifier outputs in model index order.
var Labels = [...]Emotion{Angry, Disgust, Fear, Happy, Sad, Surprise, Neutral}

// DefaultStressLevel is used for labels missing from the stress map.
const DefaultStressLevel = 2

var stressLevels = map[Emotion]int{
	Angry:    5,
	Disgust:  4,
	Fear:     4,
	Happy:    1,
	Sad:      3,
	Surprise: 2,
	Neutral:  2,
}

var stressNotes = map[int]string{
	1: "Low stress - Good emotional state",
	2: "Moderate stress - Normal range",
	3: "Elevated stress - Consider taking a break",
	4: "High stress - Recommended to practice stress management",
	5: "Very high stress - Consider seeking support",
}

const unknownStressNote = "Unknown stress level"

// StressLevel maps an emotion to an advisory stress score between 1 and 5.
func StressLevel(e Emotion) int {
	if level, ok := stressLevels[e]; ok {
		return level
	}
	return DefaultStressLevel
}

// StressNotes returns the advisory note for a stress level.
func StressNotes(level int) string {
	if note, ok := stressNotes[level]; ok {
		return note
	}
	return unknownStressNote
}

// Valid reports whether e is one of the classifier labels.
func (e Emotion) Valid() bool {
	for _, l := range Labels {
		if l == e {
			return true
		}
	}
	return false
}
