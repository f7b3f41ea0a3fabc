package emotion

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"go.uber.org/zap"
)

// FaceLocator finds face regions in a grayscale image. Results carry no
// ordering guarantee.
type FaceLocator interface {
	Locate(gray *image.Gray) ([]image.Rectangle, error)
}

// Classifier scores a preprocessed face, returning one probability per
// entry of Labels.
type Classifier interface {
	Predict(input Tensor) ([]float32, error)
}

// FaceResult is the classification of a single detected face.
type FaceResult struct {
	Emotion    Emotion     `json:"emotion"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bounding_box"`
}

// Result is the outcome of one detection call. An empty Emotion means no
// face was found.
type Result struct {
	Emotion     Emotion      `json:"emotion"`
	Confidence  float64      `json:"confidence"`
	Box         BoundingBox  `json:"bounding_box"`
	StressLevel int          `json:"stress_level"`
	Notes       string       `json:"notes"`
	Faces       []FaceResult `json:"faces"`
	Logged      bool         `json:"logged"`
}

// Found reports whether a face was detected.
func (r *Result) Found() bool {
	return r != nil && r.Emotion != ""
}

// Detector owns the face locator, the emotion classifier and the journal.
// Build one at startup and share it.
type Detector struct {
	locator    FaceLocator
	classifier Classifier
	journal    *Journal
	logger     *zap.Logger

	logFailures atomic.Int64
}

// NewDetector wires the detector. Missing models fail immediately rather
// than on first use.
func NewDetector(locator FaceLocator, classifier Classifier, journal *Journal, logger *zap.Logger) (*Detector, error) {
	if locator == nil {
		return nil, fmt.Errorf("%w: face locator not loaded", ErrModelUnavailable)
	}
	if classifier == nil {
		return nil, fmt.Errorf("%w: classifier not loaded", ErrModelUnavailable)
	}
	if journal == nil {
		return nil, errors.New("emotion journal is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Detector{
		locator:    locator,
		classifier: classifier,
		journal:    journal,
		logger:     logger,
	}, nil
}

// Journal exposes the detector's log.
func (d *Detector) Journal() *Journal {
	return d.journal
}

// LogFailures counts journal appends that failed since startup.
func (d *Detector) LogFailures() int64 {
	return d.logFailures.Load()
}

// Detect classifies the dominant emotion of the most confident face in an
// encoded image and journals it. Images without faces return an empty
// result with zero confidence and are not journaled.
func (d *Detector) Detect(ctx context.Context, data []byte) (*Result, error) {
	frame, err := Decode(data)
	if err != nil {
		return nil, err
	}

	faces, err := d.locator.Locate(Grayscale(frame))
	if err != nil {
		return nil, fmt.Errorf("locating faces: %w", err)
	}

	result := &Result{Faces: make([]FaceResult, 0, len(faces))}
	for _, rect := range faces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		roi := Crop(frame, rect)
		if roi.Bounds().Empty() {
			continue
		}

		face, err := d.classify(roi)
		if err != nil {
			return nil, err
		}
		face.Box = boxFromRect(rect)
		result.Faces = append(result.Faces, face)
	}

	best, ok := mostConfident(result.Faces)
	if !ok {
		return result, nil
	}

	// abandoned requests are not journaled
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Emotion = best.Emotion
	result.Confidence = best.Confidence
	result.Box = best.Box
	result.StressLevel = StressLevel(best.Emotion)
	result.Notes = StressNotes(result.StressLevel)

	if _, err := d.journal.LogEmotion(best.Emotion, best.Confidence); err != nil {
		d.logFailures.Add(1)
		d.logger.Warn("Failed to log emotion",
			zap.String("emotion", string(best.Emotion)),
			zap.String("path", d.journal.Path()),
			zap.Error(err))
	} else {
		result.Logged = true
	}

	return result, nil
}

func (d *Detector) classify(face image.Image) (FaceResult, error) {
	probs, err := d.classifier.Predict(Preprocess(face))
	if err != nil {
		return FaceResult{}, fmt.Errorf("classifying face: %w", err)
	}
	if len(probs) != len(Labels) {
		return FaceResult{}, fmt.Errorf("%w: got %d values, want %d", ErrBadPrediction, len(probs), len(Labels))
	}

	idx := 0
	for i, p := range probs {
		// NaN fails both comparisons
		if !(p >= 0 && p <= 1) {
			return FaceResult{}, fmt.Errorf("%w: %s probability %v outside [0,1]", ErrBadPrediction, Labels[i], p)
		}
		if p > probs[idx] {
			idx = i
		}
	}

	return FaceResult{
		Emotion:    Labels[idx],
		Confidence: float64(probs[idx]),
	}, nil
}

func mostConfident(faces []FaceResult) (FaceResult, bool) {
	if len(faces) == 0 {
		return FaceResult{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best, true
}

// ReportStressTrend analyzes the journal and logs how recent stress
// compares to the overall average. Empty journals log nothing.
func (d *Detector) ReportStressTrend() (Trend, error) {
	trend, err := d.journal.AnalyzeStressTrend()
	if err != nil {
		d.logger.Error("Error analyzing stress trend", zap.Error(err))
		return Trend{}, err
	}
	if trend.Empty() {
		return trend, nil
	}

	d.logger.Info("Stress analysis",
		zap.Float64("average_stress", trend.Average),
		zap.Float64("recent_stress", trend.Recent),
		zap.Int("recent_window", trend.Window))

	switch trend.Direction {
	case DirectionIncreasing:
		d.logger.Warn("Stress levels have been increasing recently")
	case DirectionDecreasing:
		d.logger.Info("Stress levels have been decreasing recently")
	}
	return trend, nil
}
