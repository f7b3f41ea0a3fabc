package emotion

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeLocator struct {
	faces []image.Rectangle
	err   error
	calls int
}

func (f *fakeLocator) Locate(gray *image.Gray) ([]image.Rectangle, error) {
	f.calls++
	return f.faces, f.err
}

// sequenceClassifier returns its outputs in call order.
type sequenceClassifier struct {
	outputs [][]float32
	inputs  []Tensor
	err     error
}

func (c *sequenceClassifier) Predict(input Tensor) ([]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.inputs = append(c.inputs, input)
	out := c.outputs[len(c.inputs)-1]
	return out, nil
}

func probs(label Emotion, confidence float32) []float32 {
	out := make([]float32, len(Labels))
	rest := (1 - confidence) / float32(len(Labels)-1)
	for i, l := range Labels {
		if l == label {
			out[i] = confidence
		} else {
			out[i] = rest
		}
	}
	return out
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func newTestDetector(t *testing.T, locator FaceLocator, classifier Classifier) (*Detector, *Journal) {
	t.Helper()
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "emotion_log.csv"))
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	d, err := NewDetector(locator, classifier, journal, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}
	return d, journal
}

func countRecords(t *testing.T, j *Journal) int {
	t.Helper()
	records, err := j.Records()
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	return len(records)
}

func TestNewDetector_MissingModels(t *testing.T) {
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "log.csv"))
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}

	if _, err := NewDetector(nil, &sequenceClassifier{}, journal, nil); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("nil locator: error = %v, want ErrModelUnavailable", err)
	}
	if _, err := NewDetector(&fakeLocator{}, nil, journal, nil); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("nil classifier: error = %v, want ErrModelUnavailable", err)
	}
	if _, err := NewDetector(&fakeLocator{}, &sequenceClassifier{}, nil, nil); err == nil {
		t.Error("nil journal: expected error")
	}
}

func TestDetect_NoFaces(t *testing.T) {
	locator := &fakeLocator{}
	classifier := &sequenceClassifier{}
	d, journal := newTestDetector(t, locator, classifier)

	before, err := os.ReadFile(journal.Path())
	if err != nil {
		t.Fatal(err)
	}

	result, err := d.Detect(context.Background(), solidPNG(t, 100, 100, color.Gray{Y: 128}))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if result.Found() {
		t.Errorf("expected absent result, got %v", result.Emotion)
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", result.Confidence)
	}
	if len(classifier.inputs) != 0 {
		t.Errorf("classifier called %d times, want 0", len(classifier.inputs))
	}

	after, err := os.ReadFile(journal.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("journal changed for an image without faces")
	}
}

func TestDetect_SingleHappyFace(t *testing.T) {
	locator := &fakeLocator{faces: []image.Rectangle{image.Rect(10, 10, 60, 60)}}
	classifier := &sequenceClassifier{outputs: [][]float32{probs(Happy, 0.92)}}
	d, journal := newTestDetector(t, locator, classifier)

	result, err := d.Detect(context.Background(), solidPNG(t, 100, 100, color.RGBA{200, 150, 100, 255}))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if result.Emotion != Happy {
		t.Errorf("Emotion = %v, want Happy", result.Emotion)
	}
	if math.Abs(result.Confidence-0.92) > 1e-6 {
		t.Errorf("Confidence = %v, want 0.92", result.Confidence)
	}
	if result.Box != (BoundingBox{X: 10, Y: 10, Width: 50, Height: 50}) {
		t.Errorf("Box = %+v", result.Box)
	}
	if !result.Logged {
		t.Error("expected result to be logged")
	}

	records, err := journal.Records()
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.StressLevel != 1 {
		t.Errorf("StressLevel = %d, want 1", rec.StressLevel)
	}
	if rec.Notes != "Low stress - Good emotional state" {
		t.Errorf("Notes = %q", rec.Notes)
	}
	if rec.Confidence != result.Confidence {
		t.Errorf("logged confidence = %v, want %v", rec.Confidence, result.Confidence)
	}
}

func TestDetect_PicksMostConfidentFace(t *testing.T) {
	locator := &fakeLocator{faces: []image.Rectangle{
		image.Rect(0, 0, 40, 40),
		image.Rect(50, 0, 100, 50),
		image.Rect(0, 50, 45, 95),
	}}
	classifier := &sequenceClassifier{outputs: [][]float32{
		probs(Sad, 0.55),
		probs(Angry, 0.81),
		probs(Happy, 0.60),
	}}
	d, journal := newTestDetector(t, locator, classifier)

	result, err := d.Detect(context.Background(), solidPNG(t, 100, 100, color.White))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if result.Emotion != Angry {
		t.Errorf("Emotion = %v, want Angry", result.Emotion)
	}
	if result.Box.X != 50 {
		t.Errorf("Box = %+v, want the second face", result.Box)
	}
	if len(result.Faces) != 3 {
		t.Errorf("got %d faces, want 3", len(result.Faces))
	}
	if result.StressLevel != 5 {
		t.Errorf("StressLevel = %d, want 5", result.StressLevel)
	}

	records, err := journal.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Emotion != Angry {
		t.Errorf("records = %+v, want one Angry record", records)
	}
}

func TestDetect_InvalidImage(t *testing.T) {
	locator := &fakeLocator{}
	d, journal := newTestDetector(t, locator, &sequenceClassifier{})

	for _, data := range [][]byte{nil, []byte("definitely not an image")} {
		_, err := d.Detect(context.Background(), data)
		if !errors.Is(err, ErrDecode) {
			t.Errorf("Detect(%q) error = %v, want ErrDecode", data, err)
		}
	}
	if locator.calls != 0 {
		t.Errorf("locator called %d times for undecodable input", locator.calls)
	}
	if n := countRecords(t, journal); n != 0 {
		t.Errorf("got %d records, want 0", n)
	}
}

func TestDetect_ClassifierErrors(t *testing.T) {
	face := []image.Rectangle{image.Rect(0, 0, 30, 30)}

	t.Run("predict failure", func(t *testing.T) {
		boom := errors.New("boom")
		d, _ := newTestDetector(t, &fakeLocator{faces: face}, &sequenceClassifier{err: boom})
		if _, err := d.Detect(context.Background(), solidPNG(t, 40, 40, color.Black)); !errors.Is(err, boom) {
			t.Errorf("error = %v, want boom", err)
		}
	})

	t.Run("wrong vector length", func(t *testing.T) {
		d, _ := newTestDetector(t, &fakeLocator{faces: face}, &sequenceClassifier{outputs: [][]float32{{0.5, 0.5}}})
		if _, err := d.Detect(context.Background(), solidPNG(t, 40, 40, color.Black)); !errors.Is(err, ErrBadPrediction) {
			t.Errorf("error = %v, want ErrBadPrediction", err)
		}
	})

	nan := float32(math.NaN())
	outOfRange := []struct {
		name   string
		output []float32
	}{
		{"nan", []float32{0.1, 0.1, 0.1, nan, 0.1, 0.1, 0.1}},
		{"nan first", []float32{nan, 0.9, 0, 0, 0, 0, 0}},
		{"negative", []float32{-0.2, 0.2, 0.2, 0.2, 0.2, 0.2, 0.2}},
		{"above one", []float32{0, 0, 0, 1.4, 0, 0, 0}},
		{"infinite", []float32{0, 0, 0, 0, float32(math.Inf(1)), 0, 0}},
	}
	for _, tt := range outOfRange {
		t.Run(tt.name, func(t *testing.T) {
			d, journal := newTestDetector(t, &fakeLocator{faces: face}, &sequenceClassifier{outputs: [][]float32{tt.output}})
			if _, err := d.Detect(context.Background(), solidPNG(t, 40, 40, color.Black)); !errors.Is(err, ErrBadPrediction) {
				t.Errorf("error = %v, want ErrBadPrediction", err)
			}
			if n := countRecords(t, journal); n != 0 {
				t.Errorf("journal has %d records, want 0", n)
			}
		})
	}
}

// cancellingClassifier cancels the detection context while classifying.
type cancellingClassifier struct {
	cancel context.CancelFunc
}

func (c *cancellingClassifier) Predict(Tensor) ([]float32, error) {
	c.cancel()
	return probs(Angry, 0.8), nil
}

func TestDetect_CancelledBeforeJournal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, journal := newTestDetector(t,
		&fakeLocator{faces: []image.Rectangle{image.Rect(0, 0, 30, 30)}},
		&cancellingClassifier{cancel: cancel})

	if _, err := d.Detect(ctx, solidPNG(t, 40, 40, color.Black)); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if n := countRecords(t, journal); n != 0 {
		t.Errorf("journal has %d records, want 0", n)
	}
}

func TestDetect_LogFailureStillReturnsResult(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	dir := t.TempDir()
	journal, err := OpenJournal(filepath.Join(dir, "emotion_log.csv"))
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewDetector(
		&fakeLocator{faces: []image.Rectangle{image.Rect(0, 0, 20, 20)}},
		&sequenceClassifier{outputs: [][]float32{probs(Fear, 0.7)}},
		journal,
		zap.New(core),
	)
	if err != nil {
		t.Fatal(err)
	}

	// replace the journal file with a directory so the append fails
	if err := os.Remove(journal.Path()); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(journal.Path(), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := d.Detect(context.Background(), solidPNG(t, 30, 30, color.Black))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if result.Emotion != Fear || result.Logged {
		t.Errorf("result = %+v, want unlogged Fear", result)
	}
	if d.LogFailures() != 1 {
		t.Errorf("LogFailures() = %d, want 1", d.LogFailures())
	}
	if logs.FilterMessage("Failed to log emotion").Len() != 1 {
		t.Error("expected a warning for the failed append")
	}
}

func TestDetect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, _ := newTestDetector(t,
		&fakeLocator{faces: []image.Rectangle{image.Rect(0, 0, 10, 10)}},
		&sequenceClassifier{outputs: [][]float32{probs(Happy, 0.9)}})

	if _, err := d.Detect(ctx, solidPNG(t, 20, 20, color.Black)); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestReportStressTrend(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "log.csv"))
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewDetector(&fakeLocator{}, &sequenceClassifier{}, journal, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}

	trend, err := d.ReportStressTrend()
	if err != nil {
		t.Fatalf("ReportStressTrend() error = %v", err)
	}
	if !trend.Empty() || logs.Len() != 0 {
		t.Errorf("empty journal: trend = %+v, logs = %d", trend, logs.Len())
	}

	for _, e := range []Emotion{Happy, Happy, Happy, Happy, Happy, Angry, Angry, Angry} {
		if _, err := journal.LogEmotion(e, 0.8); err != nil {
			t.Fatal(err)
		}
	}

	trend, err = d.ReportStressTrend()
	if err != nil {
		t.Fatal(err)
	}
	if trend.Direction != DirectionIncreasing {
		t.Errorf("Direction = %v, want increasing", trend.Direction)
	}
	if logs.FilterMessage("Stress levels have been increasing recently").Len() != 1 {
		t.Error("expected increasing-stress warning")
	}
}
