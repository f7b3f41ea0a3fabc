package vision

import (
	"fmt"
	"sync"

	"github.com/calmify/wellness-backend/server/emotion"
	"gocv.io/x/gocv"
	"go.uber.org/zap"
)

// NetClassifier runs the emotion CNN through OpenCV's DNN module. The model
// takes a (1, 48, 48, 1) float input and returns one probability per label.
type NetClassifier struct {
	mu  sync.Mutex
	net gocv.Net
}

var _ emotion.Classifier = (*NetClassifier)(nil)

// NewNetClassifier loads a model file readable by gocv.ReadNet (ONNX,
// TensorFlow pb, ...). config may be empty for single-file formats.
func NewNetClassifier(model, config string, logger *zap.Logger) (*NetClassifier, error) {
	net := gocv.ReadNet(model, config)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: failed to read emotion model from %s", emotion.ErrModelUnavailable, model)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		logger.Warn("Failed to set DNN backend", zap.Error(err))
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		logger.Warn("Failed to set DNN target", zap.Error(err))
	}

	logger.Info("Emotion model loaded", zap.String("path", model))

	return &NetClassifier{net: net}, nil
}

func (c *NetClassifier) Predict(input emotion.Tensor) ([]float32, error) {
	if len(input) != emotion.InputSize*emotion.InputSize {
		return nil, fmt.Errorf("input has %d values, want %d", len(input), emotion.InputSize*emotion.InputSize)
	}

	blob := gocv.NewMatWithSizes([]int{1, emotion.InputSize, emotion.InputSize, 1}, gocv.MatTypeCV32F)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("accessing input blob: %w", err)
	}
	copy(data, input)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, fmt.Errorf("emotion model produced no output")
	}

	scores, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading model output: %w", err)
	}

	probs := make([]float32, len(scores))
	copy(probs, scores)
	return probs, nil
}

// Close releases the native network.
func (c *NetClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}
