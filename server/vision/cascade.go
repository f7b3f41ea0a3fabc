// Package vision adapts OpenCV models (through gocv) to the emotion
// detector's face locator and classifier contracts.
package vision

import (
	"fmt"
	"image"
	"sync"

	"github.com/calmify/wellness-backend/server/emotion"
	"gocv.io/x/gocv"
	"go.uber.org/zap"
)

// CascadeParams tunes the sliding-window face detector.
type CascadeParams struct {
	ScaleFactor  float64
	MinNeighbors int
	MinFaceSize  int
}

// DefaultCascadeParams matches the frontal-face settings the emotion model
// was tuned against.
func DefaultCascadeParams() CascadeParams {
	return CascadeParams{
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinFaceSize:  30,
	}
}

// CascadeLocator finds faces with a Haar cascade. The underlying classifier
// is not safe for concurrent use, so calls are serialized.
type CascadeLocator struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	params     CascadeParams
}

var _ emotion.FaceLocator = (*CascadeLocator)(nil)

// NewCascadeLocator loads the cascade XML at path.
func NewCascadeLocator(path string, params CascadeParams, logger *zap.Logger) (*CascadeLocator, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("%w: failed to load face cascade classifier from %s", emotion.ErrModelUnavailable, path)
	}

	logger.Info("Face cascade loaded",
		zap.String("path", path),
		zap.Float64("scale_factor", params.ScaleFactor),
		zap.Int("min_neighbors", params.MinNeighbors),
		zap.Int("min_face_size", params.MinFaceSize))

	return &CascadeLocator{
		classifier: classifier,
		params:     params,
	}, nil
}

func (l *CascadeLocator) Locate(gray *image.Gray) ([]image.Rectangle, error) {
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("converting image to mat: %w", err)
	}
	defer mat.Close()

	l.mu.Lock()
	defer l.mu.Unlock()

	faces := l.classifier.DetectMultiScaleWithParams(
		mat,
		l.params.ScaleFactor,
		l.params.MinNeighbors,
		0,
		image.Pt(l.params.MinFaceSize, l.params.MinFaceSize),
		image.Pt(0, 0),
	)

	// Mat coordinates start at zero; shift back into the image's space
	offset := gray.Bounds().Min
	for i := range faces {
		faces[i] = faces[i].Add(offset)
	}
	return faces, nil
}

// Close releases the native classifier.
func (l *CascadeLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classifier.Close()
}
