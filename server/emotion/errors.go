package emotion

import "errors"

// Common errors.
var (
	ErrDecode           = errors.New("image could not be decoded")
	ErrModelUnavailable = errors.New("emotion model unavailable")
	ErrBadPrediction    = errors.New("classifier returned an unexpected probability vector")
)
