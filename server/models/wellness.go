package models

import (
	"time"

	"github.com/calmify/wellness-backend/server/emotion"
)

// EmotionRequest is one image queued for detection.
type EmotionRequest struct {
	ImageData []byte `json:"image_data"`
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"client_id"`
}

// EmotionResponse is the wire form of a detection. Emotion is null when no
// face was found.
type EmotionResponse struct {
	Emotion        *emotion.Emotion     `json:"emotion"`
	Confidence     float64              `json:"confidence"`
	StressLevel    int                  `json:"stress_level,omitempty"`
	Notes          string               `json:"notes,omitempty"`
	BoundingBox    *emotion.BoundingBox `json:"bounding_box,omitempty"`
	FacesDetected  int                  `json:"faces_detected"`
	Logged         bool                 `json:"logged"`
	ProcessingTime int64                `json:"processing_time_ms"`
	Timestamp      int64                `json:"timestamp"`
}

func NewEmotionResponse(result *emotion.Result, elapsed time.Duration) EmotionResponse {
	resp := EmotionResponse{
		ProcessingTime: elapsed.Milliseconds(),
		Timestamp:      time.Now().Unix(),
	}
	if result == nil {
		return resp
	}

	resp.FacesDetected = len(result.Faces)
	if !result.Found() {
		return resp
	}

	e := result.Emotion
	box := result.Box
	resp.Emotion = &e
	resp.Confidence = result.Confidence
	resp.StressLevel = result.StressLevel
	resp.Notes = result.Notes
	resp.BoundingBox = &box
	resp.Logged = result.Logged
	return resp
}

// StressRequest carries the tabular features of the stress model. Pointers
// let "required" distinguish a missing field from a legitimate zero.
type StressRequest struct {
	HeartRate   *float64 `json:"heart_rate" binding:"required,min=30,max=220"`
	SleepHours  *float64 `json:"sleep_hours" binding:"required,min=0,max=24"`
	SnoringRate *float64 `json:"snoring_rate" binding:"required,min=0,max=100"`
}

type StressResponse struct {
	StressLevel int     `json:"stress_level"`
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Cached      bool    `json:"cached"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type TrendResponse struct {
	emotion.Trend
	NoRecords bool `json:"empty"`
}

type HistoryResponse struct {
	Records []emotion.Record `json:"records"`
	Count   int              `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
