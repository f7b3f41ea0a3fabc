package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/calmify/wellness-backend/server/emotion"
)

func TestNewEmotionResponse_NoFace(t *testing.T) {
	resp := NewEmotionResponse(&emotion.Result{Faces: []emotion.FaceResult{}}, 12*time.Millisecond)

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	if !strings.Contains(body, `"emotion":null`) || !strings.Contains(body, `"confidence":0`) {
		t.Errorf("no-face response = %s", body)
	}
	if strings.Contains(body, "bounding_box") {
		t.Errorf("no-face response should omit bounding box: %s", body)
	}
}

func TestNewEmotionResponse_Found(t *testing.T) {
	result := &emotion.Result{
		Emotion:     emotion.Happy,
		Confidence:  0.92,
		Box:         emotion.BoundingBox{X: 10, Y: 20, Width: 40, Height: 40},
		StressLevel: 1,
		Notes:       emotion.StressNotes(1),
		Faces:       []emotion.FaceResult{{Emotion: emotion.Happy, Confidence: 0.92}},
		Logged:      true,
	}

	resp := NewEmotionResponse(result, 0)
	if resp.Emotion == nil || *resp.Emotion != emotion.Happy {
		t.Fatalf("Emotion = %v", resp.Emotion)
	}
	if resp.BoundingBox.Width != 40 || resp.FacesDetected != 1 || !resp.Logged {
		t.Errorf("response = %+v", resp)
	}
}
