package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/calmify/wellness-backend/server/emotion"
	"github.com/calmify/wellness-backend/server/models"
	"github.com/calmify/wellness-backend/server/processor"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

var (
	errNoImage      = errors.New("no image provided")
	errInvalidImage = errors.New("invalid image data")
)

// EmotionService is the part of the emotion processor the HTTP layer uses.
type EmotionService interface {
	Process(ctx context.Context, request *models.EmotionRequest) (*emotion.Result, error)
	Trend() (emotion.Trend, error)
	History(limit int) ([]emotion.Record, error)
	GetStats() processor.ProcessorStats
}

// StatsSource contributes a named section to the stats endpoint.
type StatsSource func(ctx context.Context) (any, error)

type EmotionHandler struct {
	service EmotionService
	logger  *zap.Logger

	mutex   sync.Mutex
	stats   SystemStats
	sources map[string]StatsSource
}

type SystemStats struct {
	TotalImages    int64     `json:"total_images"`
	ProcessedOK    int64     `json:"processed_ok"`
	ProcessedError int64     `json:"processed_error"`
	AvgProcessTime float64   `json:"avg_process_time_ms"`
	LastUpdated    time.Time `json:"last_updated"`
}

type ImageUploadRequest struct {
	ImageData string `json:"image_data" binding:"required"`
	Timestamp int64  `json:"timestamp"`
}

func NewEmotionHandler(service EmotionService, logger *zap.Logger) *EmotionHandler {
	return &EmotionHandler{
		service: service,
		logger:  logger,
		stats:   SystemStats{LastUpdated: time.Now()},
		sources: make(map[string]StatsSource),
	}
}

// AddStatsSource registers an extra section for GetStats.
func (h *EmotionHandler) AddStatsSource(name string, source StatsSource) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.sources[name] = source
}

// DetectEmotion accepts a multipart "image" file or a JSON body whose
// image_data is base64 or a data URL.
func (h *EmotionHandler) DetectEmotion(c *gin.Context) {
	startTime := time.Now()
	h.record(func(s *SystemStats) { s.TotalImages++ })

	imageData, timestamp, err := h.readImage(c)
	if err != nil {
		h.logger.Warn("Invalid emotion request", zap.Error(err))
		message := "Invalid image data"
		if errors.Is(err, errNoImage) {
			message = "No image provided"
		}
		h.fail(c, http.StatusBadRequest, message)
		return
	}

	result, err := h.service.Process(c.Request.Context(), &models.EmotionRequest{
		ImageData: imageData,
		Timestamp: timestamp,
		ClientID:  c.ClientIP(),
	})
	if err != nil {
		status, message := emotionErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Emotion processing failed",
				zap.Error(err),
				zap.String("client_ip", c.ClientIP()))
		}
		h.fail(c, status, message)
		return
	}

	processingTime := time.Since(startTime)
	h.record(func(s *SystemStats) {
		s.ProcessedOK++
		s.updateProcessTime(processingTime)
	})

	c.JSON(http.StatusOK, models.NewEmotionResponse(result, processingTime))
}

func (h *EmotionHandler) readImage(c *gin.Context) ([]byte, int64, error) {
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		header, err := c.FormFile("image")
		if err != nil {
			return nil, 0, errNoImage
		}

		file, err := header.Open()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", errInvalidImage, err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", errInvalidImage, err)
		}
		if len(data) == 0 {
			return nil, 0, errNoImage
		}
		return data, time.Now().UnixMilli(), nil
	}

	var request ImageUploadRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		return nil, 0, errNoImage
	}

	data, err := extractImageData(request.ImageData)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errInvalidImage, err)
	}
	return data, request.Timestamp, nil
}

func emotionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, emotion.ErrDecode):
		return http.StatusBadRequest, "Invalid image data"
	case errors.Is(err, processor.ErrQueueFull):
		return http.StatusServiceUnavailable, "Server busy, try again later"
	case errors.Is(err, processor.ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Processing timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "Request cancelled"
	default:
		return http.StatusInternalServerError, "Processing failed"
	}
}

func (h *EmotionHandler) GetTrend(c *gin.Context) {
	trend, err := h.service.Trend()
	if err != nil {
		h.logger.Error("Failed to analyze stress trend", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to analyze stress trend"})
		return
	}

	c.JSON(http.StatusOK, models.TrendResponse{Trend: trend, NoRecords: trend.Empty()})
}

func (h *EmotionHandler) GetHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.service.History(limit)
	if err != nil {
		h.logger.Error("Failed to read emotion history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to read emotion history"})
		return
	}
	if records == nil {
		records = []emotion.Record{}
	}

	c.JSON(http.StatusOK, models.HistoryResponse{Records: records, Count: len(records)})
}

func (h *EmotionHandler) GetStats(c *gin.Context) {
	h.mutex.Lock()
	h.stats.LastUpdated = time.Now()
	system := h.stats
	sources := make(map[string]StatsSource, len(h.sources))
	for name, source := range h.sources {
		sources[name] = source
	}
	h.mutex.Unlock()

	var successRate, errorRate float64
	if system.TotalImages > 0 {
		successRate = float64(system.ProcessedOK) / float64(system.TotalImages) * 100
		errorRate = float64(system.ProcessedError) / float64(system.TotalImages) * 100
	}

	processorStats := h.service.GetStats()

	response := gin.H{
		"system":    system,
		"processor": processorStats,
		"metrics": gin.H{
			"success_rate":   successRate,
			"error_rate":     errorRate,
			"uptime_seconds": time.Since(processorStats.StartTime).Seconds(),
		},
	}

	for name, source := range sources {
		value, err := source(c.Request.Context())
		if err != nil {
			h.logger.Warn("Stats source failed", zap.String("source", name), zap.Error(err))
			response[name] = gin.H{"error": err.Error()}
			continue
		}
		response[name] = value
	}

	c.JSON(http.StatusOK, response)
}

func (h *EmotionHandler) fail(c *gin.Context, status int, message string) {
	h.record(func(s *SystemStats) { s.ProcessedError++ })
	c.JSON(status, models.ErrorResponse{Error: message})
}

func (h *EmotionHandler) record(update func(*SystemStats)) {
	h.mutex.Lock()
	update(&h.stats)
	h.mutex.Unlock()
}

func (s *SystemStats) updateProcessTime(duration time.Duration) {
	currentTime := float64(duration.Milliseconds())

	if s.AvgProcessTime == 0 {
		s.AvgProcessTime = currentTime
	} else {
		alpha := 0.1
		s.AvgProcessTime = alpha*currentTime + (1-alpha)*s.AvgProcessTime
	}
}

// extractImageData accepts "data:image/...;base64,<payload>" or bare base64.
func extractImageData(data string) ([]byte, error) {
	payload := strings.TrimSpace(data)
	if strings.HasPrefix(payload, "data:") {
		_, after, found := strings.Cut(payload, ",")
		if !found {
			return nil, errors.New("invalid data URL format")
		}
		payload = after
	}

	imageData, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	if len(imageData) == 0 {
		return nil, errors.New("empty image")
	}
	return imageData, nil
}
