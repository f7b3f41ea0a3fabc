// Package processor runs emotion detection on a bounded worker pool so a
// burst of uploads cannot pile unbounded work onto the classifier.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calmify/wellness-backend/server/emotion"
	"github.com/calmify/wellness-backend/server/models"
	"go.uber.org/zap"
)

var (
	ErrQueueFull         = errors.New("processing queue full, try again later")
	ErrProcessingTimeout = errors.New("processing timeout")
)

type EmotionProcessor struct {
	detector *emotion.Detector
	logger   *zap.Logger
	queue    *ProcessingQueue
	config   ProcessorConfig
	mutex    sync.RWMutex
	stats    ProcessorStats
}

type ProcessorStats struct {
	StartTime             time.Time  `json:"start_time"`
	TotalProcessed        int64      `json:"total_processed"`
	SuccessfullyProcessed int64      `json:"successfully_processed"`
	FailedProcessed       int64      `json:"failed_processed"`
	NoFaceDetected        int64      `json:"no_face_detected"`
	LogFailures           int64      `json:"log_failures"`
	AverageLatency        float64    `json:"average_latency_ms"`
	Queue                 QueueStats `json:"queue"`
}

type ProcessorConfig struct {
	MaxQueueSize      int           `json:"max_queue_size"`
	MaxWorkers        int           `json:"max_workers"`
	ProcessingTimeout time.Duration `json:"processing_timeout"`
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxQueueSize:      64,
		MaxWorkers:        2,
		ProcessingTimeout: 30 * time.Second,
	}
}

func NewEmotionProcessor(detector *emotion.Detector, config ProcessorConfig, logger *zap.Logger) *EmotionProcessor {
	defaults := DefaultProcessorConfig()
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = defaults.MaxQueueSize
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = defaults.MaxWorkers
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = defaults.ProcessingTimeout
	}

	p := &EmotionProcessor{
		detector: detector,
		logger:   logger,
		config:   config,
		stats:    ProcessorStats{StartTime: time.Now()},
	}
	p.queue = NewProcessingQueue(config.MaxQueueSize, config.MaxWorkers, p.processEmotion)

	logger.Info("Emotion processor started",
		zap.Int("workers", config.MaxWorkers),
		zap.Int("queue_size", config.MaxQueueSize),
		zap.Duration("timeout", config.ProcessingTimeout))

	return p
}

// Process runs one detection on the worker pool and waits for it.
func (p *EmotionProcessor) Process(ctx context.Context, request *models.EmotionRequest) (*emotion.Result, error) {
	startTime := time.Now()
	p.count(func(s *ProcessorStats) { s.TotalProcessed++ })

	jobCtx, cancel := context.WithTimeout(ctx, p.config.ProcessingTimeout)
	defer cancel()

	item := &QueueItem{
		Ctx:        jobCtx,
		Request:    request,
		ResultChan: make(chan *ProcessingResult, 1),
		EnqueuedAt: startTime,
	}

	if !p.queue.Enqueue(item) {
		p.count(func(s *ProcessorStats) { s.FailedProcessed++ })
		return nil, ErrQueueFull
	}

	select {
	case res := <-item.ResultChan:
		if res.Error != nil {
			p.count(func(s *ProcessorStats) { s.FailedProcessed++ })
			return nil, p.contextError(ctx, res.Error)
		}

		latency := time.Since(startTime)
		p.count(func(s *ProcessorStats) {
			s.SuccessfullyProcessed++
			if !res.Result.Found() {
				s.NoFaceDetected++
			}
			s.updateLatency(latency)
		})

		p.logger.Debug("Emotion processed",
			zap.String("client_id", request.ClientID),
			zap.String("emotion", string(res.Result.Emotion)),
			zap.Float64("confidence", res.Result.Confidence),
			zap.Duration("latency", latency))

		return res.Result, nil

	case <-jobCtx.Done():
		p.count(func(s *ProcessorStats) { s.FailedProcessed++ })
		return nil, p.contextError(ctx, jobCtx.Err())
	}
}

// contextError reports the caller's cancellation as-is and our own
// deadline as ErrProcessingTimeout.
func (p *EmotionProcessor) contextError(parent context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return parentErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrProcessingTimeout
	}
	return err
}

func (p *EmotionProcessor) processEmotion(item *QueueItem) {
	if err := item.Ctx.Err(); err != nil {
		item.reply(&ProcessingResult{Error: err})
		return
	}

	result, err := p.detector.Detect(item.Ctx, item.Request.ImageData)
	if err != nil {
		if !errors.Is(err, emotion.ErrDecode) {
			p.logger.Error("Emotion detection failed",
				zap.String("client_id", item.Request.ClientID),
				zap.Error(err))
		}
		item.reply(&ProcessingResult{Error: err})
		return
	}

	item.reply(&ProcessingResult{Result: result})
}

// Trend analyzes the emotion journal and logs the outcome.
func (p *EmotionProcessor) Trend() (emotion.Trend, error) {
	return p.detector.ReportStressTrend()
}

// History returns up to limit of the most recent journal records.
func (p *EmotionProcessor) History(limit int) ([]emotion.Record, error) {
	records, err := p.detector.Journal().Recent(limit)
	if err != nil {
		return nil, fmt.Errorf("reading emotion history: %w", err)
	}
	return records, nil
}

func (p *EmotionProcessor) GetStats() ProcessorStats {
	p.mutex.RLock()
	stats := p.stats
	p.mutex.RUnlock()

	stats.LogFailures = p.detector.LogFailures()
	stats.Queue = p.queue.GetQueueStats()
	return stats
}

func (p *EmotionProcessor) count(update func(*ProcessorStats)) {
	p.mutex.Lock()
	update(&p.stats)
	p.mutex.Unlock()
}

func (s *ProcessorStats) updateLatency(latency time.Duration) {
	current := float64(latency.Milliseconds())

	if s.AverageLatency == 0 {
		s.AverageLatency = current
	} else {
		alpha := 0.1
		s.AverageLatency = alpha*current + (1-alpha)*s.AverageLatency
	}
}

// Shutdown gracefully stops the worker pool.
func (p *EmotionProcessor) Shutdown() error {
	p.logger.Info("Shutting down emotion processor...")

	if err := p.queue.Shutdown(30 * time.Second); err != nil {
		p.logger.Error("Failed to shutdown queue", zap.Error(err))
		return err
	}

	p.logger.Info("Emotion processor shutdown complete")
	return nil
}
