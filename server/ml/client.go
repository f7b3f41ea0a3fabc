// Package ml talks to the tabular stress-prediction service.
package ml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/calmify/wellness-backend/server/cache"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrInvalidFeatures = errors.New("invalid stress features")
	ErrBadResponse     = errors.New("unexpected response from stress model")
)

// StressLabels names the model's output classes, lowest stress first.
var StressLabels = [...]string{"Low", "Moderate", "Elevated", "High", "Very High"}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	config     ClientConfig
	cache      cache.Cache

	stopCh   chan struct{}
	stopOnce sync.Once
}

type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
	CacheTTL            time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxRetries:          3,
		RetryDelay:          1 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		CacheTTL:            5 * time.Minute,
	}
}

// StressFeatures are the inputs of the stress model.
type StressFeatures struct {
	HeartRate   float64 `json:"heart_rate"`
	SleepHours  float64 `json:"sleep_hours"`
	SnoringRate float64 `json:"snoring_rate"`
}

func (f StressFeatures) Validate() error {
	switch {
	case f.HeartRate < 30 || f.HeartRate > 220:
		return fmt.Errorf("%w: heart_rate %v outside 30-220", ErrInvalidFeatures, f.HeartRate)
	case f.SleepHours < 0 || f.SleepHours > 24:
		return fmt.Errorf("%w: sleep_hours %v outside 0-24", ErrInvalidFeatures, f.SleepHours)
	case f.SnoringRate < 0 || f.SnoringRate > 100:
		return fmt.Errorf("%w: snoring_rate %v outside 0-100", ErrInvalidFeatures, f.SnoringRate)
	}
	return nil
}

func (f StressFeatures) cacheKey() string {
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return cache.GenerateCacheKey("stress", format(f.HeartRate), format(f.SleepHours), format(f.SnoringRate))
}

type StressPrediction struct {
	StressLevel int     `json:"stress_level"`
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Cached      bool    `json:"-"`
}

type predictResponse struct {
	StressLevel *int    `json:"stress_level"`
	Confidence  float64 `json:"confidence"`
}

// NewClient builds a client and starts its background health checker.
// cache may be nil.
func NewClient(baseURL string, config ClientConfig, c cache.Cache, logger *zap.Logger) *Client {
	client := &Client{
		baseURL: baseURL,
		logger:  logger,
		config:  config,
		cache:   c,
		stopCh:  make(chan struct{}),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		logger.Warn("Stress model service not available at startup", zap.Error(err))
	}

	if config.HealthCheckInterval > 0 {
		go client.startHealthChecker()
	}

	return client
}

// PredictStress classifies the features, serving repeated inputs from the
// cache.
func (c *Client) PredictStress(ctx context.Context, features StressFeatures) (*StressPrediction, error) {
	if err := features.Validate(); err != nil {
		return nil, err
	}

	key := features.cacheKey()
	if c.cache != nil {
		var cached StressPrediction
		if err := c.cache.Get(ctx, key, &cached); err == nil {
			c.logger.Debug("Cache hit for stress prediction", zap.String("key", key))
			cached.Cached = true
			return &cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("Stress cache lookup failed", zap.Error(err))
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying stress prediction request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		prediction, err := c.executePredictRequest(ctx, features)
		if err == nil {
			if c.cache != nil {
				if err := c.cache.SetWithTTL(ctx, key, prediction, c.config.CacheTTL); err != nil {
					c.logger.Warn("Failed to cache stress prediction", zap.Error(err))
				}
			}
			return prediction, nil
		}
		if errors.Is(err, ErrBadResponse) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("stress prediction failed after %d attempts: %w",
		c.config.MaxRetries+1, lastErr)
}

func (c *Client) executePredictRequest(ctx context.Context, features StressFeatures) (*StressPrediction, error) {
	requestData, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/predict", c.baseURL)
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", "calmify-backend/1.0")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return nil, fmt.Errorf("stress model error (status %d): %s",
			response.StatusCode, string(bodyBytes))
	}

	var body predictResponse
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if body.StressLevel == nil {
		return nil, fmt.Errorf("%w: missing stress_level", ErrBadResponse)
	}

	label, err := StressLabel(*body.StressLevel)
	if err != nil {
		return nil, err
	}

	return &StressPrediction{
		StressLevel: *body.StressLevel,
		Label:       label,
		Confidence:  body.Confidence,
	}, nil
}

// StressLabel names a model output class.
func StressLabel(level int) (string, error) {
	if level < 0 || level >= len(StressLabels) {
		return "", fmt.Errorf("%w: stress level %d outside 0-%d", ErrBadResponse, level, len(StressLabels)-1)
	}
	return StressLabels[level], nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("stress model service unhealthy (status %d)", response.StatusCode)
	}

	return nil
}

func (c *Client) startHealthChecker() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.Error("Stress model health check failed", zap.Error(err))
			} else {
				c.logger.Debug("Stress model health check passed")
			}
			cancel()
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the health checker.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
