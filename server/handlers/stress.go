package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/calmify/wellness-backend/server/ml"
	"github.com/calmify/wellness-backend/server/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StressPredictor interface {
	PredictStress(ctx context.Context, features ml.StressFeatures) (*ml.StressPrediction, error)
}

type StressHandler struct {
	predictor StressPredictor
	logger    *zap.Logger
}

func NewStressHandler(predictor StressPredictor, logger *zap.Logger) *StressHandler {
	return &StressHandler{predictor: predictor, logger: logger}
}

func (h *StressHandler) PredictStress(c *gin.Context) {
	var request models.StressRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "heart_rate (30-220), sleep_hours (0-24) and snoring_rate (0-100) are required",
		})
		return
	}

	prediction, err := h.predictor.PredictStress(c.Request.Context(), ml.StressFeatures{
		HeartRate:   *request.HeartRate,
		SleepHours:  *request.SleepHours,
		SnoringRate: *request.SnoringRate,
	})
	if err != nil {
		switch {
		case errors.Is(err, ml.ErrInvalidFeatures):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		case errors.Is(err, ml.ErrBadResponse):
			h.logger.Error("Stress model returned an invalid prediction", zap.Error(err))
			c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "Invalid response from stress model"})
		default:
			h.logger.Error("Stress prediction failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "Stress prediction unavailable"})
		}
		return
	}

	c.JSON(http.StatusOK, models.StressResponse{
		StressLevel: prediction.StressLevel,
		Label:       prediction.Label,
		Confidence:  prediction.Confidence,
		Cached:      prediction.Cached,
	})
}
