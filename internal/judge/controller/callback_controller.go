// Package controller exposes the internal HTTP surface of the judging
// pipeline.
package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"arbiter/internal/judge/model"
	"arbiter/internal/judge/runner"
	"arbiter/internal/judge/service"
	"arbiter/pkg/utils/logger"
)

// CallbackController receives per-test-case callbacks from the runner.
type CallbackController struct {
	processor *service.CallbackProcessor
}

// NewCallbackController creates a callback controller.
func NewCallbackController(processor *service.CallbackProcessor) *CallbackController {
	return &CallbackController{processor: processor}
}

// RegisterRoutes mounts the internal callback endpoint.
func (ctrl *CallbackController) RegisterRoutes(router *gin.Engine) {
	router.PUT("/internal/callbacks/:submission_id/:index", ctrl.HandleCallback)
	router.POST("/internal/callbacks/:submission_id/:index", ctrl.HandleCallback)
}

// HandleCallback acknowledges the runner immediately and records the result
// off the request goroutine. The runner fires each callback once and treats
// any response as delivered, so there is nothing useful to report back.
func (ctrl *CallbackController) HandleCallback(c *gin.Context) {
	submissionID := c.Param("submission_id")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 || submissionID == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	mode := model.ParseMode(c.Query("mode"))

	var payload runner.CallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		logger.Warn(c.Request.Context(), "malformed callback payload",
			zap.String("submission_id", submissionID),
			zap.Int("index", index),
			zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}
	if payload.Token == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	c.Status(http.StatusNoContent)

	go ctrl.processor.Process(context.WithoutCancel(c.Request.Context()), submissionID, index, mode, payload)
}
