// Package controller exposes the submission intake API.
package controller

import (
	"github.com/gin-gonic/gin"

	"arbiter/internal/submit/service"
	"arbiter/pkg/utils/response"
)

// SubmitController serves the public submission endpoints.
type SubmitController struct {
	service *service.SubmitService
}

// NewSubmitController creates a submit controller.
func NewSubmitController(svc *service.SubmitService) *SubmitController {
	return &SubmitController{service: svc}
}

// RegisterRoutes mounts the submission endpoints.
func (ctrl *SubmitController) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/submissions", ctrl.Submit)
	router.POST("/api/submissions/run", ctrl.Run)
	router.GET("/api/submissions/:id", ctrl.Get)
}

// Submit accepts a persisted submission and dispatches it for judging.
func (ctrl *SubmitController) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	result, err := ctrl.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Run accepts an ephemeral run against caller-supplied test cases, returning
// per-test results without persisting anything.
func (ctrl *SubmitController) Run(c *gin.Context) {
	var req service.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	result, err := ctrl.service.Run(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Get returns the persisted state of one submission.
func (ctrl *SubmitController) Get(c *gin.Context) {
	view, err := ctrl.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}
