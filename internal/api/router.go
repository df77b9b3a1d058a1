// Package api wires the HTTP handlers onto the router.
package api

import (
	httpSwagger "github.com/swaggo/http-swagger"

	_ "pipeline-engine/docs"
	"pipeline-engine/internal/api/handler"
	"pipeline-engine/pkg/router"
)

// NewRouter builds the API surface.
// @title Pipeline Engine API
// @version 1.0
// @description REST API for defining pipelines, triggering runs, and inspecting run history.
// @BasePath /api/v1
func NewRouter(h *handler.Handler) *router.Router {
	r := router.New()

	r.POST("/api/v1/pipelines", h.CreatePipeline)
	r.GET("/api/v1/pipelines", h.ListPipelines)
	r.GET("/api/v1/pipelines/*", h.GetPipeline)
	r.POST("/api/v1/pipelines/*/run", h.RunPipeline)
	r.GET("/api/v1/pipelines/*/logs", h.GetPipelineLogs)

	r.GET("/api/v1/runs", h.ListRuns)
	r.GET("/api/v1/runs/*", h.GetRun)
	r.GET("/api/v1/runs/*/progress", h.GetRunProgress)
	r.POST("/api/v1/runs/*/cancel", h.CancelRun)

	r.Handle("/swagger/", httpSwagger.WrapHandler)

	return r
}
