// Package api implements the HTTP surface (spec §6) with gin-gonic/gin,
// following the teacher's internal/api package shape (router.go,
// middleware.go, types.go, per-resource handler files) file-for-file.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/shipyard/sandboxd/internal/capability"
	"github.com/shipyard/sandboxd/internal/clock"
	"github.com/shipyard/sandboxd/internal/idempotency"
	"github.com/shipyard/sandboxd/internal/profile"
	"github.com/shipyard/sandboxd/internal/sandbox"
	"github.com/shipyard/sandboxd/internal/store"
	"github.com/shipyard/sandboxd/internal/warmpool"
	"github.com/shipyard/sandboxd/internal/warmup"
)

// Deps is everything the HTTP handlers need, built once in
// internal/server and handed to NewRouter.
type Deps struct {
	SandboxMgr  *sandbox.Manager
	Router      *capability.Router
	Idempotent  *idempotency.Service
	Profiles    *profile.Registry
	Store       store.Store
	Clock       clock.Clock
	WarmupQueue *warmup.Queue
	WarmPool    *warmpool.Scheduler
	Logger      *slog.Logger
}

// NewRouter builds the gin.Engine and registers every route (spec §6).
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), loggingMiddleware(deps.Logger), corsMiddleware())

	h := &handlers{deps: deps}

	sandboxes := r.Group("/sandboxes")
	{
		sandboxes.POST("", h.createSandbox)
		sandboxes.GET("", h.listSandboxes)
		sandboxes.GET("/:id", h.getSandbox)
		sandboxes.POST("/:id/keepalive", h.keepalive)
		sandboxes.POST("/:id/stop", h.stopSandbox)
		sandboxes.DELETE("/:id", h.deleteSandbox)
		sandboxes.POST("/:id/extend_ttl", h.extendTTL)

		sandboxes.POST("/:id/python/exec", h.execPython)
		sandboxes.POST("/:id/shell/exec", h.execShell)
		sandboxes.POST("/:id/browser/exec", h.execBrowser)
		sandboxes.POST("/:id/browser/exec_batch", h.execBrowserBatch)

		sandboxes.GET("/:id/filesystem/files", h.readFile)
		sandboxes.PUT("/:id/filesystem/files", h.writeFile)
		sandboxes.DELETE("/:id/filesystem/files", h.deleteFile)
		sandboxes.POST("/:id/filesystem/upload", h.uploadFile)
		sandboxes.GET("/:id/filesystem/download", h.downloadFile)
		sandboxes.GET("/:id/filesystem/list", h.listFiles)
	}

	r.GET("/profiles", h.listProfiles)

	admin := r.Group("/admin")
	{
		admin.GET("/warmpool/status", h.warmPoolStatus)
		admin.POST("/warmpool/cycle", h.triggerWarmPoolCycle)
	}

	return r
}
