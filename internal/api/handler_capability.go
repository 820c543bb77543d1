// handler_capability.go exposes the Capability Router's operations (spec
// §4.8, §6): python/exec, shell/exec, browser/exec(_batch). The streaming
// half of ExecBrowserBatch reuses the gin.Context.Stream idiom the
// teacher's deleted handler_chat.go used for SSE, writing newline-delimited
// JSON instead of SSE events.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shipyard/sandboxd/internal/apperr"
	"github.com/shipyard/sandboxd/internal/runtimeclient"
)

const defaultExecTimeout = 30 * time.Second

func execTimeout(ms int) time.Duration {
	if ms <= 0 {
		return defaultExecTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

func toExecResponse(r runtimeclient.ExecResult) execResultResponse {
	return execResultResponse{
		Success:  r.Success,
		Output:   r.Output,
		Error:    r.Error,
		ExitCode: r.ExitCode,
		Data:     r.Data,
	}
}

func (h *handlers) execPython(c *gin.Context) {
	var req execPythonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation(err.Error()))
		return
	}
	res, err := h.deps.Router.ExecPython(c.Request.Context(), c.Param("id"), req.Code, execTimeout(req.TimeoutMs))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecResponse(res))
}

func (h *handlers) execShell(c *gin.Context) {
	var req execShellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation(err.Error()))
		return
	}
	res, err := h.deps.Router.ExecShell(c.Request.Context(), c.Param("id"), req.Command, execTimeout(req.TimeoutMs), req.Cwd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecResponse(res))
}

func (h *handlers) execBrowser(c *gin.Context) {
	var req browserStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation(err.Error()))
		return
	}
	step := runtimeclient.BrowserStep{Action: req.Action, Args: req.Args}
	res, err := h.deps.Router.ExecBrowser(c.Request.Context(), c.Param("id"), step, execTimeout(req.TimeoutMs))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, browserStepResultResponse{
		Index:   0,
		Success: res.Success,
		Output:  res.Output,
		Error:   res.Error,
	})
}

// execBrowserBatch streams one JSON object per line, one per completed
// step, as they arrive off the gRPC stream (spec §4.3's ExecBrowserBatch),
// using gin's Stream helper the way the teacher's handler_chat.go streams
// SSE chat deltas.
func (h *handlers) execBrowserBatch(c *gin.Context) {
	var req browserBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation(err.Error()))
		return
	}
	steps := make([]runtimeclient.BrowserStep, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = runtimeclient.BrowserStep{Action: s.Action, Args: s.Args}
	}

	results, err := h.deps.Router.ExecBrowserBatch(c.Request.Context(), c.Param("id"), steps, execTimeout(req.TimeoutMs))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	c.Stream(func(w gin.ResponseWriter) bool {
		result, ok := <-results
		if !ok {
			return false
		}
		resp := browserStepResultResponse{
			Index:   result.Index,
			Success: result.Success,
			Output:  result.Output,
			Error:   result.Error,
		}
		_ = enc.Encode(resp)
		return true
	})
}
