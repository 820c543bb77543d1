// handler_filesystem.go exposes the Capability Router's filesystem
// operations (spec §4.8, §6). Paths are validated the way the teacher's
// internal/api/handler_upload.go validates upload destinations: no
// absolute paths, no ".." segments, to keep a sandbox's workspace from
// being escaped through the HTTP surface.
package api

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shipyard/sandboxd/internal/apperr"
)

func validatePath(p string) error {
	if p == "" {
		return apperr.Validation("path is required")
	}
	if path.IsAbs(p) {
		return apperr.Validation("path must be relative")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return apperr.Validation("path must not contain '..' segments")
		}
	}
	return nil
}

func (h *handlers) readFile(c *gin.Context) {
	p := c.Query("path")
	if err := validatePath(p); err != nil {
		writeError(c, err)
		return
	}
	content, err := h.deps.Router.ReadFile(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": p, "content": content})
}

func (h *handlers) writeFile(c *gin.Context) {
	p := c.Query("path")
	if err := validatePath(p); err != nil {
		writeError(c, err)
		return
	}
	var req writeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation(err.Error()))
		return
	}
	if err := h.deps.Router.WriteFile(c.Request.Context(), c.Param("id"), p, req.Content); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) deleteFile(c *gin.Context) {
	p := c.Query("path")
	if err := validatePath(p); err != nil {
		writeError(c, err)
		return
	}
	if err := h.deps.Router.Delete(c.Request.Context(), c.Param("id"), p); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listFiles(c *gin.Context) {
	p := c.Query("path")
	if p == "" {
		p = "."
	}
	if err := validatePath(p); err != nil {
		writeError(c, err)
		return
	}
	entries, err := h.deps.Router.List(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]fileEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = fileEntryResponse{Path: e.Path, Size: e.Size, IsDir: e.IsDir, ModTime: e.ModTime}
	}
	c.JSON(http.StatusOK, listFilesResponse{Entries: resp})
}

func (h *handlers) uploadFile(c *gin.Context) {
	p := c.Query("path")
	if err := validatePath(p); err != nil {
		writeError(c, err)
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		writeError(c, apperr.Validation("file field is required"))
		return
	}
	f, err := file.Open()
	if err != nil {
		writeError(c, apperr.Validation("could not open uploaded file"))
		return
	}
	defer f.Close()

	if err := h.deps.Router.Upload(c.Request.Context(), c.Param("id"), p, f); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) downloadFile(c *gin.Context) {
	p := c.Query("path")
	if err := validatePath(p); err != nil {
		writeError(c, err)
		return
	}
	rc, err := h.deps.Router.Download(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", "attachment; filename=\""+path.Base(p)+"\"")
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, nil)
}
