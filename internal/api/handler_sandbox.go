// handler_sandbox.go is the teacher's handler_session.go CRUD shape
// generalized from "agent session" to "sandbox" (spec §6).
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shipyard/sandboxd/internal/apperr"
	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/idempotency"
)

type handlers struct {
	deps Deps
}

// ownerHeader carries the caller identity. Authentication is an external
// collaborator out of this core's scope (spec §1); this header is the
// narrow seam an upstream auth layer is expected to populate.
const ownerHeader = "X-Owner-Id"

func owner(c *gin.Context) string {
	if o := c.GetHeader(ownerHeader); o != "" {
		return o
	}
	return "anonymous"
}

func toDocument(sb *domain.Sandbox, status domain.SandboxStatus) SandboxDocument {
	return SandboxDocument{
		ID:               sb.ID,
		Owner:            sb.Owner,
		Profile:          sb.ProfileID,
		WorkspaceID:      sb.WorkspaceID,
		Status:           string(status),
		CreatedAt:        sb.CreatedAt,
		LastActiveAt:     sb.LastActiveAt,
		ExpiresAt:        sb.ExpiresAt,
		CurrentSessionID: sb.CurrentSessionID,
	}
}

func (h *handlers) computeStatus(c *gin.Context, sb *domain.Sandbox) domain.SandboxStatus {
	var sess *domain.Session
	if sb.CurrentSessionID != nil {
		sess, _ = h.deps.Store.Sessions().Get(c.Request.Context(), *sb.CurrentSessionID)
	}
	return domain.ComputeSandboxStatus(sb, sess, h.deps.Clock.Now())
}

// createSandbox handles POST /sandboxes, honouring Idempotency-Key (spec
// §4.9's create-sandbox contract).
func (h *handlers) createSandbox(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperr.Validation("failed to read request body"))
		return
	}

	var req createSandboxRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil || req.Profile == "" {
		writeError(c, apperr.Validation("profile is required"))
		return
	}

	own := owner(c)
	idemKey := c.GetHeader("Idempotency-Key")
	bodyHash := idempotency.HashBody(bodyBytes)

	if idemKey != "" {
		cached, err := h.deps.Idempotent.Check(c.Request.Context(), own, idemKey, bodyHash)
		if err != nil {
			writeError(c, err)
			return
		}
		if cached != nil {
			c.Data(cached.ResponseStatus, "application/json", cached.ResponseBody)
			return
		}
	}

	var ttl *time.Duration
	if req.TTL != nil && *req.TTL > 0 {
		d := time.Duration(*req.TTL) * time.Second
		ttl = &d
	}

	var sb *domain.Sandbox
	if req.WorkspaceID == "" {
		sb, err = h.deps.SandboxMgr.ClaimWarmSandbox(c.Request.Context(), own, req.Profile, ttl)
		if err != nil {
			writeError(c, err)
			return
		}
	}
	if sb == nil {
		sb, err = h.deps.SandboxMgr.Create(c.Request.Context(), own, req.Profile, req.WorkspaceID, ttl)
		if err != nil {
			writeError(c, err)
			return
		}
		if h.deps.WarmupQueue != nil {
			h.deps.WarmupQueue.Enqueue(sb.ID, own)
		}
	}

	doc := toDocument(sb, h.computeStatus(c, sb))

	if idemKey != "" {
		respBody, _ := json.Marshal(doc)
		_ = h.deps.Idempotent.Save(c.Request.Context(), own, idemKey, bodyHash, http.StatusCreated, respBody, 24*time.Hour)
	}

	c.JSON(http.StatusCreated, doc)
}

func (h *handlers) listSandboxes(c *gin.Context) {
	own := owner(c)
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	cursor := c.Query("cursor")

	var statusFilter *domain.SandboxStatus
	if v := c.Query("status"); v != "" {
		s := domain.SandboxStatus(v)
		statusFilter = &s
	}

	results, nextCursor, err := h.deps.SandboxMgr.List(c.Request.Context(), own, statusFilter, limit, cursor)
	if err != nil {
		writeError(c, err)
		return
	}

	docs := make([]SandboxDocument, len(results))
	for i, sb := range results {
		docs[i] = toDocument(sb, h.computeStatus(c, sb))
	}
	c.JSON(http.StatusOK, listSandboxesResponse{Sandboxes: docs, Cursor: nextCursor})
}

func (h *handlers) getSandbox(c *gin.Context) {
	sb, err := h.deps.Store.Sandboxes().GetAny(c.Request.Context(), c.Param("id"), owner(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if sb.DeletedAt != nil {
		writeError(c, apperr.NotFound("sandbox not found"))
		return
	}
	c.JSON(http.StatusOK, toDocument(sb, h.computeStatus(c, sb)))
}

func (h *handlers) keepalive(c *gin.Context) {
	if err := h.deps.SandboxMgr.Keepalive(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) stopSandbox(c *gin.Context) {
	if err := h.deps.SandboxMgr.Stop(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) deleteSandbox(c *gin.Context) {
	if err := h.deps.SandboxMgr.Delete(c.Request.Context(), c.Param("id"), "api.delete", requestID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) extendTTL(c *gin.Context) {
	var req extendTTLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation(err.Error()))
		return
	}

	sb, err := h.deps.SandboxMgr.ExtendTTL(c.Request.Context(), c.Param("id"), owner(c), time.Duration(req.ExtendBySeconds)*time.Second)
	if err != nil {
		if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindValidation {
			code := "sandbox_ttl_infinite"
			if ae.Message == "sandbox already expired" {
				code = "sandbox_expired"
			}
			writeErrorCode(c, http.StatusConflict, code, ae.Message)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, extendTTLResponse{ExpiresAt: sb.ExpiresAt})
}

func (h *handlers) listProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": h.deps.Profiles.All()})
}
