// Package api exposes the sandbox lifecycle over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/cache"
	"github.com/Hollayemi/shp-sub005/internal/deploy"
	"github.com/Hollayemi/shp-sub005/internal/sandbox"
	"github.com/Hollayemi/shp-sub005/internal/store"
	"github.com/Hollayemi/shp-sub005/pkg/models"

	"github.com/gin-gonic/gin"
)

// Handlers bundles the orchestrators behind the HTTP surface.
type Handlers struct {
	store       store.Store
	provisioner *sandbox.Provisioner
	devserver   *sandbox.DevServerController
	snapshots   *sandbox.SnapshotManager
	health      *sandbox.HealthLoop
	pipeline    *deploy.Pipeline
	statuses    *cache.StatusCache
}

func NewHandlers(
	st store.Store,
	prov *sandbox.Provisioner,
	dev *sandbox.DevServerController,
	snaps *sandbox.SnapshotManager,
	health *sandbox.HealthLoop,
	pipeline *deploy.Pipeline,
	statuses *cache.StatusCache,
) *Handlers {
	return &Handlers{
		store:       st,
		provisioner: prov,
		devserver:   dev,
		snapshots:   snaps,
		health:      health,
		pipeline:    pipeline,
		statuses:    statuses,
	}
}

// Register wires the API routes onto the router group.
func (h *Handlers) Register(r *gin.RouterGroup) {
	r.POST("/projects", h.createProject)
	r.GET("/projects/:id", h.getProject)

	r.POST("/projects/:id/sandbox", h.ensureSandbox)
	r.DELETE("/projects/:id/sandbox", h.terminateSandbox)
	r.GET("/projects/:id/sandbox/health", h.sandboxHealth)
	r.POST("/projects/:id/sandbox/refresh", h.refreshSandbox)

	r.POST("/projects/:id/fragments", h.createFragment)
	r.PUT("/projects/:id/fragments/:fragmentID/files", h.updateFragmentFiles)
	r.POST("/projects/:id/fragments/:fragmentID/finalize", h.finalizeFragment)

	r.POST("/projects/:id/snapshot", h.createSnapshot)
	r.POST("/projects/:id/deploy", h.deployProject)
}

func projectID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, false
	}
	return uint(id), true
}

func fragmentID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("fragmentID"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fragment id"})
		return 0, false
	}
	return uint(id), true
}

type createProjectRequest struct {
	Name         string `json:"name" binding:"required"`
	Template     string `json:"template"`
	ImportSource string `json:"import_source"`
}

func (h *Handlers) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project := &models.Project{
		Name:         req.Name,
		Template:     req.Template,
		ImportSource: models.ImportSource(req.ImportSource),
		BuildStatus:  models.BuildAwaitingSandbox,
	}
	if project.Template == "" {
		project.Template = "react"
	}

	if err := h.store.CreateProject(c.Request.Context(), project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *Handlers) getProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	project, err := h.store.GetProject(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, project)
}

type ensureSandboxRequest struct {
	ForceNew        bool   `json:"force_new"`
	RecoveryImageID string `json:"recovery_image_id"`
	Template        string `json:"template"`
}

func (h *Handlers) ensureSandbox(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	var req ensureSandboxRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	handle, err := h.provisioner.GetOrCreate(ctx, id, sandbox.ProvisionOptions{
		ForceNew:        req.ForceNew,
		RecoveryImageID: req.RecoveryImageID,
		TemplateName:    req.Template,
	})
	if err != nil {
		status := http.StatusBadGateway
		var cfgErr *sandbox.ConfigurationError
		if errors.As(err, &cfgErr) {
			status = http.StatusUnprocessableEntity
		}
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	url, err := h.devserver.Start(ctx, id, handle.ID, sandbox.DevServerPort)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	ready := h.devserver.WaitUntilReady(ctx, handle.ID)

	h.health.Track(id, sandbox.StateHealthy)
	if ready {
		// Advisory lifecycle state; a failed write must not fail a
		// live sandbox.
		_ = h.store.SetBuildStatus(ctx, id, models.BuildReady)
	}

	c.JSON(http.StatusOK, gin.H{
		"sandbox_id": handle.ID,
		"url":        url,
		"ready":      ready,
		"expires_at": handle.ExpiresAt,
	})
}

func (h *Handlers) terminateSandbox(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	if err := h.provisioner.Terminate(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.health.Untrack(id)
	h.statuses.Invalidate(c.Request.Context(), id)

	c.Status(http.StatusNoContent)
}

func (h *Handlers) sandboxHealth(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if status, err := h.statuses.Get(ctx, id); err == nil {
		c.JSON(http.StatusOK, status)
		return
	}

	state := h.health.Check(ctx, id)
	status, err := h.statuses.Get(ctx, id)
	if err != nil {
		status = &cache.SandboxStatus{ProjectID: id, State: string(state)}
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handlers) refreshSandbox(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	state := h.health.Refresh(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"state": string(state)})
}

type createFragmentRequest struct {
	Title string            `json:"title"`
	Files map[string]string `json:"files"`
}

func (h *Handlers) createFragment(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	var req createFragmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	fragment := &models.Fragment{
		ProjectID: id,
		Title:     req.Title,
		Files:     req.Files,
	}
	if err := h.store.CreateFragment(ctx, fragment); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.SetActiveFragment(ctx, id, fragment.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = h.store.SetBuildStatus(ctx, id, models.BuildGenerating)
	c.JSON(http.StatusCreated, fragment)
}

type updateFilesRequest struct {
	Files map[string]string `json:"files" binding:"required"`
}

// updateFragmentFiles replaces a working fragment's file map and pushes
// the changed files into the live sandbox. A missing fragment is an
// error; fragments are never created implicitly here.
func (h *Handlers) updateFragmentFiles(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}
	fragID, ok := fragmentID(c)
	if !ok {
		return
	}

	var req updateFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.store.UpdateWorkingFiles(ctx, fragID, req.Files); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "fragment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = h.store.SetBuildStatus(ctx, id, models.BuildGenerating)

	// Mirror the update into the running sandbox when there is one.
	project, err := h.store.GetProject(ctx, id)
	if err == nil && project.HasSandbox() {
		if err := h.provisioner.Restorer().Restore(ctx, project.SandboxID, req.Files); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}

	c.Status(http.StatusNoContent)
}

type finalizeFragmentRequest struct {
	Title      string `json:"title" binding:"required"`
	CommitHash string `json:"commit_hash"`
}

func (h *Handlers) finalizeFragment(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}
	fragID, ok := fragmentID(c)
	if !ok {
		return
	}

	var req finalizeFragmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.store.FinalizeFragment(ctx, fragID, req.Title, req.CommitHash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "fragment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Generation is over; the dev server is already serving the
	// finalized files.
	_ = h.store.SetBuildStatus(ctx, id, models.BuildReady)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) createSnapshot(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	project, err := h.store.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !project.HasSandbox() {
		c.JSON(http.StatusConflict, gin.H{"error": "project has no sandbox"})
		return
	}
	if project.ActiveFragmentID == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "project has no active fragment"})
		return
	}

	imageID, err := h.snapshots.Create(ctx, id, project.SandboxID, *project.ActiveFragmentID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_id": imageID})
}

type deployRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) deployProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	var req deployRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	project, err := h.store.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !project.HasSandbox() {
		c.JSON(http.StatusConflict, gin.H{"error": "project has no sandbox"})
		return
	}

	name := req.Name
	if name == "" {
		name = project.Name
	}

	result, err := h.pipeline.Deploy(ctx, id, project.SandboxID, name)
	if err != nil {
		var buildErr *deploy.BuildError
		if errors.As(err, &buildErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "output": buildErr.Output})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":         result.URL,
		"strategy":    result.Strategy,
		"deployed_at": time.Now().UTC(),
	})
}
