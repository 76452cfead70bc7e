package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/database"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/models"
	"pcbrecon-backend/internal/services"
)

type ProjectsHandler struct {
	projects     *services.ProjectService
	maxBodyBytes int64
	log          *logger.Logger
}

// NewProjectsHandler builds the handler. Request bodies are capped a little
// above the base64 size of a maxImageBytes image.
func NewProjectsHandler(projects *services.ProjectService, maxImageBytes int64, log *logger.Logger) *ProjectsHandler {
	return &ProjectsHandler{
		projects:     projects,
		maxBodyBytes: maxImageBytes*4/3 + 64<<10,
		log:          log.With("component", "ProjectsHandler"),
	}
}

// CreateProject godoc
// @Summary     Create a project
// @Description Uploads a board image, stores the project and runs the initial analysis. Analysis failures leave analysis null.
// @Tags        projects
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.CreateProjectRequest true "Project name and image data URL"
// @Success     201 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /projects [post]
func (h *ProjectsHandler) CreateProject(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, badBody(err))
		return
	}

	project, err := h.projects.CreateProject(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, models.NewProjectResponse(project))
}

// ListProjects godoc
// @Summary     List projects
// @Description Returns projects newest first
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       skip  query int false "Number of projects to skip" default(0)
// @Param       limit query int false "Maximum number of projects (max 100)" default(100)
// @Success     200 {array}  models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /projects [get]
func (h *ProjectsHandler) ListProjects(c *gin.Context) {
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	limit, err := queryInt(c, "limit", database.DefaultListLimit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	projects, err := h.projects.ListProjects(c.Request.Context(), database.ListOptions{Offset: skip, Limit: limit})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	resp := make([]models.ProjectResponse, len(projects))
	for i := range projects {
		resp[i] = models.NewProjectResponse(&projects[i])
	}
	c.JSON(http.StatusOK, resp)
}

// GetProject godoc
// @Summary     Get a project
// @Description Returns the project with its chat transcript in order
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path int true "Project ID"
// @Success     200 {object} models.ProjectWithMessagesResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id} [get]
func (h *ProjectsHandler) GetProject(c *gin.Context) {
	id, err := projectIDParam(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	project, msgs, err := h.projects.GetProject(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, models.ProjectWithMessagesResponse{
		ProjectResponse: models.NewProjectResponse(project),
		ChatMessages:    models.NewChatMessageResponses(msgs),
	})
}

// AnalyzeProject godoc
// @Summary     Re-run analysis
// @Description Runs the board analysis again and replaces the stored result
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path int true "Project ID"
// @Success     200 {object} models.ProjectResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /projects/{project_id}/analysis [post]
func (h *ProjectsHandler) AnalyzeProject(c *gin.Context) {
	id, err := projectIDParam(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	project, err := h.projects.Analyze(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, models.NewProjectResponse(project))
}

// AssessProject godoc
// @Summary     Hardware security assessment
// @Description Lists the board's components, identifies the main microcontroller and assesses debug and security exposure. The report is not stored.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path int true "Project ID"
// @Success     200 {object} models.AssessmentResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /projects/{project_id}/assessment [post]
func (h *ProjectsHandler) AssessProject(c *gin.Context) {
	id, err := projectIDParam(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	assessment, err := h.projects.Assess(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, models.NewAssessmentResponse(assessment))
}

// DeleteProject godoc
// @Summary     Delete a project
// @Description Deletes the project and its whole transcript
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path int true "Project ID"
// @Success     200 {object} models.StatusResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id} [delete]
func (h *ProjectsHandler) DeleteProject(c *gin.Context) {
	id, err := projectIDParam(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if err := h.projects.DeleteProject(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "deleted"})
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name, name+" must be a non-negative integer")
	}
	return n, nil
}
