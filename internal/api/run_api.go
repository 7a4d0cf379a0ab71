package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/repository"
)

// RunAPI handles run lifecycle endpoints
type RunAPI struct {
	repo   repository.RunRepository
	logger observability.Logger
}

func NewRunAPI(repo repository.RunRepository, logger observability.Logger) *RunAPI {
	return &RunAPI{repo: repo, logger: logger}
}

// RegisterRoutes registers run endpoints under /runs
func (a *RunAPI) RegisterRoutes(router *gin.RouterGroup) {
	runs := router.Group("/runs")
	runs.POST("", a.createRun)
	runs.GET("", a.listRuns)
	runs.GET(":runId", a.getRun)
	runs.PATCH(":runId", a.updateRun)
}

func (a *RunAPI) createRun(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.logger, errors.Wrap(err, errors.KindInvalidInput, "invalid request body"))
		return
	}

	run, err := a.repo.Create(c.Request.Context(), tc, repository.CreateRunInput{
		InputData: req.InputData,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (a *RunAPI) getRun(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	id, err := parseUUIDParam(c, "runId")
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	run, err := a.repo.Get(c.Request.Context(), tc, id)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (a *RunAPI) updateRun(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	id, err := parseUUIDParam(c, "runId")
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	var req updateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.logger, errors.Wrap(err, errors.KindInvalidInput, "invalid request body"))
		return
	}

	run, err := a.repo.Update(c.Request.Context(), tc, id, repository.RunPatch{
		Status:     req.Status,
		OutputData: req.OutputData,
		ErrorData:  req.ErrorData,
		Metadata:   req.Metadata,
	})
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (a *RunAPI) listRuns(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	params, err := parseListRunsParams(c)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	page, err := a.repo.List(c.Request.Context(), tc, params)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, envelope(page))
}

func parseListRunsParams(c *gin.Context) (repository.ListRunsParams, error) {
	var params repository.ListRunsParams
	var err error
	if params.Limit, err = parseLimitQuery(c, "limit"); err != nil {
		return params, err
	}
	if params.Offset, err = parseIntQuery(c, "offset"); err != nil {
		return params, err
	}
	if raw := c.Query("status"); raw != "" {
		status := models.RunStatus(raw)
		params.Status = &status
	}
	params.SortBy = c.Query("sortBy")
	params.SortOrder = models.SortOrder(c.Query("sortOrder"))
	return params, nil
}
