package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/repository"
)

// RunDataAPI handles the tagged key/value store scoped to a run
type RunDataAPI struct {
	repo   repository.RunDataRepository
	logger observability.Logger
}

func NewRunDataAPI(repo repository.RunDataRepository, logger observability.Logger) *RunDataAPI {
	return &RunDataAPI{repo: repo, logger: logger}
}

// RegisterRoutes registers run-data endpoints under /runs/:runId/data
func (a *RunDataAPI) RegisterRoutes(router *gin.RouterGroup) {
	data := router.Group("/runs/:runId/data")
	data.POST("", a.createRunData)
	data.GET("", a.queryRunData)
	data.DELETE("", a.deleteRunData)
	data.PATCH(":dataId/tags", a.updateTags)
}

func (a *RunDataAPI) createRunData(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	runID, err := parseUUIDParam(c, "runId")
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	var req createRunDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.logger, errors.Wrap(err, errors.KindInvalidInput, "invalid request body"))
		return
	}

	row, err := a.repo.Create(c.Request.Context(), tc, repository.CreateRunDataInput{
		RunID:    runID,
		TaskID:   req.TaskID,
		Key:      req.Key,
		Value:    req.Value,
		Tags:     req.Tags,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (a *RunDataAPI) queryRunData(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	runID, err := parseUUIDParam(c, "runId")
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	query, err := parseRunDataQuery(c)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	page, err := a.repo.Query(c.Request.Context(), tc, runID, query)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, envelope(page))
}

func (a *RunDataAPI) updateTags(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	if _, err := parseUUIDParam(c, "runId"); err != nil {
		respondError(c, a.logger, err)
		return
	}
	dataID, err := parseUUIDParam(c, "dataId")
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	var req updateTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.logger, errors.Wrap(err, errors.KindInvalidInput, "invalid request body"))
		return
	}

	row, err := a.repo.UpdateTags(c.Request.Context(), tc, dataID, repository.TagUpdate{
		Add:    req.Add,
		Remove: req.Remove,
	})
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (a *RunDataAPI) deleteRunData(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	runID, err := parseUUIDParam(c, "runId")
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	var selector repository.RunDataSelector
	if raw := c.Query("key"); raw != "" {
		selector.Key = &raw
	}
	if raw := c.Query("id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, a.logger, errors.InvalidInput("invalid id"))
			return
		}
		selector.ID = &id
	}

	deleted, err := a.repo.Delete(c.Request.Context(), tc, runID, selector)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func parseRunDataQuery(c *gin.Context) (repository.RunDataQuery, error) {
	var query repository.RunDataQuery
	var err error

	query.Key = c.Query("key")
	query.Keys = splitCSV(c.Query("keys"))
	query.KeyStartsWith = splitCSV(c.Query("keyStartsWith"))
	query.KeyPattern = c.Query("keyPattern")
	query.Tags = splitCSV(c.Query("tags"))
	query.TagStartsWith = splitCSV(c.Query("tagStartsWith"))
	query.TagMode = repository.TagMode(c.Query("tagMode"))

	if query.IncludeAll, err = parseBoolQuery(c, "includeAll"); err != nil {
		return query, err
	}
	if query.Limit, err = parseLimitQuery(c, "limit"); err != nil {
		return query, err
	}
	if query.Offset, err = parseIntQuery(c, "offset"); err != nil {
		return query, err
	}
	query.SortBy = c.Query("sortBy")
	query.SortOrder = models.SortOrder(c.Query("sortOrder"))
	return query, nil
}

// splitCSV splits a comma-separated query value, dropping empty segments
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
