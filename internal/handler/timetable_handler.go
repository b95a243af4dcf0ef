package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/jobs"
	"github.com/noah-isme/timetable-api/pkg/response"
)

type timetableGenerator interface {
	Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error)
}

type generationJobs interface {
	Enqueue(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerationJobResponse, error)
	Status(ctx context.Context, id string) (*jobs.Status, error)
}

type timetableQueries interface {
	List(ctx context.Context, query dto.TimetableQuery) ([]models.Timetable, error)
	Get(ctx context.Context, query dto.TimetableQuery, batch int) (*models.Timetable, error)
	Delete(ctx context.Context, query dto.TimetableQuery) (*dto.DeleteTimetablesResponse, error)
	Export(ctx context.Context, query dto.TimetableQuery, batch int, format string) (*dto.ExportFile, error)
}

// TimetableHandler exposes generation and timetable endpoints.
type TimetableHandler struct {
	generator timetableGenerator
	jobs      generationJobs
	queries   timetableQueries
}

// NewTimetableHandler constructs the handler. jobs may be nil, in which case async requests run inline.
func NewTimetableHandler(generator timetableGenerator, jobs generationJobs, queries timetableQueries) *TimetableHandler {
	return &TimetableHandler{generator: generator, jobs: jobs, queries: queries}
}

// Generate godoc
// @Summary Generate timetables for every batch of a year, semester and specialization
// @Description Places labs, tutorials and theory sessions, allocates rooms and labs and commits the results together with the occupancy ledger. Set async to queue the run.
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Generation request"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /timetables/generate [post]
func (h *TimetableHandler) Generate(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	if req.Async && h.jobs != nil {
		ack, err := h.jobs.Enqueue(c.Request.Context(), req)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, ack)
		return
	}
	result, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result, map[string]interface{}{"warnings": len(result.Warnings)})
}

// JobStatus godoc
// @Summary Get the state of an asynchronous generation
// @Tags Timetables
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/jobs/{id} [get]
func (h *TimetableHandler) JobStatus(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "asynchronous generation is disabled"))
		return
	}
	status, err := h.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// List godoc
// @Summary List the timetables of a year, semester and specialization
// @Tags Timetables
// @Produce json
// @Param year query int true "Year"
// @Param semester query int true "Semester"
// @Param specialization query string false "Specialization"
// @Success 200 {object} response.Envelope
// @Router /timetables [get]
func (h *TimetableHandler) List(c *gin.Context) {
	var query dto.TimetableQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid timetable query"))
		return
	}
	result, err := h.queries.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, map[string]interface{}{"total": len(result)})
}

// Get godoc
// @Summary Get one batch timetable
// @Tags Timetables
// @Produce json
// @Param year path int true "Year"
// @Param semester path int true "Semester"
// @Param batch path int true "Batch"
// @Param specialization query string false "Specialization"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/{year}/{semester}/batches/{batch} [get]
func (h *TimetableHandler) Get(c *gin.Context) {
	query, batch, err := batchParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.queries.Get(c.Request.Context(), query, batch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Export godoc
// @Summary Download one batch timetable as CSV or PDF
// @Tags Timetables
// @Produce text/csv
// @Produce application/pdf
// @Param year path int true "Year"
// @Param semester path int true "Semester"
// @Param batch path int true "Batch"
// @Param specialization query string false "Specialization"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /timetables/{year}/{semester}/batches/{batch}/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	query, batch, err := batchParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.export(c, query, batch)
}

// ExportAll godoc
// @Summary Download every batch timetable of a semester as CSV or PDF
// @Tags Timetables
// @Produce text/csv
// @Produce application/pdf
// @Param year path int true "Year"
// @Param semester path int true "Semester"
// @Param specialization query string false "Specialization"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /timetables/{year}/{semester}/export [get]
func (h *TimetableHandler) ExportAll(c *gin.Context) {
	query, err := keyParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.export(c, query, 0)
}

// Delete godoc
// @Summary Delete the timetables of a semester and release their ledger bookings
// @Tags Timetables
// @Produce json
// @Param year path int true "Year"
// @Param semester path int true "Semester"
// @Param specialization query string false "Specialization"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/{year}/{semester} [delete]
func (h *TimetableHandler) Delete(c *gin.Context) {
	query, err := keyParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.queries.Delete(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

func (h *TimetableHandler) export(c *gin.Context, query dto.TimetableQuery, batch int) {
	file, err := h.queries.Export(c.Request.Context(), query, batch, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func keyParams(c *gin.Context) (dto.TimetableQuery, error) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		return dto.TimetableQuery{}, appErrors.Clone(appErrors.ErrValidation, "year must be a number")
	}
	semester, err := strconv.Atoi(c.Param("semester"))
	if err != nil {
		return dto.TimetableQuery{}, appErrors.Clone(appErrors.ErrValidation, "semester must be a number")
	}
	return dto.TimetableQuery{Year: year, Semester: semester, Specialization: c.Query("specialization")}, nil
}

func batchParams(c *gin.Context) (dto.TimetableQuery, int, error) {
	query, err := keyParams(c)
	if err != nil {
		return query, 0, err
	}
	batch, err := strconv.Atoi(c.Param("batch"))
	if err != nil {
		return query, 0, appErrors.Clone(appErrors.ErrValidation, "batch must be a number")
	}
	return query, batch, nil
}
