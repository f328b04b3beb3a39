package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/sebgate/internal/model"
	"github.com/stemsi/sebgate/internal/response"
	"github.com/stemsi/sebgate/internal/service"
	"github.com/stemsi/sebgate/internal/validator"
)

// SebSettingsHandler handles the admin endpoints for per-quiz SEB settings
// and uploaded configuration files.
type SebSettingsHandler struct {
	settings *service.SebSettingsService
	uploads  *service.SebConfigStore
}

// NewSebSettingsHandler creates a new SebSettingsHandler.
func NewSebSettingsHandler(settings *service.SebSettingsService, uploads *service.SebConfigStore) *SebSettingsHandler {
	return &SebSettingsHandler{settings: settings, uploads: uploads}
}

func quizIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

// GetSettings godoc
// GET /api/v1/admin/quizzes/:id/seb-settings
// Returns the stored settings (or the system defaults when none exist) plus
// the derived config key.
func (h *SebSettingsHandler) GetSettings(c *gin.Context) {
	quizID, ok := quizIDParam(c)
	if !ok {
		return
	}

	settings, err := h.settings.GetByQuizID(c.Request.Context(), quizID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if settings == nil {
		settings = model.DefaultSebSettings(quizID)
	}

	configKey, err := h.settings.GetConfigKeyByQuizID(c.Request.Context(), quizID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"settings":            settings,
		"config_key":          configKey,
		"has_uploaded_config": h.uploads.HasUploadedConfig(quizID),
	})
}

// SaveSettings godoc
// PUT /api/v1/admin/quizzes/:id/seb-settings
// Creates or replaces the settings record and recompiles the cached
// configuration before responding.
func (h *SebSettingsHandler) SaveSettings(c *gin.Context) {
	quizID, ok := quizIDParam(c)
	if !ok {
		return
	}

	var req model.SaveSebSettingsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	record := req.ToSettings(quizID)
	if err := h.settings.Save(c.Request.Context(), record); err != nil {
		var vErr *service.ValidationError
		if errors.As(err, &vErr) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, vErr.Fields)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	configKey, err := h.settings.GetConfigKeyByQuizID(c.Request.Context(), quizID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"settings":   record,
		"config_key": configKey,
	})
}

// DeleteSettings godoc
// DELETE /api/v1/admin/quizzes/:id/seb-settings
// Removes the settings record and all cached artifacts.
func (h *SebSettingsHandler) DeleteSettings(c *gin.Context) {
	quizID, ok := quizIDParam(c)
	if !ok {
		return
	}

	if err := h.settings.Delete(c.Request.Context(), quizID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// UploadConfig godoc
// POST /api/v1/admin/quizzes/:id/seb-config
// Stores an uploaded .seb configuration file for UPLOADED_CONFIG mode and
// recompiles the cached artifacts.
func (h *SebSettingsHandler) UploadConfig(c *gin.Context) {
	quizID, ok := quizIDParam(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	defer file.Close()

	if err := h.uploads.Save(file, header, quizID); err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFileType):
			response.Fail(c, http.StatusBadRequest, response.ErrUnsupportedFile)
		case errors.Is(err, service.ErrFileTooLarge):
			response.Fail(c, http.StatusBadRequest, response.ErrFileTooLarge)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	if err := h.settings.RebuildForUpload(c.Request.Context(), quizID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"uploaded": true})
}

// DeleteConfig godoc
// DELETE /api/v1/admin/quizzes/:id/seb-config
// Removes the uploaded configuration file. Settings in UPLOADED_CONFIG mode
// fall back to MANUAL behavior afterwards.
func (h *SebSettingsHandler) DeleteConfig(c *gin.Context) {
	quizID, ok := quizIDParam(c)
	if !ok {
		return
	}

	if err := h.uploads.Delete(quizID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if err := h.settings.RebuildForUpload(c.Request.Context(), quizID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// DownloadConfig godoc
// GET /api/v1/student/quizzes/:id/seb-config
// Serves the compiled configuration as a .seb file the student opens to
// launch Safe Exam Browser. Not SEB-guarded: the download happens before
// SEB is running.
func (h *SebSettingsHandler) DownloadConfig(c *gin.Context) {
	quizID, ok := quizIDParam(c)
	if !ok {
		return
	}

	document, err := h.settings.GetConfigByQuizID(c.Request.Context(), quizID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if document == nil {
		response.Fail(c, http.StatusNotFound, response.ErrSebConfigNotConfigured)
		return
	}

	filename := fmt.Sprintf("quiz-%d.seb", quizID)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/seb", document)
}
