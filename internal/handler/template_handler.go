package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/sebgate/internal/model"
	"github.com/stemsi/sebgate/internal/response"
	"github.com/stemsi/sebgate/internal/service"
	"github.com/stemsi/sebgate/internal/validator"
)

// TemplateHandler handles the admin CRUD endpoints for SEB templates.
type TemplateHandler struct {
	templates *service.TemplateService
}

// NewTemplateHandler creates a new TemplateHandler.
func NewTemplateHandler(templates *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

func templateIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("template_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// List godoc
// GET /api/v1/admin/seb-templates
func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.templates.List(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"templates": templates})
}

// Get godoc
// GET /api/v1/admin/seb-templates/:template_id
func (h *TemplateHandler) Get(c *gin.Context) {
	id, ok := templateIDParam(c)
	if !ok {
		return
	}

	template, err := h.templates.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrTemplateNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"template": template})
}

// Create godoc
// POST /api/v1/admin/seb-templates
func (h *TemplateHandler) Create(c *gin.Context) {
	var req model.CreateSebTemplateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	template, err := h.templates.Create(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrTemplateInvalid) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
				"content": "Konten template bukan dokumen konfigurasi SEB yang valid.",
			})
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"template": template})
}

// Update godoc
// PUT /api/v1/admin/seb-templates/:template_id
// Editing content recompiles every quiz configuration built from this template.
func (h *TemplateHandler) Update(c *gin.Context) {
	id, ok := templateIDParam(c)
	if !ok {
		return
	}

	var req model.UpdateSebTemplateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	template, err := h.templates.Update(c.Request.Context(), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTemplateNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrTemplateInvalid):
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
				"content": "Konten template bukan dokumen konfigurasi SEB yang valid.",
			})
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}
	response.Success(c, http.StatusOK, gin.H{"template": template})
}

// Delete godoc
// DELETE /api/v1/admin/seb-templates/:template_id
// Refused while quiz settings still reference the template.
func (h *TemplateHandler) Delete(c *gin.Context) {
	id, ok := templateIDParam(c)
	if !ok {
		return
	}

	if err := h.templates.Delete(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, service.ErrTemplateNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrTemplateInUse):
			response.Fail(c, http.StatusConflict, response.ErrDependencyExists)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}
